package nflow

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

func buildCoupling(t *testing.T, dim, hidden int, seed int64) *CouplingLayer {
	t.Helper()
	layer := Coupling(dim).
		WithMask(CheckerboardMask(1, dim)).
		WithHidden(hidden).
		WithInitializer(HeUniform(1.0)).
		Build().(*CouplingLayer)
	require.NoError(t, layer.build(rand.New(rand.NewSource(seed))))
	return layer
}

// randomizeConditioner gives the zero-initialized final layer nonzero
// weights so the transform is no longer the identity.
func randomizeConditioner(c *CouplingLayer, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	c.w3.fillRandNorm(0, 0.2, rng)
	c.b3.fillRandNorm(0, 0.2, rng)
}

func TestCouplingIdentityAtInit(t *testing.T) {
	layer := buildCoupling(t, 8, 16, 1)

	z := newTensor(3, 8)
	z.fillRandNorm(0, 2, rand.New(rand.NewSource(2)))
	ldj := newTensor(3)

	out, ldjOut, err := layer.transform(z, ldj, false)
	require.NoError(t, err)

	// Zero final weights mean tanh(h)=0 and t=0: exactly the identity.
	for i := range z.data {
		assert.Equal(t, z.data[i], out.data[i], "dim %d", i)
	}
	for i := range ldjOut.data {
		assert.Equal(t, 0.0, ldjOut.data[i], "example %d", i)
	}
}

func TestCouplingInvertible(t *testing.T) {
	layer := buildCoupling(t, 8, 16, 3)
	randomizeConditioner(layer, 4)

	z := newTensor(5, 8)
	z.fillRandNorm(0, 1, rand.New(rand.NewSource(5)))
	ldj := newTensor(5)

	fwd, _, err := layer.transform(z, ldj, false)
	require.NoError(t, err)

	back, _, err := layer.transform(fwd, newTensor(5), true)
	require.NoError(t, err)

	for i := range z.data {
		assert.InDelta(t, z.data[i], back.data[i], 1e-9, "dim %d", i)
	}
}

func TestCouplingMaskedDimsUnchanged(t *testing.T) {
	layer := buildCoupling(t, 8, 16, 6)
	randomizeConditioner(layer, 7)

	z := newTensor(2, 8)
	z.fillRandNorm(0, 1, rand.New(rand.NewSource(8)))

	out, _, err := layer.transform(z, newTensor(2), false)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		for j := 0; j < 8; j++ {
			if layer.mask.At(j) == 1 {
				assert.Equal(t, z.data[i*8+j], out.data[i*8+j], "masked dim %d must pass through", j)
			}
		}
	}
}

func TestCouplingLdjMatchesLogScale(t *testing.T) {
	layer := buildCoupling(t, 8, 16, 9)
	randomizeConditioner(layer, 10)

	z := newTensor(2, 8)
	z.fillRandNorm(0, 1, rand.New(rand.NewSource(11)))
	ldj := newTensor(2)
	ldj.data[0] = 0.5 // prior accumulation must be preserved

	_, ldjOut, err := layer.transform(z, ldj, false)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		want := ldj.data[i]
		for j := 0; j < 8; j++ {
			want += (1 - layer.mask.At(j)) * layer.logScale.data[i*8+j]
		}
		assert.InDelta(t, want, ldjOut.data[i], 1e-12, "example %d", i)
	}
}

func TestCouplingReverseLeavesLdjUntouched(t *testing.T) {
	layer := buildCoupling(t, 8, 16, 12)
	randomizeConditioner(layer, 13)

	z := newTensor(2, 8)
	z.fillRandNorm(0, 1, rand.New(rand.NewSource(14)))
	ldj := newTensor(2)
	ldj.data[0] = 1.25
	ldj.data[1] = -0.75

	_, ldjOut, err := layer.transform(z, ldj, true)
	require.NoError(t, err)
	assert.Equal(t, ldj.data, ldjOut.data)
}

func TestCouplingDimensionMismatch(t *testing.T) {
	layer := buildCoupling(t, 8, 16, 15)

	z := newTensor(2, 6)
	_, _, err := layer.transform(z, newTensor(2), false)
	require.Error(t, err)
}

func TestCouplingBuildValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	err := Coupling(8).WithHidden(16).WithInitializer(HeUniform(1.0)).Build().(*CouplingLayer).build(rng)
	require.Error(t, err, "missing mask")

	err = Coupling(8).WithMask(CheckerboardMask(1, 8)).WithInitializer(HeUniform(1.0)).Build().(*CouplingLayer).build(rng)
	require.Error(t, err, "missing hidden width")

	err = Coupling(8).WithMask(CheckerboardMask(1, 4)).WithHidden(16).WithInitializer(HeUniform(1.0)).Build().(*CouplingLayer).build(rng)
	require.Error(t, err, "mask length mismatch")
}

// TestCouplingBackward verifies the hand-derived adjoint against central
// finite differences over every parameter.
func TestCouplingBackward(t *testing.T) {
	const (
		dim    = 4
		hidden = 6
		batch  = 3
	)

	layer := buildCoupling(t, dim, hidden, 16)
	randomizeConditioner(layer, 17)

	z := newTensor(batch, dim)
	z.fillRandNorm(0, 1, rand.New(rand.NewSource(18)))

	// Fixed cotangents exercise both the output and the ldj adjoint paths.
	gradZ := newTensor(batch, dim)
	gradZ.fillRandNorm(0, 1, rand.New(rand.NewSource(19)))
	gradLdj := newTensor(batch)
	gradLdj.fillRandNorm(0, 1, rand.New(rand.NewSource(20)))

	params := layer.parameters()
	var x0 []float64
	for _, p := range params {
		x0 = append(x0, p.data...)
	}

	setParams := func(x []float64) {
		off := 0
		for _, p := range params {
			copy(p.data, x[off:off+len(p.data)])
			off += len(p.data)
		}
	}

	loss := func(x []float64) float64 {
		setParams(x)
		out, ldjOut, err := layer.transform(z, newTensor(batch), false)
		require.NoError(t, err)
		sum := 0.0
		for i := range out.data {
			sum += gradZ.data[i] * out.data[i]
		}
		for i := range ldjOut.data {
			sum += gradLdj.data[i] * ldjOut.data[i]
		}
		return sum
	}

	numerical := fd.Gradient(nil, loss, x0, &fd.Settings{Formula: fd.Central})

	// Analytic gradients from the adjoint, with caches matching x0.
	setParams(x0)
	_, _, err := layer.transform(z, newTensor(batch), false)
	require.NoError(t, err)
	for _, g := range layer.gradients() {
		g.zero()
	}
	_, err = layer.backward(gradZ, gradLdj)
	require.NoError(t, err)

	var analytic []float64
	for _, g := range layer.gradients() {
		analytic = append(analytic, g.data...)
	}

	require.Equal(t, len(numerical), len(analytic))
	for i := range numerical {
		assert.InDelta(t, numerical[i], analytic[i], 1e-5, "parameter %d", i)
	}
}

// TestCouplingBackwardInput checks ∂L/∂z against finite differences.
func TestCouplingBackwardInput(t *testing.T) {
	const (
		dim    = 4
		hidden = 6
		batch  = 2
	)

	layer := buildCoupling(t, dim, hidden, 21)
	randomizeConditioner(layer, 22)

	z0 := newTensor(batch, dim)
	z0.fillRandNorm(0, 1, rand.New(rand.NewSource(23)))

	gradZ := newTensor(batch, dim)
	gradZ.fillRandNorm(0, 1, rand.New(rand.NewSource(24)))
	gradLdj := newTensor(batch)
	gradLdj.fillRandNorm(0, 1, rand.New(rand.NewSource(25)))

	loss := func(x []float64) float64 {
		z := newTensor(batch, dim)
		copy(z.data, x)
		out, ldjOut, err := layer.transform(z, newTensor(batch), false)
		require.NoError(t, err)
		sum := 0.0
		for i := range out.data {
			sum += gradZ.data[i] * out.data[i]
		}
		for i := range ldjOut.data {
			sum += gradLdj.data[i] * ldjOut.data[i]
		}
		return sum
	}

	numerical := fd.Gradient(nil, loss, z0.data, &fd.Settings{Formula: fd.Central})

	_, _, err := layer.transform(z0, newTensor(batch), false)
	require.NoError(t, err)
	for _, g := range layer.gradients() {
		g.zero()
	}
	gradIn, err := layer.backward(gradZ, gradLdj)
	require.NoError(t, err)

	for i := range numerical {
		assert.InDelta(t, numerical[i], gradIn.data[i], 1e-5, "input dim %d", i)
	}
}

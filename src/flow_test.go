package nflow

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFlow(t *testing.T, h, w, nFlows, hidden int) *Flow {
	t.Helper()
	f, err := NewFlow(FlowConfig{
		Height: h,
		Width:  w,
		NFlows: nFlows,
		Hidden: hidden,
		Seed:   42,
	})
	require.NoError(t, err)
	return f
}

func randomizeFlow(f *Flow, seed int64) {
	for i, layer := range f.layers {
		randomizeConditioner(layer.(*CouplingLayer), seed+int64(i))
	}
}

func TestFlowLayerCount(t *testing.T) {
	f := buildFlow(t, 4, 4, 3, 8)
	assert.Len(t, f.layers, 6)
	assert.Equal(t, 16, f.Dim())
}

func TestFlowAlternatingMasks(t *testing.T) {
	f := buildFlow(t, 4, 4, 2, 8)

	for i, layer := range f.layers {
		c := layer.(*CouplingLayer)
		if i%2 == 0 {
			assert.Equal(t, 1.0, c.mask.At(0), "layer %d uses the base mask", i)
		} else {
			assert.Equal(t, 0.0, c.mask.At(0), "layer %d uses the complement", i)
		}
	}
}

func TestFlowIdentityAtInit(t *testing.T) {
	f := buildFlow(t, 4, 4, 2, 8)

	z := newTensor(3, 16)
	z.fillRandNorm(0, 1, rand.New(rand.NewSource(1)))

	out, ldj, err := f.apply(z, newTensor(3), false)
	require.NoError(t, err)

	for i := range z.data {
		assert.Equal(t, z.data[i], out.data[i])
	}
	for i := range ldj.data {
		assert.Equal(t, 0.0, ldj.data[i])
	}
}

func TestFlowInvertible(t *testing.T) {
	f := buildFlow(t, 4, 4, 2, 8)
	randomizeFlow(f, 2)

	z := newTensor(5, 16)
	z.fillRandNorm(0, 1, rand.New(rand.NewSource(3)))

	fwd, _, err := f.apply(z, newTensor(5), false)
	require.NoError(t, err)

	back, _, err := f.apply(fwd, newTensor(5), true)
	require.NoError(t, err)

	for i := range z.data {
		assert.InDelta(t, z.data[i], back.data[i], 1e-5, "dim %d", i)
	}
}

func TestFlowCompositionOrderMatters(t *testing.T) {
	f := buildFlow(t, 4, 4, 2, 8)
	randomizeFlow(f, 4)

	z := newTensor(2, 16)
	z.fillRandNorm(0, 1, rand.New(rand.NewSource(5)))

	fwd, _, err := f.apply(z, newTensor(2), false)
	require.NoError(t, err)

	// Applying the layers forward again instead of reversed must not invert.
	notBack, _, err := f.apply(fwd, newTensor(2), false)
	require.NoError(t, err)

	maxDiff := 0.0
	for i := range z.data {
		d := notBack.data[i] - z.data[i]
		if d < 0 {
			d = -d
		}
		if d > maxDiff {
			maxDiff = d
		}
	}
	assert.Greater(t, maxDiff, 1e-6)
}

func TestFlowLdjAccumulatesAcrossLayers(t *testing.T) {
	f := buildFlow(t, 4, 4, 2, 8)
	randomizeFlow(f, 6)

	z := newTensor(2, 16)
	z.fillRandNorm(0, 1, rand.New(rand.NewSource(7)))

	// Per-layer sums must add up to the composed ldj.
	want := newTensor(2)
	cur := z
	for _, layer := range f.layers {
		var err error
		cur, want, err = layer.transform(cur, want, false)
		require.NoError(t, err)
	}

	_, ldj, err := f.apply(z, newTensor(2), false)
	require.NoError(t, err)
	for i := range ldj.data {
		assert.InDelta(t, want.data[i], ldj.data[i], 1e-12)
	}
}

func TestFlowParameterAggregation(t *testing.T) {
	f := buildFlow(t, 4, 4, 2, 8)

	params := f.parameters()
	grads := f.gradients()
	require.Len(t, params, 6*len(f.layers))
	require.Len(t, grads, len(params))
	for i := range params {
		assert.Equal(t, params[i].size(), grads[i].size(), "grad buffer %d matches its parameter", i)
	}
}

func TestFlowConfigValidation(t *testing.T) {
	_, err := NewFlow(FlowConfig{Height: 0, Width: 4, NFlows: 1, Hidden: 8})
	require.Error(t, err)

	_, err = NewFlow(FlowConfig{Height: 4, Width: 4, NFlows: 0, Hidden: 8})
	require.Error(t, err)

	_, err = NewFlow(FlowConfig{Height: 4, Width: 4, NFlows: 1, Hidden: 0})
	require.Error(t, err)
}

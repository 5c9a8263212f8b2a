package nflow

import (
	"errors"
	"math"
	"math/rand"
)

// CouplingLayer is one invertible affine coupling transform. The masked half
// of the input passes through unchanged and feeds a conditioner MLP
// (Linear-ReLU-Linear-ReLU-Linear) whose output splits into a shift t and a
// pre-scale h per unmasked dimension. The log-scale is tanh(h), bounding it
// to (−1,1) for stability.
//
// The final MLP layer is zero-initialized so a fresh layer is exactly the
// identity transform.
type CouplingLayer struct {
	dim         int
	hidden      int
	mask        *Mask
	initializer Initializer

	w1, b1                       *tensor // dim -> hidden
	w2, b2                       *tensor // hidden -> hidden
	w3, b3                       *tensor // hidden -> 2*dim
	gw1, gb1, gw2, gb2, gw3, gb3 *tensor

	// cached activations from the last forward transform, needed by backward
	zIn        *tensor
	masked     *tensor
	pre1, act1 *tensor
	pre2, act2 *tensor
	logScale   *tensor

	built bool
}

// CouplingBuilder for fluent construction
type CouplingBuilder struct {
	layer *CouplingLayer
}

func Coupling(dim int) *CouplingBuilder {
	return &CouplingBuilder{
		layer: &CouplingLayer{dim: dim},
	}
}

func (b *CouplingBuilder) WithMask(mask *Mask) *CouplingBuilder {
	b.layer.mask = mask
	return b
}

func (b *CouplingBuilder) WithHidden(hidden int) *CouplingBuilder {
	b.layer.hidden = hidden
	return b
}

func (b *CouplingBuilder) WithInitializer(init Initializer) *CouplingBuilder {
	b.layer.initializer = init
	return b
}

func (b *CouplingBuilder) Build() Transform {
	return b.layer
}

func (c *CouplingLayer) build(rng *rand.Rand) error {
	if c.dim <= 0 {
		return errorf("CouplingLayer requires dim > 0, got %d", c.dim)
	}
	if c.hidden <= 0 {
		return errorf("CouplingLayer requires hidden > 0 - use WithHidden()")
	}
	if c.mask == nil {
		return errors.New("nflow: CouplingLayer requires a mask - use WithMask()")
	}
	if c.mask.Len() != c.dim {
		return errorf("CouplingLayer mask length %d does not match dim %d", c.mask.Len(), c.dim)
	}
	if c.initializer == nil {
		return errors.New("nflow: CouplingLayer requires an initializer - use WithInitializer()")
	}

	c.w1 = newTensor(c.dim, c.hidden)
	c.initializer.initialize(c.w1, c.dim, c.hidden, rng)
	c.b1 = newTensor(c.hidden)

	c.w2 = newTensor(c.hidden, c.hidden)
	c.initializer.initialize(c.w2, c.hidden, c.hidden, rng)
	c.b2 = newTensor(c.hidden)

	// Zero final layer: h = t = 0, so tanh(h) = 0 and the transform starts
	// as the identity with no ldj contribution.
	c.w3 = newTensor(c.hidden, 2*c.dim)
	c.b3 = newTensor(2 * c.dim)

	c.gw1 = newTensor(c.dim, c.hidden)
	c.gb1 = newTensor(c.hidden)
	c.gw2 = newTensor(c.hidden, c.hidden)
	c.gb2 = newTensor(c.hidden)
	c.gw3 = newTensor(c.hidden, 2*c.dim)
	c.gb3 = newTensor(2 * c.dim)

	c.built = true
	return nil
}

// conditioner runs the MLP on the masked input and caches activations.
// Returns the (batch, 2*dim) output holding [h | t].
func (c *CouplingLayer) conditioner(z *tensor) *tensor {
	batch := z.rows()

	c.masked = newTensor(batch, c.dim)
	for i := range z.data {
		c.masked.data[i] = c.mask.data[i%c.dim] * z.data[i]
	}

	c.pre1 = newTensor(batch, c.hidden)
	matmul(c.masked, c.w1, c.pre1)
	addRowVec(c.pre1, c.b1)
	c.act1 = newTensor(batch, c.hidden)
	for i, v := range c.pre1.data {
		if v > 0 {
			c.act1.data[i] = v
		}
	}

	c.pre2 = newTensor(batch, c.hidden)
	matmul(c.act1, c.w2, c.pre2)
	addRowVec(c.pre2, c.b2)
	c.act2 = newTensor(batch, c.hidden)
	for i, v := range c.pre2.data {
		if v > 0 {
			c.act2.data[i] = v
		}
	}

	out := newTensor(batch, 2*c.dim)
	matmul(c.act2, c.w3, out)
	addRowVec(out, c.b3)

	return out
}

func (c *CouplingLayer) transform(z, ldj *tensor, reverse bool) (*tensor, *tensor, error) {
	if !c.built {
		return nil, nil, errors.New("nflow: coupling layer not built")
	}
	if z.cols() != c.dim {
		return nil, nil, errorf("coupling layer expects %d dims per example, got %d", c.dim, z.cols())
	}

	batch := z.rows()
	c.zIn = z

	ht := c.conditioner(z)

	c.logScale = newTensor(batch, c.dim)
	for i := 0; i < batch; i++ {
		for j := 0; j < c.dim; j++ {
			c.logScale.data[i*c.dim+j] = math.Tanh(ht.data[i*2*c.dim+j])
		}
	}

	out := newTensor(batch, c.dim)

	if !reverse {
		ldjOut := ldj.clone()
		for i := 0; i < batch; i++ {
			sum := 0.0
			for j := 0; j < c.dim; j++ {
				idx := i*c.dim + j
				m := c.mask.data[j]
				s := c.logScale.data[idx]
				t := ht.data[i*2*c.dim+c.dim+j]
				out.data[idx] = m*z.data[idx] + (1-m)*(z.data[idx]*math.Exp(s)+t)
				sum += (1 - m) * s
			}
			ldjOut.data[i] += sum
		}
		return out, ldjOut, nil
	}

	// Inverse direction: used for sampling only, where the Jacobian of the
	// inverse is never consumed, so ldj passes through untouched.
	for i := 0; i < batch; i++ {
		for j := 0; j < c.dim; j++ {
			idx := i*c.dim + j
			m := c.mask.data[j]
			s := c.logScale.data[idx]
			t := ht.data[i*2*c.dim+c.dim+j]
			out.data[idx] = m*z.data[idx] + (1-m)*(z.data[idx]-t)*math.Exp(-s)
		}
	}
	return out, ldj, nil
}

// backward propagates ∂L/∂z' (gradZ) and the per-example ∂L/∂ldj (gradLdj)
// through the last forward transform, accumulating parameter gradients and
// returning ∂L/∂z.
//
// For unmasked dims the output is z·exp(s)+t with s = tanh(h), so the
// conditioner receives gh = (1−s²)·(gz·z·exp(s) + gl) and gt = gz; for
// masked dims the identity path and the conditioner input path both
// contribute to the input gradient.
func (c *CouplingLayer) backward(gradZ, gradLdj *tensor) (*tensor, error) {
	if c.zIn == nil {
		return nil, errors.New("nflow: coupling backward called before forward transform")
	}

	batch := gradZ.rows()

	gradHT := newTensor(batch, 2*c.dim)
	for i := 0; i < batch; i++ {
		gl := gradLdj.data[i]
		for j := 0; j < c.dim; j++ {
			idx := i*c.dim + j
			inv := 1 - c.mask.data[j]
			s := c.logScale.data[idx]
			gs := inv * (gradZ.data[idx]*c.zIn.data[idx]*math.Exp(s) + gl)
			gradHT.data[i*2*c.dim+j] = (1 - s*s) * gs
			gradHT.data[i*2*c.dim+c.dim+j] = inv * gradZ.data[idx]
		}
	}

	// Backprop through the MLP. The driver zeroes the grad buffers before
	// each backward pass; weight grads overwrite, bias grads accumulate.
	matmulTransA(c.act2, gradHT, c.gw3)
	sumRowsInto(gradHT, c.gb3)
	gradAct2 := newTensor(batch, c.hidden)
	matmulTransB(gradHT, c.w3, gradAct2)
	for i, v := range c.pre2.data {
		if v <= 0 {
			gradAct2.data[i] = 0
		}
	}

	matmulTransA(c.act1, gradAct2, c.gw2)
	sumRowsInto(gradAct2, c.gb2)
	gradAct1 := newTensor(batch, c.hidden)
	matmulTransB(gradAct2, c.w2, gradAct1)
	for i, v := range c.pre1.data {
		if v <= 0 {
			gradAct1.data[i] = 0
		}
	}

	matmulTransA(c.masked, gradAct1, c.gw1)
	sumRowsInto(gradAct1, c.gb1)
	gradMasked := newTensor(batch, c.dim)
	matmulTransB(gradAct1, c.w1, gradMasked)

	gradIn := newTensor(batch, c.dim)
	for i := 0; i < batch; i++ {
		for j := 0; j < c.dim; j++ {
			idx := i*c.dim + j
			m := c.mask.data[j]
			s := c.logScale.data[idx]
			gradIn.data[idx] = m*(gradZ.data[idx]+gradMasked.data[idx]) +
				(1-m)*gradZ.data[idx]*math.Exp(s)
		}
	}

	return gradIn, nil
}

func (c *CouplingLayer) parameters() []*tensor {
	return []*tensor{c.w1, c.b1, c.w2, c.b2, c.w3, c.b3}
}

func (c *CouplingLayer) gradients() []*tensor {
	return []*tensor{c.gw1, c.gb1, c.gw2, c.gb2, c.gw3, c.gb3}
}

func (c *CouplingLayer) name() string { return "coupling" }

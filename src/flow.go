package nflow

import (
	"math/rand"
)

// Transform is an invertible unit composed by a Flow. Forward transforms
// accumulate the log-determinant of their Jacobian into ldj; the reverse
// direction inverts the mapping exactly.
type Transform interface {
	build(rng *rand.Rand) error
	transform(z, ldj *tensor, reverse bool) (*tensor, *tensor, error)
	backward(gradZ, gradLdj *tensor) (*tensor, error)
	parameters() []*tensor
	gradients() []*tensor
	name() string
}

// FlowConfig for flow construction - ALL fields required
type FlowConfig struct {
	Height int
	Width  int
	NFlows int // number of coupling pairs; the flow holds 2*NFlows layers
	Hidden int
	Seed   int64
}

// Flow is an ordered sequence of coupling layers with alternating
// checkerboard masks, so every pair of layers transforms every dimension
// exactly once. Composition order matters and is exactly reversed for
// inversion.
type Flow struct {
	dim    int
	layers []Transform
}

// NewFlow builds 2*NFlows coupling layers alternating the checkerboard mask
// and its complement.
func NewFlow(config FlowConfig) (*Flow, error) {
	if err := ValidateFlowConfig(config); err != nil {
		return nil, err
	}

	dim := config.Height * config.Width
	mask := CheckerboardMask(config.Height, config.Width)
	complement := mask.Complement()

	rng := rand.New(rand.NewSource(config.Seed))

	f := &Flow{dim: dim}
	for i := 0; i < config.NFlows; i++ {
		f.layers = append(f.layers,
			Coupling(dim).
				WithMask(mask).
				WithHidden(config.Hidden).
				WithInitializer(HeUniform(1.0)).
				Build(),
			Coupling(dim).
				WithMask(complement).
				WithHidden(config.Hidden).
				WithInitializer(HeUniform(1.0)).
				Build(),
		)
	}

	for i, layer := range f.layers {
		if err := layer.build(rng); err != nil {
			return nil, errorf("layer %d (%s): %v", i, layer.name(), err)
		}
	}

	return f, nil
}

// Dim returns the flow's latent dimensionality.
func (f *Flow) Dim() int {
	return f.dim
}

// apply runs the layers in construction order, or in exactly reversed order
// with reverse=true for inversion.
func (f *Flow) apply(z, ldj *tensor, reverse bool) (*tensor, *tensor, error) {
	var err error
	if !reverse {
		for _, layer := range f.layers {
			z, ldj, err = layer.transform(z, ldj, false)
			if err != nil {
				return nil, nil, err
			}
		}
		return z, ldj, nil
	}

	for i := len(f.layers) - 1; i >= 0; i-- {
		z, ldj, err = f.layers[i].transform(z, ldj, true)
		if err != nil {
			return nil, nil, err
		}
	}
	return z, ldj, nil
}

// backward walks the layers in reverse, threading ∂L/∂z through each
// coupling adjoint. gradLdj is constant across layers because ldj
// accumulates additively.
func (f *Flow) backward(gradZ, gradLdj *tensor) (*tensor, error) {
	var err error
	for i := len(f.layers) - 1; i >= 0; i-- {
		gradZ, err = f.layers[i].backward(gradZ, gradLdj)
		if err != nil {
			return nil, err
		}
	}
	return gradZ, nil
}

func (f *Flow) parameters() []*tensor {
	var params []*tensor
	for _, layer := range f.layers {
		params = append(params, layer.parameters()...)
	}
	return params
}

func (f *Flow) gradients() []*tensor {
	var grads []*tensor
	for _, layer := range f.layers {
		grads = append(grads, layer.gradients()...)
	}
	return grads
}

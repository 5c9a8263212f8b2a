package nflow

import (
	xrand "golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// prior is the standard isotropic Gaussian the flow maps data into.
type prior struct {
	dist distuv.Normal
}

func newPrior(seed int64) *prior {
	return &prior{
		dist: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   xrand.NewSource(uint64(seed)),
		},
	}
}

// logProb writes the per-example log-density Σ_j −½log(2π) − ½z² into out.
func (p *prior) logProb(z *tensor, out *tensor) {
	batch := z.rows()
	cols := z.cols()
	for i := 0; i < batch; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += p.dist.LogProb(z.data[i*cols+j])
		}
		out.data[i] = sum
	}
}

// sample draws an (n, dim) latent tensor of independent standard normals.
func (p *prior) sample(n, dim int) *tensor {
	z := newTensor(n, dim)
	for i := range z.data {
		z.data[i] = p.dist.Rand()
	}
	return z
}

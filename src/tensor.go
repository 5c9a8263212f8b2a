package nflow

import (
	"math"
	"math/rand"
)

// tensor is the internal data structure - flat row-major float64 storage,
// not exposed to users.
type tensor struct {
	data  []float64
	shape []int
}

func newTensor(shape ...int) *tensor {
	size := 1
	for _, s := range shape {
		if s <= 0 {
			s = 1
		}
		size *= s
	}
	return &tensor{
		data:  make([]float64, size),
		shape: shape,
	}
}

func (t *tensor) size() int {
	return len(t.data)
}

// rows returns the leading dimension (batch size for 2D tensors).
func (t *tensor) rows() int {
	return t.shape[0]
}

// cols returns the per-row element count.
func (t *tensor) cols() int {
	return t.size() / t.shape[0]
}

func (t *tensor) fill(value float64) {
	for i := range t.data {
		t.data[i] = value
	}
}

func (t *tensor) zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

func (t *tensor) fillRandNorm(mean, std float64, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = rng.NormFloat64()*std + mean
	}
}

func (t *tensor) fillRandUniform(low, high float64, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = rng.Float64()*(high-low) + low
	}
}

func (t *tensor) clone() *tensor {
	nt := newTensor(t.shape...)
	copy(nt.data, t.data)
	return nt
}

// Matrix kernels - tight loops, no bounds checking beyond what the
// shapes guarantee.

// matmul computes out = a @ b for a (M,K) and b (K,N).
func matmul(a, b, out *tensor) {
	m := a.shape[0]
	k := a.shape[1]
	n := b.shape[1]

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for l := 0; l < k; l++ {
				sum += a.data[i*k+l] * b.data[l*n+j]
			}
			out.data[i*n+j] = sum
		}
	}
}

// matmulTransA computes out = aᵀ @ b for a (K,M) and b (K,N).
func matmulTransA(a, b, out *tensor) {
	m := a.shape[1]
	k := a.shape[0]
	n := b.shape[1]

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for l := 0; l < k; l++ {
				sum += a.data[l*m+i] * b.data[l*n+j]
			}
			out.data[i*n+j] = sum
		}
	}
}

// matmulTransB computes out = a @ bᵀ for a (M,K) and b (N,K).
func matmulTransB(a, b, out *tensor) {
	m := a.shape[0]
	k := a.shape[1]
	n := b.shape[0]

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for l := 0; l < k; l++ {
				sum += a.data[i*k+l] * b.data[j*k+l]
			}
			out.data[i*n+j] = sum
		}
	}
}

// addRowVec adds a length-N row vector b to every row of a (M,N) tensor.
func addRowVec(a, b *tensor) {
	n := len(b.data)
	for i := range a.data {
		a.data[i] += b.data[i%n]
	}
}

// sumRowsInto accumulates the column sums of a (M,N) tensor into a
// length-N vector: out[j] += Σ_i a[i,j].
func sumRowsInto(a, out *tensor) {
	rows := a.shape[0]
	cols := a.shape[1]
	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += a.data[i*cols+j]
		}
		out.data[j] += sum
	}
}

func mulScalar(a *tensor, s float64) {
	for i := range a.data {
		a.data[i] *= s
	}
}

func clipValues(a *tensor, min, max float64) {
	for i := range a.data {
		if a.data[i] < min {
			a.data[i] = min
		} else if a.data[i] > max {
			a.data[i] = max
		}
	}
}

func l2Norm(a *tensor) float64 {
	sum := 0.0
	for _, v := range a.data {
		sum += v * v
	}
	return math.Sqrt(sum)
}

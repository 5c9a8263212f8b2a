package nflow

import (
	"math"
	"math/rand"
)

// Initializer sets up initial weights for the conditioner layers
type Initializer interface {
	initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand)
	name() string
}

// HeUniformInit - He/Kaiming uniform initialization, suited to the ReLU
// hidden layers of the conditioner
type HeUniformInit struct {
	Gain float64
}

func HeUniform(gain float64) Initializer {
	return &HeUniformInit{Gain: gain}
}

func (h *HeUniformInit) initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand) {
	limit := h.Gain * math.Sqrt(6.0/float64(fanIn))
	t.fillRandUniform(-limit, limit, rng)
}

func (h *HeUniformInit) name() string { return "he_uniform" }

// HeNormalInit - He/Kaiming normal initialization
type HeNormalInit struct {
	Gain float64
}

func HeNormal(gain float64) Initializer {
	return &HeNormalInit{Gain: gain}
}

func (h *HeNormalInit) initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand) {
	std := h.Gain * math.Sqrt(2.0/float64(fanIn))
	t.fillRandNorm(0, std, rng)
}

func (h *HeNormalInit) name() string { return "he_normal" }

// XavierUniformInit - Xavier/Glorot uniform initialization
type XavierUniformInit struct {
	Gain float64
}

func XavierUniform(gain float64) Initializer {
	return &XavierUniformInit{Gain: gain}
}

func (x *XavierUniformInit) initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand) {
	limit := x.Gain * math.Sqrt(6.0/float64(fanIn+fanOut))
	t.fillRandUniform(-limit, limit, rng)
}

func (x *XavierUniformInit) name() string { return "xavier_uniform" }

// ZerosInit - initialize with zeros
type ZerosInit struct{}

func Zeros() Initializer { return &ZerosInit{} }

func (z *ZerosInit) initialize(t *tensor, fanIn, fanOut int, rng *rand.Rand) {
	t.fill(0)
}

func (z *ZerosInit) name() string { return "zeros" }

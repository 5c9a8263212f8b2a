package nflow

// Mask is an immutable binary partition of the flattened pixel vector.
// Positions with value 1 pass through a coupling layer unchanged and
// parameterize the transform of the positions with value 0.
type Mask struct {
	data []float64
}

// CheckerboardMask builds the flattened checkerboard pattern over an h×w
// image: position (i,j) is 1 when i+j is even. Deterministic; computed once
// and shared (with its complement) across all coupling layers.
func CheckerboardMask(h, w int) *Mask {
	m := &Mask{data: make([]float64, h*w)}
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			if (i+j)%2 == 0 {
				m.data[i*w+j] = 1
			}
		}
	}
	return m
}

// Complement returns the mask 1−m, so that a pair of coupling layers
// transforms every dimension exactly once.
func (m *Mask) Complement() *Mask {
	c := &Mask{data: make([]float64, len(m.data))}
	for i, v := range m.data {
		c.data[i] = 1 - v
	}
	return c
}

// Len returns the flattened dimensionality covered by the mask.
func (m *Mask) Len() int {
	return len(m.data)
}

// At reports the mask value at flat position i.
func (m *Mask) At(i int) float64 {
	return m.data[i]
}

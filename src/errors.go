package nflow

import (
	"fmt"
	"math"
	"strings"
)

// errorf creates a formatted error with the library prefix
func errorf(format string, args ...interface{}) error {
	return fmt.Errorf("nflow: "+format, args...)
}

// TensorStats captures tensor state for numerical error reporting
type TensorStats struct {
	Shape      []int
	Size       int
	NaNCount   int
	InfCount   int
	MinValue   float64
	MaxValue   float64
	BadIndices []int // first 10 corrupted indices
}

// Format returns a compact string representation
func (s *TensorStats) Format() string {
	out := fmt.Sprintf("%v size=%d", s.Shape, s.Size)
	if s.NaNCount > 0 || s.InfCount > 0 {
		out += fmt.Sprintf(" (corrupt: %d NaN, %d Inf)", s.NaNCount, s.InfCount)
	} else {
		out += fmt.Sprintf(" range=[%.4f, %.4f]", s.MinValue, s.MaxValue)
	}
	return out
}

// NumericError reports a numerical failure (NaN/Inf propagation, degenerate
// values) with enough context to locate it.
type NumericError struct {
	Component string // "Model", "CouplingLayer", ...
	Phase     string // "forward", "backward", "fit"
	ErrorType string
	Info      *TensorStats
	Cause     string
}

func (e *NumericError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "nflow: %s %s during %s", e.Component, e.ErrorType, e.Phase)
	b.WriteString("\n")
	if e.Info != nil {
		fmt.Fprintf(&b, "  tensor: %s\n", e.Info.Format())
	}
	fmt.Fprintf(&b, "  cause:  %s", e.Cause)

	return b.String()
}

// scanTensor checks for NaN/Inf and collects value-range stats
func scanTensor(t *tensor) *TensorStats {
	stats := &TensorStats{
		Shape:      t.shape,
		Size:       len(t.data),
		MinValue:   math.Inf(1),
		MaxValue:   math.Inf(-1),
		BadIndices: make([]int, 0, 10),
	}

	for i, v := range t.data {
		switch {
		case math.IsNaN(v):
			stats.NaNCount++
			if len(stats.BadIndices) < 10 {
				stats.BadIndices = append(stats.BadIndices, i)
			}
		case math.IsInf(v, 0):
			stats.InfCount++
			if len(stats.BadIndices) < 10 {
				stats.BadIndices = append(stats.BadIndices, i)
			}
		default:
			if v < stats.MinValue {
				stats.MinValue = v
			}
			if v > stats.MaxValue {
				stats.MaxValue = v
			}
		}
	}

	// All-corrupt or empty tensors have no finite range.
	if math.IsInf(stats.MinValue, 1) {
		stats.MinValue = 0
	}
	if math.IsInf(stats.MaxValue, -1) {
		stats.MaxValue = 0
	}

	return stats
}

package nflow

import "math"

// Metric aggregates evaluation statistics over the log-likelihoods of a
// stream of batches.
type Metric interface {
	reset()
	update(logPx []float64, dim int)
	result() float64
	name() string
}

// BitsPerDimMetric - negative log-likelihood converted to base 2 and
// normalized by dimensionality, the standard flow training metric.
type BitsPerDimMetric struct {
	sum   float64
	count int
}

func BitsPerDim() Metric {
	return &BitsPerDimMetric{}
}

func (b *BitsPerDimMetric) reset() {
	b.sum = 0
	b.count = 0
}

func (b *BitsPerDimMetric) update(logPx []float64, dim int) {
	for _, lp := range logPx {
		b.sum += -lp / float64(dim) / math.Ln2
		b.count++
	}
}

func (b *BitsPerDimMetric) result() float64 {
	if b.count == 0 {
		return 0
	}
	return b.sum / float64(b.count)
}

func (b *BitsPerDimMetric) name() string { return "bpd" }

// AvgNLLMetric - mean negative log-likelihood in nats
type AvgNLLMetric struct {
	sum   float64
	count int
}

func AvgNLL() Metric {
	return &AvgNLLMetric{}
}

func (a *AvgNLLMetric) reset() {
	a.sum = 0
	a.count = 0
}

func (a *AvgNLLMetric) update(logPx []float64, dim int) {
	for _, lp := range logPx {
		a.sum += -lp
		a.count++
	}
}

func (a *AvgNLLMetric) result() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

func (a *AvgNLLMetric) name() string { return "nll" }

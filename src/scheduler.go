package nflow

import "math"

// Scheduler adjusts the learning rate across epochs
type Scheduler interface {
	step(epoch int, currentLR float64) float64
	name() string
}

// StepDecayScheduler - drops LR by a factor every N epochs
type StepDecayScheduler struct {
	StepSize int
	Gamma    float64
}

type StepDecayConfig struct {
	StepSize int
	Gamma    float64
}

func StepDecay(config StepDecayConfig) Scheduler {
	return &StepDecayScheduler{
		StepSize: config.StepSize,
		Gamma:    config.Gamma,
	}
}

func (s *StepDecayScheduler) step(epoch int, currentLR float64) float64 {
	if epoch > 0 && epoch%s.StepSize == 0 {
		return currentLR * s.Gamma
	}
	return currentLR
}

func (s *StepDecayScheduler) name() string { return "step_decay" }

// ExponentialDecayScheduler - multiplies LR by gamma each epoch
type ExponentialDecayScheduler struct {
	Gamma float64
}

type ExponentialDecayConfig struct {
	Gamma float64
}

func ExponentialDecay(config ExponentialDecayConfig) Scheduler {
	return &ExponentialDecayScheduler{Gamma: config.Gamma}
}

func (e *ExponentialDecayScheduler) step(epoch int, currentLR float64) float64 {
	if epoch == 0 {
		return currentLR
	}
	return currentLR * e.Gamma
}

func (e *ExponentialDecayScheduler) name() string { return "exponential_decay" }

// CosineAnnealingScheduler - cosine annealing between EtaMax and EtaMin
type CosineAnnealingScheduler struct {
	TMax   int
	EtaMin float64
	EtaMax float64
}

type CosineAnnealingConfig struct {
	TMax   int
	EtaMin float64
	EtaMax float64
}

func CosineAnnealing(config CosineAnnealingConfig) Scheduler {
	return &CosineAnnealingScheduler{
		TMax:   config.TMax,
		EtaMin: config.EtaMin,
		EtaMax: config.EtaMax,
	}
}

func (c *CosineAnnealingScheduler) step(epoch int, currentLR float64) float64 {
	return c.EtaMin + 0.5*(c.EtaMax-c.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(c.TMax)))
}

func (c *CosineAnnealingScheduler) name() string { return "cosine_annealing" }

// ConstantScheduler - leaves the learning rate unchanged
type ConstantScheduler struct{}

func ConstantLR() Scheduler { return &ConstantScheduler{} }

func (c *ConstantScheduler) step(epoch int, currentLR float64) float64 {
	return currentLR
}

func (c *ConstantScheduler) name() string { return "constant" }

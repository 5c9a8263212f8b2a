package nflow

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
)

// Callback is invoked during training at epoch and batch boundaries
type Callback interface {
	onTrainBegin(logs map[string]float64)
	onTrainEnd(logs map[string]float64)
	onEpochBegin(epoch int, logs map[string]float64)
	onEpochEnd(epoch int, logs map[string]float64) bool // true stops training
	onBatchBegin(batch int, logs map[string]float64)
	onBatchEnd(batch int, logs map[string]float64)
	name() string
}

// ProgressCallback logs epoch metrics through slog
type ProgressCallback struct {
	Every int
}

type ProgressConfig struct {
	Every int
}

func Progress(config ProgressConfig) Callback {
	return &ProgressCallback{Every: config.Every}
}

func (p *ProgressCallback) onTrainBegin(logs map[string]float64) {
	slog.Info("training started")
}

func (p *ProgressCallback) onTrainEnd(logs map[string]float64) {
	slog.Info("training complete", "loss", logs["loss"])
}

func (p *ProgressCallback) onEpochBegin(epoch int, logs map[string]float64) {}

func (p *ProgressCallback) onEpochEnd(epoch int, logs map[string]float64) bool {
	if p.Every > 0 && (epoch+1)%p.Every == 0 {
		args := []any{"epoch", epoch + 1}
		for _, k := range []string{"loss", "bpd", "nll", "val_loss", "val_bpd", "val_nll", "lr"} {
			if v, ok := logs[k]; ok {
				args = append(args, k, v)
			}
		}
		slog.Info("epoch complete", args...)
	}
	return false
}

func (p *ProgressCallback) onBatchBegin(batch int, logs map[string]float64) {}
func (p *ProgressCallback) onBatchEnd(batch int, logs map[string]float64)   {}
func (p *ProgressCallback) name() string                                    { return "progress" }

// HistoryCallback records per-epoch logs
type HistoryCallback struct {
	History map[string][]float64
}

func History() *HistoryCallback {
	return &HistoryCallback{
		History: make(map[string][]float64),
	}
}

func (h *HistoryCallback) onTrainBegin(logs map[string]float64) {
	h.History = make(map[string][]float64)
}

func (h *HistoryCallback) onTrainEnd(logs map[string]float64) {}

func (h *HistoryCallback) onEpochBegin(epoch int, logs map[string]float64) {}

func (h *HistoryCallback) onEpochEnd(epoch int, logs map[string]float64) bool {
	for k, v := range logs {
		h.History[k] = append(h.History[k], v)
	}
	return false
}

func (h *HistoryCallback) onBatchBegin(batch int, logs map[string]float64) {}
func (h *HistoryCallback) onBatchEnd(batch int, logs map[string]float64)   {}
func (h *HistoryCallback) name() string                                    { return "history" }

// EarlyStoppingCallback stops training when a monitored metric stops
// improving
type EarlyStoppingCallback struct {
	Monitor   string
	MinDelta  float64
	Patience  int
	Mode      string // "min" or "max"
	bestValue float64
	wait      int
}

type EarlyStoppingConfig struct {
	Monitor  string
	MinDelta float64
	Patience int
	Mode     string
}

func EarlyStopping(config EarlyStoppingConfig) Callback {
	best := math.Inf(1)
	if config.Mode == "max" {
		best = math.Inf(-1)
	}
	return &EarlyStoppingCallback{
		Monitor:   config.Monitor,
		MinDelta:  config.MinDelta,
		Patience:  config.Patience,
		Mode:      config.Mode,
		bestValue: best,
	}
}

func (e *EarlyStoppingCallback) onTrainBegin(logs map[string]float64) {
	e.wait = 0
	if e.Mode == "max" {
		e.bestValue = math.Inf(-1)
	} else {
		e.bestValue = math.Inf(1)
	}
}

func (e *EarlyStoppingCallback) onTrainEnd(logs map[string]float64) {}

func (e *EarlyStoppingCallback) onEpochBegin(epoch int, logs map[string]float64) {}

func (e *EarlyStoppingCallback) onEpochEnd(epoch int, logs map[string]float64) bool {
	current, ok := logs[e.Monitor]
	if !ok {
		return false
	}

	improved := false
	if e.Mode == "max" {
		improved = current > e.bestValue+e.MinDelta
	} else {
		improved = current < e.bestValue-e.MinDelta
	}

	if improved {
		e.bestValue = current
		e.wait = 0
		return false
	}

	e.wait++
	if e.wait >= e.Patience {
		slog.Info("early stopping", "epoch", epoch+1, "monitor", e.Monitor, "best", e.bestValue)
		return true
	}
	return false
}

func (e *EarlyStoppingCallback) onBatchBegin(batch int, logs map[string]float64) {}
func (e *EarlyStoppingCallback) onBatchEnd(batch int, logs map[string]float64)   {}
func (e *EarlyStoppingCallback) name() string                                    { return "early_stopping" }

// LRSchedulerCallback applies a learning rate schedule to the optimizer at
// the start of each epoch
type LRSchedulerCallback struct {
	Scheduler Scheduler
	Optimizer Optimizer
	InitialLR float64
	currentLR float64
}

type LRSchedulerConfig struct {
	Scheduler Scheduler
	Optimizer Optimizer
	InitialLR float64
}

func LRScheduler(config LRSchedulerConfig) Callback {
	return &LRSchedulerCallback{
		Scheduler: config.Scheduler,
		Optimizer: config.Optimizer,
		InitialLR: config.InitialLR,
		currentLR: config.InitialLR,
	}
}

func (l *LRSchedulerCallback) onTrainBegin(logs map[string]float64) {
	l.currentLR = l.InitialLR
}

func (l *LRSchedulerCallback) onTrainEnd(logs map[string]float64) {}

func (l *LRSchedulerCallback) onEpochBegin(epoch int, logs map[string]float64) {
	l.currentLR = l.Scheduler.step(epoch, l.currentLR)
	l.Optimizer.setLR(l.currentLR)
	logs["lr"] = l.currentLR
}

func (l *LRSchedulerCallback) onEpochEnd(epoch int, logs map[string]float64) bool {
	return false
}

func (l *LRSchedulerCallback) onBatchBegin(batch int, logs map[string]float64) {}
func (l *LRSchedulerCallback) onBatchEnd(batch int, logs map[string]float64)   {}
func (l *LRSchedulerCallback) name() string                                    { return "lr_scheduler" }

// SampleGridCallback writes a PNG grid of model samples every Every epochs
// (and once before training starts), the standard way to watch a flow learn.
type SampleGridCallback struct {
	Model   *Model
	Dir     string
	Samples int
	Every   int
	Scale   int
}

type SampleGridConfig struct {
	Model   *Model
	Dir     string
	Samples int
	Every   int
	Scale   int
}

func SampleGrid(config SampleGridConfig) Callback {
	return &SampleGridCallback{
		Model:   config.Model,
		Dir:     config.Dir,
		Samples: config.Samples,
		Every:   config.Every,
		Scale:   config.Scale,
	}
}

func (s *SampleGridCallback) write(epoch int) {
	samples, err := s.Model.Sample(s.Samples)
	if err != nil {
		slog.Warn("sample grid skipped", "epoch", epoch, "error", err)
		return
	}
	path := filepath.Join(s.Dir, fmt.Sprintf("samples_%03d.png", epoch))
	if err := WriteSampleGrid(path, samples, s.Model.config.Height, s.Model.config.Width, s.Scale); err != nil {
		slog.Warn("sample grid skipped", "epoch", epoch, "error", err)
	}
}

func (s *SampleGridCallback) onTrainBegin(logs map[string]float64) {
	s.write(0)
}

func (s *SampleGridCallback) onTrainEnd(logs map[string]float64) {}

func (s *SampleGridCallback) onEpochBegin(epoch int, logs map[string]float64) {}

func (s *SampleGridCallback) onEpochEnd(epoch int, logs map[string]float64) bool {
	if s.Every > 0 && (epoch+1)%s.Every == 0 {
		s.write(epoch + 1)
	}
	return false
}

func (s *SampleGridCallback) onBatchBegin(batch int, logs map[string]float64) {}
func (s *SampleGridCallback) onBatchEnd(batch int, logs map[string]float64)   {}
func (s *SampleGridCallback) name() string                                    { return "sample_grid" }

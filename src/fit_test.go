package nflow

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticBatch(n, dim int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	images := make([][]float64, n)
	for i := range images {
		img := make([]float64, dim)
		for j := range img {
			img[j] = float64(rng.Intn(256))
		}
		images[i] = img
	}
	return images
}

func compiledTestModel(t *testing.T) *Model {
	t.Helper()
	model, err := NewModel(testModelConfig())
	require.NoError(t, err)

	require.NoError(t, model.Compile(CompileConfig{
		Optimizer: Adam(AdamConfig{
			LR:      1e-3,
			Beta1:   0.9,
			Beta2:   0.999,
			Epsilon: 1e-8,
		}),
		Metrics: []Metric{BitsPerDim()},
		GradientClip: GradientClipConfig{
			Mode:    "norm",
			MaxNorm: 10.0,
		},
	}))
	return model
}

func TestFitRequiresCompile(t *testing.T) {
	model, err := NewModel(testModelConfig())
	require.NoError(t, err)

	_, err = model.Fit(syntheticBatch(8, 16, 1), FitConfig{Epochs: 1, BatchSize: 4}, nil)
	require.Error(t, err)
}

func TestFitConfigValidation(t *testing.T) {
	model := compiledTestModel(t)
	data := syntheticBatch(8, 16, 1)

	_, err := model.Fit(data, FitConfig{Epochs: 0, BatchSize: 4}, nil)
	require.Error(t, err)

	_, err = model.Fit(data, FitConfig{Epochs: 1, BatchSize: 0}, nil)
	require.Error(t, err)

	_, err = model.Fit(data, FitConfig{Epochs: 1, BatchSize: 4, ValidationSplit: 1.0}, nil)
	require.Error(t, err)
}

func TestFitRecordsHistory(t *testing.T) {
	model := compiledTestModel(t)
	history := History()

	result, err := model.Fit(syntheticBatch(32, 16, 2), FitConfig{
		Epochs:          3,
		BatchSize:       8,
		Shuffle:         true,
		ValidationSplit: 0.25,
	}, []Callback{history})
	require.NoError(t, err)

	for _, key := range []string{"loss", "bpd", "val_loss", "val_bpd"} {
		require.Len(t, result.History[key], 3, "history for %q", key)
		require.Len(t, history.History[key], 3, "callback history for %q", key)
		for epoch, v := range result.History[key] {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s at epoch %d must be finite", key, epoch)
		}
	}
	assert.Equal(t, result.History["loss"][2], result.FinalLoss)
}

func TestFitUpdatesParameters(t *testing.T) {
	model := compiledTestModel(t)

	before := make([][]float64, 0)
	for _, p := range model.flow.parameters() {
		before = append(before, append([]float64(nil), p.data...))
	}

	_, err := model.Fit(syntheticBatch(16, 16, 3), FitConfig{
		Epochs:    2,
		BatchSize: 8,
		Shuffle:   false,
	}, nil)
	require.NoError(t, err)

	changed := false
	for i, p := range model.flow.parameters() {
		for j := range p.data {
			if p.data[j] != before[i][j] {
				changed = true
			}
		}
	}
	assert.True(t, changed, "training must move at least one parameter")
}

func TestFitEarlyStopping(t *testing.T) {
	model := compiledTestModel(t)

	// With an infinite MinDelta nothing ever improves, so patience 1
	// stops training after the very first epoch.
	result, err := model.Fit(syntheticBatch(16, 16, 4), FitConfig{
		Epochs:    10,
		BatchSize: 8,
	}, []Callback{
		EarlyStopping(EarlyStoppingConfig{
			Monitor:  "loss",
			MinDelta: math.Inf(1), // nothing ever counts as an improvement
			Patience: 1,
			Mode:     "min",
		}),
	})
	require.NoError(t, err)
	assert.Len(t, result.History["loss"], 1)
}

func TestFitLRSchedule(t *testing.T) {
	model := compiledTestModel(t)
	opt := model.optimizer.(*AdamOptimizer)

	_, err := model.Fit(syntheticBatch(16, 16, 5), FitConfig{
		Epochs:    3,
		BatchSize: 8,
	}, []Callback{
		LRScheduler(LRSchedulerConfig{
			Scheduler: ExponentialDecay(ExponentialDecayConfig{Gamma: 0.5}),
			Optimizer: model.optimizer,
			InitialLR: 1e-3,
		}),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.25e-3, opt.LR, 1e-12, "two decays over three epochs")
}

func TestGradientClipByNorm(t *testing.T) {
	model := compiledTestModel(t)
	model.gradClip = GradientClipConfig{Mode: "norm", MaxNorm: 1.0}

	grads := model.flow.gradients()
	for _, g := range grads {
		g.fill(1.0)
	}

	model.clipGradients(grads)

	total := 0.0
	for _, g := range grads {
		n := l2Norm(g)
		total += n * n
	}
	assert.InDelta(t, 1.0, math.Sqrt(total), 1e-9)
}

func TestGradientClipByValue(t *testing.T) {
	model := compiledTestModel(t)
	model.gradClip = GradientClipConfig{Mode: "value", MaxValue: 0.5}

	grads := model.flow.gradients()
	grads[0].fill(2.0)
	grads[1].fill(-2.0)

	model.clipGradients(grads)

	for _, v := range grads[0].data {
		assert.Equal(t, 0.5, v)
	}
	for _, v := range grads[1].data {
		assert.Equal(t, -0.5, v)
	}
}

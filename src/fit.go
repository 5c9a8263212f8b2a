package nflow

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// FitResult holds training output
type FitResult struct {
	History      map[string][]float64
	FinalLoss    float64
	FinalMetrics map[string]float64
}

// Fit trains the model by maximum likelihood: the loss is −mean(log_px) per
// batch, minimized with the compiled optimizer. Validation examples, when a
// split is configured, are scored in density mode without gradient updates.
func (m *Model) Fit(inputs [][]float64, config FitConfig, callbacks []Callback) (*FitResult, error) {
	if !m.compiled {
		return nil, errors.New("nflow: model must be compiled before fitting")
	}
	if err := ValidateFitConfig(config); err != nil {
		return nil, err
	}

	data, err := m.toTensor(inputs)
	if err != nil {
		return nil, err
	}

	trainX := data
	var valX *tensor
	if config.ValidationSplit > 0 {
		trainX, valX = splitRows(data, config.ValidationSplit)
		if trainX.rows() == 0 {
			return nil, errors.New("nflow: validation split leaves no training examples")
		}
		if valX.rows() == 0 {
			valX = nil
		}
	}

	result := &FitResult{
		History:      make(map[string][]float64),
		FinalMetrics: make(map[string]float64),
	}
	logs := make(map[string]float64)

	params := m.flow.parameters()
	grads := m.flow.gradients()

	for _, cb := range callbacks {
		cb.onTrainBegin(logs)
	}

	trainSize := trainX.rows()
	numBatches := (trainSize + config.BatchSize - 1) / config.BatchSize

	for epoch := 0; epoch < config.Epochs; epoch++ {
		for _, cb := range callbacks {
			cb.onEpochBegin(epoch, logs)
		}

		if config.Shuffle {
			shuffleRows(trainX, m.rng)
		}

		for _, metric := range m.metrics {
			metric.reset()
		}

		batchLosses := make([]float64, 0, numBatches)
		for batch := 0; batch < numBatches; batch++ {
			for _, cb := range callbacks {
				cb.onBatchBegin(batch, logs)
			}

			batchX := batchRows(trainX, batch*config.BatchSize, config.BatchSize)

			logPx, err := m.forward(batchX)
			if err != nil {
				return nil, err
			}

			loss := 0.0
			for _, lp := range logPx.data {
				loss -= lp
			}
			loss /= float64(logPx.size())

			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return nil, &NumericError{
					Component: "Model",
					Phase:     "fit",
					ErrorType: "non-finite loss",
					Info:      scanTensor(logPx),
					Cause:     "batch negative log-likelihood diverged",
				}
			}

			batchLosses = append(batchLosses, loss)
			for _, metric := range m.metrics {
				metric.update(logPx.data, m.dim)
			}

			m.zeroGradients()
			if err := m.backward(); err != nil {
				return nil, err
			}

			m.clipGradients(grads)
			m.optimizer.step(params, grads)

			for _, cb := range callbacks {
				cb.onBatchEnd(batch, logs)
			}
		}

		logs["loss"] = stat.Mean(batchLosses, nil)
		for _, metric := range m.metrics {
			logs[metric.name()] = metric.result()
		}

		if valX != nil {
			if err := m.evaluateInto(valX, config.BatchSize, logs); err != nil {
				return nil, err
			}
		}

		for k, v := range logs {
			result.History[k] = append(result.History[k], v)
		}

		stop := false
		for _, cb := range callbacks {
			if cb.onEpochEnd(epoch, logs) {
				stop = true
			}
		}
		if stop {
			break
		}
	}

	for _, cb := range callbacks {
		cb.onTrainEnd(logs)
	}

	result.FinalLoss = logs["loss"]
	for _, metric := range m.metrics {
		result.FinalMetrics[metric.name()] = logs[metric.name()]
	}

	return result, nil
}

// evaluateInto scores a held-out tensor in density mode and writes val_
// metrics into logs.
func (m *Model) evaluateInto(valX *tensor, batchSize int, logs map[string]float64) error {
	for _, metric := range m.metrics {
		metric.reset()
	}

	numBatches := (valX.rows() + batchSize - 1) / batchSize
	batchLosses := make([]float64, 0, numBatches)
	for batch := 0; batch < numBatches; batch++ {
		batchX := batchRows(valX, batch*batchSize, batchSize)

		logPx, err := m.forward(batchX)
		if err != nil {
			return err
		}

		loss := 0.0
		for _, lp := range logPx.data {
			loss -= lp
		}
		batchLosses = append(batchLosses, loss/float64(logPx.size()))

		for _, metric := range m.metrics {
			metric.update(logPx.data, m.dim)
		}
	}

	logs["val_loss"] = stat.Mean(batchLosses, nil)
	for _, metric := range m.metrics {
		logs["val_"+metric.name()] = metric.result()
	}
	return nil
}

func (m *Model) clipGradients(grads []*tensor) {
	switch m.gradClip.Mode {
	case "norm":
		totalNorm := 0.0
		for _, g := range grads {
			norm := l2Norm(g)
			totalNorm += norm * norm
		}
		totalNorm = math.Sqrt(totalNorm)
		if totalNorm > m.gradClip.MaxNorm {
			scale := m.gradClip.MaxNorm / totalNorm
			for _, g := range grads {
				mulScalar(g, scale)
			}
		}
	case "value":
		for _, g := range grads {
			clipValues(g, -m.gradClip.MaxValue, m.gradClip.MaxValue)
		}
	}
}

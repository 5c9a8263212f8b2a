package nflow

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"os"
)

// Model wraps dequantization, logit-normalization, the coupling flow and a
// standard-Gaussian prior into an exact-likelihood generative model over
// images with discrete pixel intensities in [0, 256).
type Model struct {
	config ModelConfig
	dim    int
	flow   *Flow
	prior  *prior
	rng    *rand.Rand

	optimizer Optimizer
	metrics   []Metric
	gradClip  GradientClipConfig
	compiled  bool

	// cached from the last forward pass, consumed by backward
	lastZ     *tensor
	lastLogPx *tensor
}

// NewModel builds the model from explicit configuration.
func NewModel(config ModelConfig) (*Model, error) {
	if err := ValidateModelConfig(config); err != nil {
		return nil, err
	}

	flow, err := NewFlow(FlowConfig{
		Height: config.Height,
		Width:  config.Width,
		NFlows: config.NFlows,
		Hidden: config.Hidden,
		Seed:   config.Seed,
	})
	if err != nil {
		return nil, err
	}

	return &Model{
		config: config,
		dim:    config.Height * config.Width,
		flow:   flow,
		prior:  newPrior(config.Seed),
		rng:    rand.New(rand.NewSource(config.Seed)),
	}, nil
}

// Compile configures optimizer, metrics and gradient clipping.
func (m *Model) Compile(config CompileConfig) error {
	if err := ValidateCompileConfig(config); err != nil {
		return err
	}
	m.optimizer = config.Optimizer
	m.metrics = config.Metrics
	m.gradClip = config.GradientClip
	m.compiled = true
	return nil
}

// Dim returns the flattened pixel dimensionality D.
func (m *Model) Dim() int {
	return m.dim
}

// dequantize adds independent uniform [0,1) noise so a continuous density is
// well-defined on discrete pixel values.
func (m *Model) dequantize(x *tensor) *tensor {
	out := newTensor(x.shape...)
	for i, v := range x.data {
		out.data[i] = v + m.rng.Float64()
	}
	return out
}

// logitNormalize maps pixel-scale values into unbounded logit space and
// tracks the log-Jacobian of the mapping. The alpha shrink keeps values
// strictly inside (0,1) so the logs cannot diverge at the boundaries.
func (m *Model) logitNormalize(z, ldj *tensor, reverse bool) (*tensor, *tensor) {
	alpha := m.config.Alpha
	cols := z.cols()
	out := newTensor(z.shape...)
	ldjOut := ldj.clone()

	if !reverse {
		logScale := math.Log(256) * float64(cols)
		for i := 0; i < z.rows(); i++ {
			sum := 0.0
			for j := 0; j < cols; j++ {
				idx := i*cols + j
				v := z.data[idx] / 256.
				v = v*(1-alpha) + alpha*0.5
				sum += -math.Log(v) - math.Log(1-v)
				out.data[idx] = math.Log(v) - math.Log(1-v)
			}
			ldjOut.data[i] += sum - logScale
		}
		return out, ldjOut
	}

	logScale := math.Log(256) * float64(cols)
	for i := 0; i < z.rows(); i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			idx := i*cols + j
			v := 1 / (1 + math.Exp(-z.data[idx]))
			sum += math.Log(v) + math.Log(1-v)
			v = (v - alpha*0.5) / (1 - alpha)
			out.data[idx] = v * 256.
		}
		ldjOut.data[i] += sum + logScale
	}
	return out, ldjOut
}

// forward runs density mode on a (batch, D) tensor: dequantize, normalize,
// flow, prior. Returns the per-example log_px under the change-of-variables
// formula and caches what backward needs.
func (m *Model) forward(x *tensor) (*tensor, error) {
	batch := x.rows()
	ldj := newTensor(batch)

	z := m.dequantize(x)
	z, ldj = m.logitNormalize(z, ldj, false)

	z, ldj, err := m.flow.apply(z, ldj, false)
	if err != nil {
		return nil, err
	}

	logPz := newTensor(batch)
	m.prior.logProb(z, logPz)

	logPx := newTensor(batch)
	for i := 0; i < batch; i++ {
		logPx.data[i] = logPz.data[i] + ldj.data[i]
	}

	m.lastZ = z
	m.lastLogPx = logPx
	return logPx, nil
}

// backward seeds the adjoint of loss = −mean(log_px) and propagates it
// through the flow: ∂L/∂z = z/B from the prior term and ∂L/∂ldj = −1/B per
// example. Parameter gradients accumulate in the coupling layers.
func (m *Model) backward() error {
	if m.lastZ == nil {
		return errors.New("nflow: backward called before forward")
	}

	batch := m.lastZ.rows()
	cols := m.lastZ.cols()
	invB := 1.0 / float64(batch)

	gradZ := newTensor(batch, cols)
	for i := range gradZ.data {
		gradZ.data[i] = m.lastZ.data[i] * invB
	}
	gradLdj := newTensor(batch)
	for i := range gradLdj.data {
		gradLdj.data[i] = -invB
	}

	_, err := m.flow.backward(gradZ, gradLdj)
	return err
}

func (m *Model) zeroGradients() {
	for _, g := range m.flow.gradients() {
		g.zero()
	}
}

// LogProb evaluates the exact model log-likelihood of a batch of flattened
// images with pixel values in [0, 256).
func (m *Model) LogProb(inputs [][]float64) ([]float64, error) {
	x, err := m.toTensor(inputs)
	if err != nil {
		return nil, err
	}

	logPx, err := m.forward(x)
	if err != nil {
		return nil, err
	}

	if stats := scanTensor(logPx); stats.NaNCount > 0 || stats.InfCount > 0 {
		return nil, &NumericError{
			Component: "Model",
			Phase:     "forward",
			ErrorType: "non-finite log-likelihood",
			Info:      stats,
			Cause:     "log_px contains NaN or Inf values",
		}
	}

	out := make([]float64, len(logPx.data))
	copy(out, logPx.data)
	return out, nil
}

// Sample draws n images by running the whole pipeline backward: prior draw,
// inverse flow, inverse logit-normalization. The symmetric ldj is computed
// but has no consumer in sampling mode.
func (m *Model) Sample(n int) ([][]float64, error) {
	if n <= 0 {
		return nil, errorf("Sample requires n > 0, got %d", n)
	}

	z := m.prior.sample(n, m.dim)
	ldj := newTensor(n)

	x, ldj, err := m.flow.apply(z, ldj, true)
	if err != nil {
		return nil, err
	}
	x, _ = m.logitNormalize(x, ldj, true)

	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, m.dim)
		copy(row, x.data[i*m.dim:(i+1)*m.dim])
		out[i] = row
	}
	return out, nil
}

func (m *Model) toTensor(inputs [][]float64) (*tensor, error) {
	if len(inputs) == 0 {
		return nil, errors.New("nflow: no input examples provided")
	}
	for i, row := range inputs {
		if len(row) != m.dim {
			return nil, errorf("example %d has %d dims, model expects %d", i, len(row), m.dim)
		}
	}

	x := newTensor(len(inputs), m.dim)
	for i, row := range inputs {
		copy(x.data[i*m.dim:], row)
	}
	return x, nil
}

// modelState for weight serialization
type modelState struct {
	Weights [][]float64 `json:"weights"`
	Shapes  [][]int     `json:"shapes"`
}

// Save writes model weights to a JSON file.
func (m *Model) Save(path string) error {
	state := modelState{}
	for _, p := range m.flow.parameters() {
		data := make([]float64, len(p.data))
		copy(data, p.data)
		state.Weights = append(state.Weights, data)
		state.Shapes = append(state.Shapes, p.shape)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewEncoder(file).Encode(state)
}

// Load restores model weights from a JSON file written by Save. The model
// architecture must match.
func (m *Model) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var state modelState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return err
	}

	params := m.flow.parameters()
	if len(state.Weights) != len(params) {
		return errorf("checkpoint has %d weight tensors, model expects %d", len(state.Weights), len(params))
	}
	for i, p := range params {
		if len(state.Weights[i]) != len(p.data) {
			return errorf("weight tensor %d has %d values, model expects %d", i, len(state.Weights[i]), len(p.data))
		}
		copy(p.data, state.Weights[i])
	}
	return nil
}

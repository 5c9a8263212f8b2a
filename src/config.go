package nflow

// ModelConfig for model construction - ALL fields required
type ModelConfig struct {
	Height int
	Width  int
	NFlows int     // coupling pairs; the flow holds 2*NFlows layers
	Hidden int     // conditioner MLP width
	Alpha  float64 // logit-normalization shrink, keeps values off 0 and 1
	Seed   int64
}

// CompileConfig holds training-time settings - ALL fields required
type CompileConfig struct {
	Optimizer    Optimizer
	Metrics      []Metric
	GradientClip GradientClipConfig
}

// GradientClipConfig for gradient clipping
type GradientClipConfig struct {
	Mode     string // "norm", "value", or "none"
	MaxNorm  float64
	MaxValue float64
}

// FitConfig holds all training configuration - ALL fields required
type FitConfig struct {
	Epochs          int
	BatchSize       int
	Shuffle         bool
	ValidationSplit float64
}

// ValidateModelConfig checks all required fields are set
func ValidateModelConfig(cfg ModelConfig) error {
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return errorf("Height and Width must be > 0, got %dx%d", cfg.Height, cfg.Width)
	}
	if cfg.NFlows <= 0 {
		return errorf("NFlows must be > 0, got %d", cfg.NFlows)
	}
	if cfg.Hidden <= 0 {
		return errorf("Hidden must be > 0, got %d", cfg.Hidden)
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 0.5 {
		return errorf("Alpha must be in (0, 0.5), got %g", cfg.Alpha)
	}
	return nil
}

// ValidateFlowConfig checks all required fields are set
func ValidateFlowConfig(cfg FlowConfig) error {
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return errorf("Height and Width must be > 0, got %dx%d", cfg.Height, cfg.Width)
	}
	if cfg.NFlows <= 0 {
		return errorf("NFlows must be > 0, got %d", cfg.NFlows)
	}
	if cfg.Hidden <= 0 {
		return errorf("Hidden must be > 0, got %d", cfg.Hidden)
	}
	return nil
}

// ValidateCompileConfig checks all required fields are set
func ValidateCompileConfig(cfg CompileConfig) error {
	if cfg.Optimizer == nil {
		return errorf("Optimizer is required")
	}
	if cfg.GradientClip.Mode == "" {
		return errorf("GradientClip.Mode is required - use 'none' if not needed")
	}
	switch cfg.GradientClip.Mode {
	case "norm", "value", "none":
	default:
		return errorf("GradientClip.Mode must be 'norm', 'value' or 'none', got %q", cfg.GradientClip.Mode)
	}
	return nil
}

// ValidateFitConfig checks all required fields are set
func ValidateFitConfig(cfg FitConfig) error {
	if cfg.Epochs <= 0 {
		return errorf("Epochs must be > 0, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return errorf("BatchSize must be > 0, got %d", cfg.BatchSize)
	}
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit >= 1 {
		return errorf("ValidationSplit must be in [0, 1), got %f", cfg.ValidationSplit)
	}
	return nil
}

// Package nflow implements RealNVP-style normalizing flows for exact-likelihood
// density estimation and sampling on image data.
//
// The API follows an explicit-configuration style: every hyperparameter must
// be specified, there are no hidden defaults.
//
// Basic usage:
//
//	model, err := nflow.NewModel(nflow.ModelConfig{
//		Height: 28,
//		Width:  28,
//		NFlows: 4,
//		Hidden: 1024,
//		Alpha:  1e-5,
//		Seed:   42,
//	})
//
//	err = model.Compile(nflow.CompileConfig{
//		Optimizer: nflow.Adam(nflow.AdamConfig{
//			LR:      0.001,
//			Beta1:   0.9,
//			Beta2:   0.999,
//			Epsilon: 1e-8,
//		}),
//		Metrics: []nflow.Metric{nflow.BitsPerDim()},
//		GradientClip: nflow.GradientClipConfig{
//			Mode:    "norm",
//			MaxNorm: 10.0,
//		},
//	})
//
//	result, err := model.Fit(images, nflow.FitConfig{
//		Epochs:          40,
//		BatchSize:       128,
//		Shuffle:         true,
//		ValidationSplit: 0.1,
//	}, []nflow.Callback{
//		nflow.Progress(nflow.ProgressConfig{Every: 1}),
//	})
//
//	logPx, err := model.LogProb(images)
//	samples, err := model.Sample(36)
package nflow

// Version of the nflow library
const Version = "1.0.0"

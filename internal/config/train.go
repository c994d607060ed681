package config

import "errors"

// Train holds the options of a training run.
type Train struct {
	ShardDir  string
	OutputDir string
	NumPieces int

	NCtx                 int
	Stride               int
	BatchSize            int
	GradientAccumulation int
	Epochs               int
	LogStep              int

	LR          float64
	WarmupSteps int
	MaxGradNorm float64

	// Device names the accelerator set handed to the model. It is carried
	// explicitly instead of being read from process globals.
	Device string
	Seed   int64
}

// DefaultTrain returns the stock GPT-2 sized training options.
func DefaultTrain() Train {
	return Train{
		NumPieces:            100,
		NCtx:                 1024,
		Stride:               768,
		BatchSize:            8,
		GradientAccumulation: 1,
		Epochs:               5,
		LogStep:              1,
		LR:                   1.5e-4,
		WarmupSteps:          2000,
		MaxGradNorm:          1.0,
		Device:               "cpu",
		Seed:                 -1,
	}
}

// Validate returns every problem found, joined.
func (t Train) Validate() error {
	var errs []error
	if t.NumPieces <= 0 {
		errs = append(errs, invalid("num_pieces", "must be > 0, got %d", t.NumPieces))
	}
	if t.NCtx <= 0 {
		errs = append(errs, invalid("n_ctx", "must be > 0, got %d", t.NCtx))
	}
	if t.Stride <= 0 {
		errs = append(errs, invalid("stride", "must be > 0, got %d", t.Stride))
	}
	if t.BatchSize <= 0 {
		errs = append(errs, invalid("batch_size", "must be > 0, got %d", t.BatchSize))
	}
	if t.GradientAccumulation <= 0 {
		errs = append(errs, invalid("gradient_accumulation", "must be > 0, got %d", t.GradientAccumulation))
	}
	if t.Epochs <= 0 {
		errs = append(errs, invalid("epochs", "must be > 0, got %d", t.Epochs))
	}
	if t.LogStep <= 0 {
		errs = append(errs, invalid("log_step", "must be > 0, got %d", t.LogStep))
	}
	if t.LR <= 0 {
		errs = append(errs, invalid("lr", "must be > 0, got %g", t.LR))
	}
	if t.WarmupSteps < 0 {
		errs = append(errs, invalid("warmup_steps", "must be >= 0, got %d", t.WarmupSteps))
	}
	if t.MaxGradNorm < 0 {
		errs = append(errs, invalid("max_grad_norm", "must be >= 0, got %g", t.MaxGradNorm))
	}
	return errors.Join(errs...)
}

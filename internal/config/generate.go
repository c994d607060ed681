package config

import "errors"

// DeriveLength asks for half of the model's context length.
const DeriveLength = -1

// Generate holds the options of a generation run.
type Generate struct {
	Length      int
	Temperature float64
	TopK        int
	TopP        float64
	NSamples    int
	Workers     int
	Seed        int64
}

func DefaultGenerate() Generate {
	return Generate{
		Length:      DeriveLength,
		Temperature: 1.0,
		TopK:        8,
		TopP:        0,
		NSamples:    10,
		Workers:     1,
		Seed:        -1,
	}
}

// Validate checks the sampling options against a model whose context holds
// nCtx tokens.
func (g Generate) Validate(nCtx int) error {
	var errs []error
	if g.Temperature <= 0 {
		errs = append(errs, invalid("temperature", "must be > 0, got %g", g.Temperature))
	}
	if g.TopK < 0 {
		errs = append(errs, invalid("top_k", "must be >= 0, got %d", g.TopK))
	}
	if g.TopP < 0 || g.TopP > 1 {
		errs = append(errs, invalid("top_p", "must be in [0, 1], got %g", g.TopP))
	}
	if g.NSamples <= 0 {
		errs = append(errs, invalid("nsamples", "must be > 0, got %d", g.NSamples))
	}
	if g.Workers < 0 {
		errs = append(errs, invalid("workers", "must be >= 0, got %d", g.Workers))
	}
	if _, err := ResolveLength(g.Length, nCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ResolveLength turns the requested generation length into a concrete one.
// DeriveLength maps to nCtx/2; anything beyond the model context is rejected.
func ResolveLength(length, nCtx int) (int, error) {
	if length == DeriveLength {
		if nCtx <= 0 {
			return 0, invalid("length", "cannot derive from model context %d", nCtx)
		}
		return nCtx / 2, nil
	}
	if length <= 0 {
		return 0, invalid("length", "must be > 0 or %d, got %d", DeriveLength, length)
	}
	if nCtx > 0 && length > nCtx {
		return 0, invalid("length", "can't get samples longer than window size %d, got %d", nCtx, length)
	}
	return length, nil
}

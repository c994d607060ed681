package logits

import (
	"errors"
	"fmt"
)

var ErrNoCandidates = errors.New("logits: filtered distribution has no mass")

// SamplerConfig configures the behaviour of a Sampler.
type SamplerConfig struct {
	Temperature float64
	TopK        int
	TopP        float64
	// MinScore replaces suppressed entries. Nil means FilterValue; any other
	// value, zero included, is used as given.
	MinScore *float32
}

// Sampler draws one token per step from a truncated distribution. It reuses
// scratch buffers between calls and is not safe for concurrent use; give
// every generation run its own Sampler.
type Sampler struct {
	rng      Source
	cfg      SamplerConfig
	minScore float32
	f        filter
	prob     []float64
}

// NewSampler returns a sampler drawing from rng. A temperature <= 0 is
// rejected: greedy decoding is only reached through TopK == 1.
func NewSampler(cfg SamplerConfig, rng Source) (*Sampler, error) {
	if cfg.Temperature <= 0 {
		return nil, fmt.Errorf("logits: temperature must be > 0, got %g", cfg.Temperature)
	}
	if rng == nil {
		return nil, errors.New("logits: nil random source")
	}
	minScore := FilterValue
	if cfg.MinScore != nil {
		minScore = *cfg.MinScore
	}
	cfg.MinScore = &minScore
	return &Sampler{rng: rng, cfg: cfg, minScore: minScore}, nil
}

func (s *Sampler) Config() SamplerConfig {
	return s.cfg
}

// Sample draws a single index from scores. The steps are:
//
//  1. Scale by the inverse temperature.
//  2. Filter with top-k then top-p.
//  3. Softmax over the survivors.
//  4. Draw one index from the resulting categorical distribution.
//
// scores is modified in place.
func (s *Sampler) Sample(scores []float32) (int, error) {
	if len(scores) == 0 {
		return 0, errors.New("logits: empty score vector")
	}
	ApplyTemperature(scores, s.cfg.Temperature)
	s.f.apply(scores, s.cfg.TopK, s.cfg.TopP, s.minScore)
	s.prob = Softmax(scores, s.prob)
	id := Draw(s.prob, s.rng)
	if id < 0 {
		return 0, ErrNoCandidates
	}
	return id, nil
}

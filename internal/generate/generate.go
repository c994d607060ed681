// Package generate drives step-by-step sampling from an opaque model.
package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/shardgpt/internal/config"
	"github.com/samcharles93/shardgpt/internal/logits"
)

// Model returns next-token scores for the last position of tokens. The
// returned slice is owned by the caller and may be modified.
type Model interface {
	Forward(tokens []int) ([]float32, error)
}

// ContextLimiter is implemented by models with a bounded context.
type ContextLimiter interface {
	ContextLength() int
}

// StreamFunc receives every drawn token id as it is appended.
type StreamFunc func(id int)

type Options struct {
	TargetLength int
	Temperature  float64
	TopK         int
	TopP         float64
	// MinScore replaces filtered scores. Nil means logits.FilterValue.
	MinScore *float32
}

func (o Options) validate(m Model, seed []int) error {
	var errs []error
	if o.Temperature <= 0 {
		errs = append(errs, &config.Error{Field: "temperature", Msg: fmt.Sprintf("must be > 0, got %g", o.Temperature)})
	}
	if o.TargetLength < 0 {
		errs = append(errs, &config.Error{Field: "length", Msg: fmt.Sprintf("must be >= 0, got %d", o.TargetLength)})
	}
	if o.TopK < 0 {
		errs = append(errs, &config.Error{Field: "top_k", Msg: fmt.Sprintf("must be >= 0, got %d", o.TopK)})
	}
	if o.TopP < 0 || o.TopP > 1 {
		errs = append(errs, &config.Error{Field: "top_p", Msg: fmt.Sprintf("must be in [0, 1], got %g", o.TopP)})
	}
	if len(seed) == 0 {
		errs = append(errs, &config.Error{Field: "prefix", Msg: "seed context must hold at least one token"})
	}
	if cl, ok := m.(ContextLimiter); ok {
		if n := cl.ContextLength(); n > 0 && o.TargetLength > n {
			errs = append(errs, &config.Error{Field: "length", Msg: fmt.Sprintf("can't get samples longer than window size %d, got %d", n, o.TargetLength)})
		}
	}
	return errors.Join(errs...)
}

// Generate extends a copy of seed by opts.TargetLength tokens and returns
// the whole sequence. Invalid options are rejected before the model runs.
func Generate(ctx context.Context, m Model, seed []int, opts Options, rng logits.Source) ([]int, error) {
	return Stream(ctx, m, seed, opts, rng, nil)
}

// Stream is Generate with a callback for every drawn token.
func Stream(ctx context.Context, m Model, seed []int, opts Options, rng logits.Source, stream StreamFunc) ([]int, error) {
	if m == nil {
		return nil, errors.New("generate: nil model")
	}
	if err := opts.validate(m, seed); err != nil {
		return nil, err
	}
	sampler, err := logits.NewSampler(logits.SamplerConfig{
		Temperature: opts.Temperature,
		TopK:        opts.TopK,
		TopP:        opts.TopP,
		MinScore:    opts.MinScore,
	}, rng)
	if err != nil {
		return nil, err
	}

	target := len(seed) + opts.TargetLength
	tokens := make([]int, len(seed), target)
	copy(tokens, seed)

	for len(tokens) < target {
		if err := ctx.Err(); err != nil {
			return tokens, err
		}
		scores, err := m.Forward(tokens)
		if err != nil {
			return tokens, fmt.Errorf("generate: forward at position %d: %w", len(tokens), err)
		}
		next, err := sampler.Sample(scores)
		if err != nil {
			return tokens, fmt.Errorf("generate: sample at position %d: %w", len(tokens), err)
		}
		tokens = append(tokens, next)
		if stream != nil {
			stream(next)
		}
	}
	return tokens, nil
}

package generate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Factory builds a model instance for one sample. Models that keep mutable
// per-sequence state must return a fresh instance on every call.
type Factory func() (Model, error)

// SamplesConfig describes n independent generations from the same seed.
type SamplesConfig struct {
	Factory Factory
	Seed    []int
	N       int
	Options Options
	// Workers bounds how many samples run at once. Values below 2 run the
	// samples one after another.
	Workers int
	// BaseSeed seeds sample i's random source with BaseSeed+i.
	BaseSeed int64
	// OnToken is called for every drawn token. With Workers > 1 it is called
	// from several goroutines.
	OnToken func(sample, id int)
}

// Samples runs cfg.N generations. Each one gets its own copy of the seed,
// its own model from the factory and its own random source, so no state is
// shared between samples.
func Samples(ctx context.Context, cfg SamplesConfig) ([][]int, error) {
	if cfg.Factory == nil {
		return nil, errors.New("generate: nil model factory")
	}
	if cfg.N <= 0 {
		return nil, fmt.Errorf("generate: nsamples must be > 0, got %d", cfg.N)
	}

	out := make([][]int, cfg.N)
	runOne := func(i int) error {
		m, err := cfg.Factory()
		if err != nil {
			return fmt.Errorf("generate: sample %d: build model: %w", i, err)
		}
		var stream StreamFunc
		if cfg.OnToken != nil {
			stream = func(id int) { cfg.OnToken(i, id) }
		}
		rng := rand.New(rand.NewSource(cfg.BaseSeed + int64(i)))
		toks, err := Stream(ctx, m, cfg.Seed, cfg.Options, rng, stream)
		if err != nil {
			return fmt.Errorf("generate: sample %d: %w", i, err)
		}
		out[i] = toks
		return nil
	}

	if cfg.Workers < 2 {
		for i := 0; i < cfg.N; i++ {
			if err := runOne(i); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)
	for i := 0; i < cfg.N; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if first == nil {
				first = err
			}
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			if err := runOne(i); err != nil {
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if first != nil {
		return nil, first
	}
	return out, nil
}

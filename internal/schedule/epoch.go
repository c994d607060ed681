// Package schedule plans one training epoch: shard order, window phase,
// window order and batch partitioning.
package schedule

import (
	"fmt"

	"github.com/samcharles93/shardgpt/internal/corpus"
	"github.com/samcharles93/shardgpt/internal/window"
)

// Rand is the randomness the planner consumes. *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Shuffle(n int, swap func(i, j int))
}

type Options struct {
	BatchSize int
	NCtx      int
	Stride    int
}

func (o Options) validate() error {
	if o.BatchSize <= 0 {
		return fmt.Errorf("schedule: batch_size must be > 0, got %d", o.BatchSize)
	}
	return window.Validate(o.NCtx, o.Stride, 0)
}

// Batch is batch_size windows drawn from a single shard.
type Batch struct {
	// Shard is the index of the shard the windows come from.
	Shard int
	// Piece is the position of that shard in the epoch's shard order.
	Piece int
	// Step is the batch's position within its shard.
	Step    int
	Windows []window.Window
}

// Materialize copies the batch's windows out of the shard. Inputs and labels
// hold identical ids; the model applies the next-token shift itself.
func (b Batch) Materialize(s corpus.Shard) (inputs, labels [][]int) {
	inputs = make([][]int, len(b.Windows))
	labels = make([][]int, len(b.Windows))
	for i, w := range b.Windows {
		toks := w.Tokens(s)
		inputs[i] = append([]int(nil), toks...)
		labels[i] = append([]int(nil), toks...)
	}
	return inputs, labels
}

// Stats summarizes one planned epoch.
type Stats struct {
	Shards  int
	Windows int
	Dropped int
	Batches int
}

// Plan is the outcome of PlanEpoch.
type Plan struct {
	Order   []int
	Batches []Batch
	Stats   Stats
}

// PlanEpoch permutes the shards, draws a fresh phase for each one, shuffles
// the shard's windows and cuts them into full batches. Windows left over
// after the last full batch of a shard are dropped. PlanEpoch keeps no state
// between calls.
func PlanEpoch(shards []corpus.Shard, opts Options, rng Rand) (Plan, error) {
	if err := opts.validate(); err != nil {
		return Plan{}, err
	}
	if rng == nil {
		return Plan{}, fmt.Errorf("schedule: nil random source")
	}

	order := make([]int, len(shards))
	for i := range order {
		order[i] = i
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	plan := Plan{Order: order}
	plan.Stats.Shards = len(shards)
	for piece, idx := range order {
		s := shards[idx]
		phase := rng.Intn(opts.Stride)
		ws := window.Collect(s, opts.NCtx, opts.Stride, phase)
		rng.Shuffle(len(ws), func(i, j int) { ws[i], ws[j] = ws[j], ws[i] })

		full := len(ws) / opts.BatchSize
		for step := 0; step < full; step++ {
			plan.Batches = append(plan.Batches, Batch{
				Shard:   s.Index,
				Piece:   piece,
				Step:    step,
				Windows: ws[step*opts.BatchSize : (step+1)*opts.BatchSize : (step+1)*opts.BatchSize],
			})
		}
		plan.Stats.Windows += len(ws)
		plan.Stats.Dropped += len(ws) - full*opts.BatchSize
		plan.Stats.Batches += full
	}
	return plan, nil
}

// EstimateSteps is the optimizer-update estimate used for progress reporting
// and the learning-rate horizon: floor(tokens / stride * epochs / batch / accum).
func EstimateSteps(totalTokens, stride, epochs, batchSize, accumulation int) int {
	if stride <= 0 || batchSize <= 0 || accumulation <= 0 {
		return 0
	}
	return int(float64(totalTokens) / float64(stride) * float64(epochs) / float64(batchSize) / float64(accumulation))
}

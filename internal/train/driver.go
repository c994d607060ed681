// Package train runs the epoch, shard and batch loop over a sharded corpus,
// applying gradient accumulation and writing a checkpoint per epoch.
package train

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/shardgpt/internal/checkpoint"
	"github.com/samcharles93/shardgpt/internal/config"
	"github.com/samcharles93/shardgpt/internal/corpus"
	"github.com/samcharles93/shardgpt/internal/logger"
	"github.com/samcharles93/shardgpt/internal/metrics"
	"github.com/samcharles93/shardgpt/internal/schedule"
)

// Model is the trainable collaborator. TrainStep adds gradients scaled by
// scale to its pending gradients and returns the unscaled batch loss.
type Model interface {
	TrainStep(inputs, labels [][]int, scale float64) (float64, error)
	ApplyUpdate(lr float64) error
	DiscardGradients()
	encoding.BinaryMarshaler
}

type Checkpointer interface {
	Save(ctx context.Context, tag string, meta checkpoint.Meta, state encoding.BinaryMarshaler) (checkpoint.Meta, error)
}

// Progress is emitted every LogStep optimizer updates.
type Progress struct {
	Epoch int
	Piece int
	// Step counts optimizer updates since the start of the run.
	Step  int
	Total int
	// Loss is the mean accumulated loss of the updates since the last report.
	Loss float64
	LR   float64
}

type Result struct {
	RunID          string
	Epochs         int
	Batches        int
	Updates        int
	Discarded      int
	EstimatedSteps int
	// Loss is the mean accumulated loss of the last completed epoch.
	Loss        float64
	Checkpoints []checkpoint.Meta
	// Model is always set, also when Run fails, so the caller can retry
	// persisting it.
	Model Model
}

type Driver struct {
	cfg      config.Train
	model    Model
	ckpt     Checkpointer
	sched    Schedule
	rng      schedule.Rand
	log      logger.Logger
	metrics  *metrics.Training
	runID    string
	progress func(Progress)
	now      func() time.Time
}

type Option func(*Driver)

func WithLogger(l logger.Logger) Option { return func(d *Driver) { d.log = l } }

func WithMetrics(m *metrics.Training) Option { return func(d *Driver) { d.metrics = m } }

// WithRand replaces the random source seeded from the configuration.
func WithRand(r schedule.Rand) Option { return func(d *Driver) { d.rng = r } }

// WithSchedule replaces the warmup-linear schedule derived from the
// configuration and the corpus size.
func WithSchedule(s Schedule) Option { return func(d *Driver) { d.sched = s } }

func WithRunID(id string) Option { return func(d *Driver) { d.runID = id } }

func WithProgress(fn func(Progress)) Option { return func(d *Driver) { d.progress = fn } }

func NewDriver(cfg config.Train, model Model, ckpt Checkpointer, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("train: nil model")
	}
	if ckpt == nil {
		return nil, errors.New("train: nil checkpointer")
	}
	d := &Driver{
		cfg:   cfg,
		model: model,
		ckpt:  ckpt,
		log:   logger.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.rng == nil {
		seed := cfg.Seed
		if seed < 0 {
			seed = time.Now().UnixNano()
		}
		d.rng = rand.New(rand.NewSource(seed))
	}
	if d.runID == "" {
		d.runID = uuid.NewString()
	}
	d.log = d.log.With("run_id", d.runID)
	return d, nil
}

func (d *Driver) RunID() string { return d.runID }

// Run trains for cfg.Epochs epochs over store. Shards must already be
// loaded; Run does no I/O except checkpoint writes.
func (d *Driver) Run(ctx context.Context, store *corpus.Store) (Result, error) {
	res := Result{RunID: d.runID, Model: d.model}
	if store == nil || len(store.Shards) == 0 {
		return res, errors.New("train: empty corpus")
	}
	cfg := d.cfg
	res.EstimatedSteps = schedule.EstimateSteps(store.TotalTokens(), cfg.Stride, cfg.Epochs, cfg.BatchSize, cfg.GradientAccumulation)
	sched := d.sched
	if sched == nil {
		sched = WarmupLinear{Base: cfg.LR, Warmup: cfg.WarmupSteps, Total: res.EstimatedSteps}
	}

	byIndex := make(map[int]corpus.Shard, len(store.Shards))
	for _, s := range store.Shards {
		byIndex[s.Index] = s
	}
	opts := schedule.Options{BatchSize: cfg.BatchSize, NCtx: cfg.NCtx, Stride: cfg.Stride}

	d.log.Info("starting training",
		"device", cfg.Device,
		"shards", len(store.Shards),
		"tokens", store.TotalTokens(),
		"total_steps", res.EstimatedSteps,
	)

	acc := NewAccumulator(cfg.GradientAccumulation)
	var (
		reportSum float64
		reportN   int
	)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		started := d.now()
		plan, err := schedule.PlanEpoch(store.Shards, opts, d.rng)
		if err != nil {
			return res, err
		}
		d.metrics.EpochStarted(epoch, plan.Stats.Windows, plan.Stats.Dropped)
		d.log.Info("epoch",
			"epoch", epoch,
			"windows", plan.Stats.Windows,
			"dropped", plan.Stats.Dropped,
			"batches", plan.Stats.Batches,
		)

		acc.Reset()
		var (
			epochSum     float64
			epochUpdates int
		)
		for _, b := range plan.Batches {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			inputs, labels := b.Materialize(byIndex[b.Shard])
			loss, err := d.model.TrainStep(inputs, labels, acc.Scale())
			if err == nil && (math.IsNaN(loss) || math.IsInf(loss, 0)) {
				err = fmt.Errorf("%w: %v", ErrNonFiniteLoss, loss)
			}
			if err != nil {
				d.model.DiscardGradients()
				return res, &StepError{Op: "train step", Epoch: epoch, Piece: b.Piece, Batch: b.Step, Err: err}
			}
			res.Batches++
			d.metrics.Batch()

			if !acc.Add(loss * acc.Scale()) {
				continue
			}
			lr := sched.LR(res.Updates)
			if err := d.model.ApplyUpdate(lr); err != nil {
				return res, &StepError{Op: "apply update", Epoch: epoch, Piece: b.Piece, Batch: b.Step, Err: err}
			}
			res.Updates++
			d.metrics.Update(lr)
			reportSum += acc.Loss()
			reportN++
			epochSum += acc.Loss()
			epochUpdates++
			acc.Reset()

			if res.Updates%cfg.LogStep == 0 {
				p := Progress{
					Epoch: epoch,
					Piece: b.Piece,
					Step:  res.Updates,
					Total: res.EstimatedSteps,
					Loss:  reportSum / float64(reportN),
					LR:    lr,
				}
				reportSum, reportN = 0, 0
				d.report(p)
			}
		}

		if n := acc.Pending(); n > 0 {
			d.model.DiscardGradients()
			res.Discarded++
			d.metrics.Discarded()
			d.log.Debug("discarding partial accumulation", "epoch", epoch, "batches", n)
			acc.Reset()
		}
		if epochUpdates > 0 {
			res.Loss = epochSum / float64(epochUpdates)
		}
		res.Epochs = epoch

		meta, err := d.save(ctx, checkpoint.EpochTag(epoch), epoch, res)
		if err != nil {
			return res, err
		}
		res.Checkpoints = append(res.Checkpoints, meta)

		elapsed := d.now().Sub(started)
		d.metrics.EpochFinished(elapsed)
		d.log.Info("epoch finished", "epoch", epoch, "loss", res.Loss, "updates", epochUpdates, "elapsed", elapsed)
	}

	d.log.Info("training finished", "updates", res.Updates, "batches", res.Batches)
	meta, err := d.save(ctx, checkpoint.FinalTag, res.Epochs, res)
	if err != nil {
		return res, err
	}
	res.Checkpoints = append(res.Checkpoints, meta)
	return res, nil
}

func (d *Driver) report(p Progress) {
	d.metrics.Report(p.Loss)
	d.log.Info("progress",
		"epoch", p.Epoch,
		"piece", p.Piece,
		"step", p.Step,
		"total_steps", p.Total,
		"loss", p.Loss,
		"lr", p.LR,
	)
	if d.progress != nil {
		d.progress(p)
	}
}

type vocabSizer interface {
	Vocab() int
}

type contextLimiter interface {
	ContextLength() int
}

// save writes a checkpoint, retrying once.
func (d *Driver) save(ctx context.Context, tag string, epoch int, res Result) (checkpoint.Meta, error) {
	meta := checkpoint.Meta{
		RunID:  d.runID,
		Epoch:  epoch,
		Step:   res.Updates,
		Loss:   res.Loss,
		NCtx:   d.cfg.NCtx,
		Device: d.cfg.Device,
	}
	if v, ok := d.model.(vocabSizer); ok {
		meta.Vocab = v.Vocab()
	}
	if c, ok := d.model.(contextLimiter); ok {
		meta.NCtx = c.ContextLength()
	}

	const attempts = 2
	var err error
	for i := 1; i <= attempts; i++ {
		var saved checkpoint.Meta
		saved, err = d.ckpt.Save(ctx, tag, meta, d.model)
		d.metrics.Checkpoint(err)
		if err == nil {
			d.log.Info("saved checkpoint", "tag", tag, "epoch", epoch, "step", res.Updates)
			return saved, nil
		}
		d.log.Warn("checkpoint write failed", "tag", tag, "attempt", i, "error", err)
		if ctx.Err() != nil {
			return checkpoint.Meta{}, &CheckpointError{Tag: tag, Attempts: i, Err: err}
		}
	}
	return checkpoint.Meta{}, &CheckpointError{Tag: tag, Attempts: attempts, Err: err}
}

package train

import (
	"context"
	"encoding"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/samcharles93/shardgpt/internal/checkpoint"
	"github.com/samcharles93/shardgpt/internal/config"
	"github.com/samcharles93/shardgpt/internal/corpus"
	"github.com/samcharles93/shardgpt/internal/logger"
	"github.com/samcharles93/shardgpt/internal/metrics"
)

var errBoom = errors.New("boom")

type fakeModel struct {
	t        *testing.T
	nCtx     int
	calls    int
	scales   []float64
	lrs      []float64
	discards int
	lossFn   func(call int) (float64, error)
	applyErr error
}

func (m *fakeModel) TrainStep(inputs, labels [][]int, scale float64) (float64, error) {
	m.calls++
	if len(inputs) != len(labels) {
		m.t.Errorf("rows: %d inputs, %d labels", len(inputs), len(labels))
	}
	for i := range inputs {
		if len(inputs[i]) != m.nCtx || !slices.Equal(inputs[i], labels[i]) {
			m.t.Errorf("row %d: inputs %v labels %v", i, inputs[i], labels[i])
		}
	}
	m.scales = append(m.scales, scale)
	if m.lossFn != nil {
		return m.lossFn(m.calls)
	}
	return 1, nil
}

func (m *fakeModel) ApplyUpdate(lr float64) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	m.lrs = append(m.lrs, lr)
	return nil
}

func (m *fakeModel) DiscardGradients() { m.discards++ }

func (m *fakeModel) MarshalBinary() ([]byte, error) { return []byte("state"), nil }

type fakeCheckpointer struct {
	failures int
	attempts []string
	saved    []checkpoint.Meta
}

func (c *fakeCheckpointer) Save(_ context.Context, tag string, meta checkpoint.Meta, state encoding.BinaryMarshaler) (checkpoint.Meta, error) {
	c.attempts = append(c.attempts, tag)
	if c.failures > 0 {
		c.failures--
		return checkpoint.Meta{}, errBoom
	}
	if _, err := state.MarshalBinary(); err != nil {
		return checkpoint.Meta{}, err
	}
	meta.Tag = tag
	c.saved = append(c.saved, meta)
	return meta, nil
}

func (c *fakeCheckpointer) tags() []string {
	var out []string
	for _, m := range c.saved {
		out = append(out, m.Tag)
	}
	return out
}

// testStore has three shards of 13 tokens. With n_ctx 4 and stride 2 every
// phase yields 5 windows, so batch size 2 gives 2 batches per shard.
func testStore() *corpus.Store {
	s := &corpus.Store{}
	for i := 0; i < 3; i++ {
		toks := make([]int, 13)
		for j := range toks {
			toks[j] = i*100 + j
		}
		s.Shards = append(s.Shards, corpus.Shard{Index: i, Tokens: toks})
	}
	return s
}

func testConfig() config.Train {
	cfg := config.DefaultTrain()
	cfg.NumPieces = 3
	cfg.NCtx = 4
	cfg.Stride = 2
	cfg.BatchSize = 2
	cfg.GradientAccumulation = 4
	cfg.Epochs = 2
	cfg.LogStep = 1
	cfg.LR = 1
	cfg.WarmupSteps = 0
	return cfg
}

func quietLogger() logger.Logger {
	return logger.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDriver(t *testing.T, cfg config.Train, m *fakeModel, c *fakeCheckpointer, opts ...Option) *Driver {
	t.Helper()
	m.t = t
	m.nCtx = cfg.NCtx
	base := []Option{
		WithLogger(quietLogger()),
		WithRand(rand.New(rand.NewSource(1))),
		WithRunID("run-1"),
	}
	d, err := NewDriver(cfg, m, c, append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestRunUpdateCadence(t *testing.T) {
	t.Parallel()

	m := &fakeModel{}
	c := &fakeCheckpointer{}
	reg := metrics.New()
	d := newTestDriver(t, testConfig(), m, c, WithMetrics(reg.Training))

	res, err := d.Run(context.Background(), testStore())
	if err != nil {
		t.Fatal(err)
	}
	// 6 batches per epoch, one update per 4 batches, 2 left over each epoch.
	if m.calls != 12 || res.Batches != 12 {
		t.Fatalf("train steps %d, batches %d, want 12", m.calls, res.Batches)
	}
	if len(m.lrs) != 2 || res.Updates != 2 {
		t.Fatalf("updates %d (%d), want 2", len(m.lrs), res.Updates)
	}
	if m.discards != 2 || res.Discarded != 2 {
		t.Fatalf("discards %d (%d), want 2", m.discards, res.Discarded)
	}
	for _, s := range m.scales {
		if s != 0.25 {
			t.Fatalf("scale %g, want 0.25", s)
		}
	}
	if got := c.tags(); !slices.Equal(got, []string{"epoch_1", "epoch_2", "final"}) {
		t.Fatalf("checkpoints %v", got)
	}
	for i, meta := range c.saved {
		if meta.RunID != "run-1" || meta.NCtx != 4 {
			t.Fatalf("checkpoint %d meta %+v", i, meta)
		}
	}
	if c.saved[0].Epoch != 1 || c.saved[1].Epoch != 2 || c.saved[2].Epoch != 2 {
		t.Fatalf("checkpoint epochs %d %d %d", c.saved[0].Epoch, c.saved[1].Epoch, c.saved[2].Epoch)
	}
	if res.Model != Model(m) || res.RunID != "run-1" || res.Epochs != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunReportsMeanAccumulatedLoss(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.GradientAccumulation = 2
	cfg.LogStep = 2
	m := &fakeModel{lossFn: func(call int) (float64, error) { return float64(call), nil }}

	var reports []Progress
	d := newTestDriver(t, cfg, m, &fakeCheckpointer{},
		WithSchedule(Constant(0.01)),
		WithProgress(func(p Progress) { reports = append(reports, p) }),
	)
	res, err := d.Run(context.Background(), testStore())
	if err != nil {
		t.Fatal(err)
	}

	// Update k accumulates (2k-1)/2 + 2k/2; report j averages updates 2j-1 and 2j.
	want := []float64{2.5, 6.5, 10.5}
	if len(reports) != len(want) {
		t.Fatalf("%d reports, want %d", len(reports), len(want))
	}
	for i, p := range reports {
		if p.Loss != want[i] {
			t.Fatalf("report %d loss %g, want %g", i, p.Loss, want[i])
		}
		if p.Step != 2*(i+1) || p.LR != 0.01 {
			t.Fatalf("report %d: %+v", i, p)
		}
	}
	if reports[0].Epoch != 1 || reports[2].Epoch != 2 {
		t.Fatalf("report epochs %d, %d", reports[0].Epoch, reports[2].Epoch)
	}
	if m.discards != 0 {
		t.Fatalf("unexpected discards %d", m.discards)
	}
	if res.Updates != 6 {
		t.Fatalf("updates %d, want 6", res.Updates)
	}
	for _, lr := range m.lrs {
		if lr != 0.01 {
			t.Fatalf("lr %g", lr)
		}
	}
}

func TestRunDefaultScheduleUsesStepEstimate(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.GradientAccumulation = 2
	m := &fakeModel{}
	res, err := newTestDriver(t, cfg, m, &fakeCheckpointer{}).Run(context.Background(), testStore())
	if err != nil {
		t.Fatal(err)
	}
	// floor(39 / 2 * 2 / 2 / 2) = 9
	if res.EstimatedSteps != 9 {
		t.Fatalf("estimate %d, want 9", res.EstimatedSteps)
	}
	for k, lr := range m.lrs {
		want := float64(9-k) / 9
		if math.Abs(lr-want) > 1e-12 {
			t.Fatalf("update %d lr %g, want %g", k, lr, want)
		}
	}
}

func TestRunStepErrorKeepsEarlierCheckpoints(t *testing.T) {
	t.Parallel()

	m := &fakeModel{lossFn: func(call int) (float64, error) {
		if call == 8 {
			return 0, errBoom
		}
		return 1, nil
	}}
	c := &fakeCheckpointer{}
	res, err := newTestDriver(t, testConfig(), m, c).Run(context.Background(), testStore())

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("got %v, want *StepError", err)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("cause lost: %v", err)
	}
	if stepErr.Epoch != 2 {
		t.Fatalf("failed in epoch %d, want 2", stepErr.Epoch)
	}
	if got := c.tags(); !slices.Equal(got, []string{"epoch_1"}) {
		t.Fatalf("checkpoints %v", got)
	}
	if m.calls != 8 || res.Model == nil {
		t.Fatalf("calls %d, model %v", m.calls, res.Model)
	}
}

func TestRunRejectsNonFiniteLoss(t *testing.T) {
	t.Parallel()

	for _, bad := range []float64{math.NaN(), math.Inf(1)} {
		m := &fakeModel{lossFn: func(int) (float64, error) { return bad, nil }}
		_, err := newTestDriver(t, testConfig(), m, &fakeCheckpointer{}).Run(context.Background(), testStore())
		if !errors.Is(err, ErrNonFiniteLoss) {
			t.Fatalf("loss %v: got %v", bad, err)
		}
		if m.calls != 1 {
			t.Fatalf("kept training after %v loss", bad)
		}
	}
}

func TestRunApplyUpdateError(t *testing.T) {
	t.Parallel()

	m := &fakeModel{applyErr: errBoom}
	_, err := newTestDriver(t, testConfig(), m, &fakeCheckpointer{}).Run(context.Background(), testStore())
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Op != "apply update" {
		t.Fatalf("got %v", err)
	}
}

func TestRunRetriesCheckpointOnce(t *testing.T) {
	t.Parallel()

	c := &fakeCheckpointer{failures: 1}
	_, err := newTestDriver(t, testConfig(), &fakeModel{}, c).Run(context.Background(), testStore())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(c.attempts, []string{"epoch_1", "epoch_1", "epoch_2", "final"}) {
		t.Fatalf("attempts %v", c.attempts)
	}
}

func TestRunCheckpointErrorPreservesModel(t *testing.T) {
	t.Parallel()

	m := &fakeModel{}
	c := &fakeCheckpointer{failures: 2}
	res, err := newTestDriver(t, testConfig(), m, c).Run(context.Background(), testStore())

	var ckErr *CheckpointError
	if !errors.As(err, &ckErr) {
		t.Fatalf("got %v, want *CheckpointError", err)
	}
	if ckErr.Tag != "epoch_1" || ckErr.Attempts != 2 || !errors.Is(err, errBoom) {
		t.Fatalf("unexpected error %+v", ckErr)
	}
	if res.Model != Model(m) {
		t.Fatal("result lost the in-memory model")
	}
	if m.calls != 6 {
		t.Fatalf("trained %d batches after the failed write", m.calls)
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &fakeModel{}
	_, err := newTestDriver(t, testConfig(), m, &fakeCheckpointer{}).Run(ctx, testStore())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if m.calls != 0 {
		t.Fatalf("model called %d times", m.calls)
	}
}

func TestNewDriverValidatesConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BatchSize = 0
	cfg.Stride = -1
	_, err := NewDriver(cfg, &fakeModel{}, &fakeCheckpointer{})
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("got %v, want config error", err)
	}
	if _, err := NewDriver(testConfig(), nil, &fakeCheckpointer{}); err == nil {
		t.Fatal("nil model accepted")
	}
}

func TestRunEmptyCorpus(t *testing.T) {
	t.Parallel()

	d := newTestDriver(t, testConfig(), &fakeModel{}, &fakeCheckpointer{})
	if _, err := d.Run(context.Background(), &corpus.Store{}); err == nil {
		t.Fatal("expected error")
	}
}

// longContextModel trains on windows shorter than its own context.
type longContextModel struct {
	*fakeModel
	nCtx int
}

func (m longContextModel) ContextLength() int { return m.nCtx }

func TestCheckpointRecordsModelContext(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Epochs = 1
	fm := &fakeModel{t: t, nCtx: cfg.NCtx}
	c := &fakeCheckpointer{}
	d, err := NewDriver(cfg, longContextModel{fakeModel: fm, nCtx: 16}, c,
		WithLogger(quietLogger()),
		WithRand(rand.New(rand.NewSource(1))),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background(), testStore()); err != nil {
		t.Fatal(err)
	}
	if len(c.saved) == 0 {
		t.Fatal("no checkpoints saved")
	}
	for _, meta := range c.saved {
		if meta.NCtx != 16 {
			t.Fatalf("checkpoint %s records n_ctx %d, want the model's 16", meta.Tag, meta.NCtx)
		}
	}
}

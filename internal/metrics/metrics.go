// Package metrics exposes training and generation counters to Prometheus.
// Every method is safe on a nil receiver so callers can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shardgpt"

// Registry owns a private Prometheus registry and the collectors on it.
type Registry struct {
	reg        *prometheus.Registry
	Training   *Training
	Generation *Generation
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:        reg,
		Training:   newTraining(promauto.With(reg)),
		Generation: newGeneration(promauto.With(reg)),
	}
}

// TrainingMetrics returns nil on a nil registry.
func (r *Registry) TrainingMetrics() *Training {
	if r == nil {
		return nil
	}
	return r.Training
}

// GenerationMetrics returns nil on a nil registry.
func (r *Registry) GenerationMetrics() *Generation {
	if r == nil {
		return nil
	}
	return r.Generation
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

type Training struct {
	batches       prometheus.Counter
	updates       prometheus.Counter
	discarded     prometheus.Counter
	windows       prometheus.Counter
	dropped       prometheus.Counter
	loss          prometheus.Gauge
	lr            prometheus.Gauge
	epoch         prometheus.Gauge
	epochDuration prometheus.Histogram
	checkpoints   *prometheus.CounterVec
}

func newTraining(f promauto.Factory) *Training {
	return &Training{
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_batches_total",
			Help:      "Total number of batches passed to the model",
		}),
		updates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_updates_total",
			Help:      "Total number of optimizer updates",
		}),
		discarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_discarded_accumulations_total",
			Help:      "Partial gradient accumulations dropped at epoch end",
		}),
		windows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_windows_total",
			Help:      "Windows produced by the epoch scheduler",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "train_windows_dropped_total",
			Help:      "Windows dropped because they did not fill a batch",
		}),
		loss: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_loss",
			Help:      "Mean loss over the last progress report",
		}),
		lr: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_learning_rate",
			Help:      "Learning rate of the last update",
		}),
		epoch: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_epoch",
			Help:      "Current epoch (1-based)",
		}),
		epochDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "train_epoch_duration_seconds",
			Help:      "Wall time of one epoch",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		checkpoints: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoint write attempts by result",
		}, []string{"result"}),
	}
}

func (t *Training) EpochStarted(epoch, windows, dropped int) {
	if t == nil {
		return
	}
	t.epoch.Set(float64(epoch))
	t.windows.Add(float64(windows))
	t.dropped.Add(float64(dropped))
}

func (t *Training) EpochFinished(d time.Duration) {
	if t == nil {
		return
	}
	t.epochDuration.Observe(d.Seconds())
}

func (t *Training) Batch() {
	if t == nil {
		return
	}
	t.batches.Inc()
}

func (t *Training) Update(lr float64) {
	if t == nil {
		return
	}
	t.updates.Inc()
	t.lr.Set(lr)
}

func (t *Training) Discarded() {
	if t == nil {
		return
	}
	t.discarded.Inc()
}

func (t *Training) Report(loss float64) {
	if t == nil {
		return
	}
	t.loss.Set(loss)
}

// Checkpoint counts one write attempt.
func (t *Training) Checkpoint(err error) {
	if t == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	t.checkpoints.WithLabelValues(result).Inc()
}

type Generation struct {
	requests        *prometheus.CounterVec
	tokens          prometheus.Counter
	duration        prometheus.Histogram
	tokensPerSecond prometheus.Histogram
}

func newGeneration(f promauto.Factory) *Generation {
	return &Generation{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generate_requests_total",
			Help:      "Generation requests by mode and status",
		}, []string{"mode", "status"}),
		tokens: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generate_tokens_total",
			Help:      "Total number of generated tokens",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generate_duration_seconds",
			Help:      "Duration of generation requests",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		}),
		tokensPerSecond: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generate_tokens_per_second",
			Help:      "Tokens generated per second",
			Buckets:   []float64{10, 50, 100, 200, 500, 1000, 5000},
		}),
	}
}

// Observe records one finished request.
func (g *Generation) Observe(mode string, tokens int, d time.Duration, err error) {
	if g == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	g.requests.WithLabelValues(mode, status).Inc()
	g.tokens.Add(float64(tokens))
	g.duration.Observe(d.Seconds())
	if s := d.Seconds(); s > 0 && tokens > 0 {
		g.tokensPerSecond.Observe(float64(tokens) / s)
	}
}

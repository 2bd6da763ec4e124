package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/pool-failover/internal/alert"
	"github.com/angeloszaimis/pool-failover/internal/analyzer"
	"github.com/angeloszaimis/pool-failover/internal/metrics"
	"github.com/angeloszaimis/pool-failover/internal/outcome"
	"github.com/angeloszaimis/pool-failover/internal/tailer"
)

// parseWarnEvery controls how often consecutive parse failures are logged.
const parseWarnEvery = 10

type Options struct {
	Path         string
	PollInterval time.Duration
	StartAtEnd   bool
	WindowSize   int
	MinSamples   int
	// CountMasked counts an outcome whose first upstream attempt failed as an
	// error even when a retry succeeded.
	CountMasked bool
	// ActivePool is the pool expected to serve traffic at startup.
	ActivePool string
	Alert      alert.Config
}

// Snapshot is the published view of the pipeline.
type Snapshot struct {
	Alert         alert.State `json:"alert"`
	Ratio         float64     `json:"ratio"`
	Errors        int         `json:"errors"`
	Samples       int         `json:"samples"`
	WindowSize    int         `json:"window_size"`
	MinSamples    int         `json:"min_samples"`
	Processed     int64       `json:"processed"`
	ParseFailures int64       `json:"parse_failures"`
	LogOffset     int64       `json:"log_offset"`
	LogResets     int         `json:"log_resets"`
}

type Watcher struct {
	tailer      *tailer.Tailer
	analyzer    *analyzer.Analyzer
	machine     alert.Machine
	dispatcher  *alert.Dispatcher
	collector   *metrics.Collector
	logger      *slog.Logger
	interval    time.Duration
	countMasked bool
	now         func() time.Time

	// owned by the pipeline goroutine
	state               alert.State
	parseFailures       int64
	consecutiveFailures int

	mutex     sync.RWMutex
	published Snapshot
}

func New(opts Options, dispatcher *alert.Dispatcher, collector *metrics.Collector, logger *slog.Logger) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	w := &Watcher{
		tailer:      tailer.New(opts.Path, opts.StartAtEnd),
		analyzer:    analyzer.New(opts.WindowSize, opts.MinSamples),
		machine:     alert.NewMachine(opts.Alert),
		dispatcher:  dispatcher,
		collector:   collector,
		logger:      logger,
		interval:    opts.PollInterval,
		countMasked: opts.CountMasked,
		now:         time.Now,
	}

	w.state = alert.Initial(opts.ActivePool, w.now())
	w.publish()

	return w
}

// Run tails the outcome log until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	cfg := w.machine.Config()
	w.logger.Info("Watcher started",
		slog.String("path", w.tailer.Path()),
		slog.Int("window_size", w.analyzer.Capacity()),
		slog.Int("min_samples", w.analyzer.MinSamples()),
		slog.Float64("raise_above", cfg.RaiseAbove),
		slog.Float64("clear_at_or_below", cfg.ClearAtOrBelow),
		slog.Duration("cooldown", cfg.Cooldown),
		slog.Int("clear_samples", cfg.ClearSamples))

	tailer.Run(ctx, w.tailer, w.interval, w.logger, func(lines []string) {
		w.Process(ctx, lines)
	})

	w.logger.Info("Watcher stopped")
}

// Poll reads whatever the log gained since the last read and processes it.
func (w *Watcher) Poll(ctx context.Context) error {
	lines, err := w.tailer.Poll()
	if err != nil {
		return err
	}
	w.Process(ctx, lines)
	return nil
}

// Process handles one batch of log lines. It must only be called from the
// pipeline goroutine.
func (w *Watcher) Process(ctx context.Context, lines []string) {
	for _, line := range lines {
		o, err := outcome.Parse(line)
		if err != nil {
			w.parseFailures++
			w.consecutiveFailures++
			w.logger.Debug("Skipping unparsable log line", slog.Any("err", err))
			if w.consecutiveFailures%parseWarnEvery == 0 {
				w.logger.Warn("Consecutive unparsable log lines",
					slog.Int("count", w.consecutiveFailures),
					slog.Any("last_err", err))
			}
			continue
		}
		w.consecutiveFailures = 0

		w.observe(ctx, o)
	}

	w.publish()
}

func (w *Watcher) observe(ctx context.Context, o outcome.Outcome) {
	w.analyzer.Ingest(o.IsError(w.countMasked))

	at := o.Time
	if at.IsZero() {
		at = w.now()
	}

	obs := alert.Observation{
		At:      at,
		Ratio:   w.analyzer.CurrentRatio(),
		Errors:  w.analyzer.Errors(),
		Samples: w.analyzer.Len(),
		Ready:   w.analyzer.Ready(),
		Total:   w.analyzer.Total(),
		Pool:    o.Pool,
	}

	next, events := w.machine.Reduce(w.state, obs)
	w.state = next

	w.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventErrorRatio,
		Ratio:   obs.Ratio,
		Samples: obs.Samples,
	})

	for _, ev := range events {
		w.collector.Emit(metrics.MetricEvent{
			Type:      metrics.EventAlert,
			AlertKind: string(ev.Kind),
			Alerting:  next.Status == alert.StatusAlerting,
		})

		if w.dispatcher == nil {
			continue
		}
		if _, err := w.dispatcher.Dispatch(ctx, ev); err != nil {
			w.logger.Warn("Alert delivery incomplete",
				slog.String("kind", string(ev.Kind)),
				slog.Any("err", err))
		}
	}
}

func (w *Watcher) publish() {
	snap := Snapshot{
		Alert:         w.state,
		Ratio:         w.analyzer.CurrentRatio(),
		Errors:        w.analyzer.Errors(),
		Samples:       w.analyzer.Len(),
		WindowSize:    w.analyzer.Capacity(),
		MinSamples:    w.analyzer.MinSamples(),
		Processed:     w.analyzer.Total(),
		ParseFailures: w.parseFailures,
		LogOffset:     w.tailer.Offset(),
		LogResets:     w.tailer.Resets(),
	}

	w.mutex.Lock()
	w.published = snap
	w.mutex.Unlock()
}

// Snapshot returns the last published state. Safe for concurrent use.
func (w *Watcher) Snapshot() Snapshot {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.published
}

package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/angeloszaimis/pool-failover/internal/metrics"
	"github.com/angeloszaimis/pool-failover/internal/pool"
)

const (
	DefaultPath     = "/healthz"
	DefaultTimeout  = 2 * time.Second
	DefaultInterval = 2 * time.Second
)

// ProbeError describes a failed liveness check. It is never fatal.
type ProbeError struct {
	Pool       string
	StatusCode int
	Err        error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe %s: %v", e.Pool, e.Err)
	}
	return fmt.Sprintf("probe %s: unexpected status %d", e.Pool, e.StatusCode)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the probe failed because its deadline expired.
func (e *ProbeError) Timeout() bool {
	var netErr interface{ Timeout() bool }
	if errors.As(e.Err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

type Options struct {
	Path             string
	Timeout          time.Duration
	Interval         time.Duration
	FailureThreshold int
}

// Prober checks pool liveness. One Prober can drive any number of pools.
type Prober struct {
	client    *http.Client
	path      string
	interval  time.Duration
	threshold int
	logger    *slog.Logger
	collector *metrics.Collector
	now       func() time.Time
}

func New(opts Options, logger *slog.Logger, collector *metrics.Collector) *Prober {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = 1
	}

	return &Prober{
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		path:      opts.Path,
		interval:  opts.Interval,
		threshold: opts.FailureThreshold,
		logger:    logger,
		collector: collector,
		now:       time.Now,
	}
}

// Probe issues one liveness check against p and records the outcome.
func (pr *Prober) Probe(ctx context.Context, p *pool.Pool) error {
	start := pr.now()
	err := pr.check(ctx, p)
	at := pr.now()

	if err != nil && ctx.Err() != nil {
		return err
	}

	pr.collector.Emit(metrics.MetricEvent{
		Type:     metrics.EventProbeResult,
		Pool:     p.Name(),
		Duration: at.Sub(start),
		Failed:   err != nil,
	})

	var changed bool
	if err == nil {
		changed = p.RecordSuccess(at)
	} else {
		changed = p.RecordFailure(at, pr.threshold)
	}

	if changed {
		healthy := err == nil
		pr.collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventHealthChanged,
			Pool:    p.Name(),
			Healthy: healthy,
		})

		if healthy {
			pr.logger.Info("Pool is back up",
				slog.String("pool", p.Name()),
				slog.String("url", p.URL().String()))
		} else {
			pr.logger.Warn("Pool is down",
				slog.String("pool", p.Name()),
				slog.String("url", p.URL().String()),
				slog.Int("consecutive_failures", p.Status().ConsecutiveFailures),
				slog.Any("err", err))
		}
	} else if err != nil {
		pr.logger.Debug("Health probe failed",
			slog.String("pool", p.Name()),
			slog.Any("err", err))
	}

	return err
}

func (pr *Prober) check(ctx context.Context, p *pool.Pool) error {
	healthURL := p.URL().ResolveReference(&url.URL{Path: pr.path})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return &ProbeError{Pool: p.Name(), Err: err}
	}

	res, err := pr.client.Do(req)
	if err != nil {
		return &ProbeError{Pool: p.Name(), Err: err}
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &ProbeError{Pool: p.Name(), StatusCode: res.StatusCode}
	}

	return nil
}

// Run probes p immediately and then on every interval until ctx is done.
func (pr *Prober) Run(ctx context.Context, p *pool.Pool) {
	ticker := time.NewTicker(pr.interval)
	defer ticker.Stop()

	_ = pr.Probe(ctx, p)

	for {
		select {
		case <-ctx.Done():
			pr.logger.Info("Health check stopped",
				slog.String("pool", p.Name()))
			return

		case <-ticker.C:
			_ = pr.Probe(ctx, p)
		}
	}
}

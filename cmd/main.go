package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/angeloszaimis/pool-failover/config"
	"github.com/angeloszaimis/pool-failover/internal/alert"
	"github.com/angeloszaimis/pool-failover/internal/circuitbreaker"
	"github.com/angeloszaimis/pool-failover/internal/failover"
	"github.com/angeloszaimis/pool-failover/internal/healthcheck"
	"github.com/angeloszaimis/pool-failover/internal/httpserver"
	"github.com/angeloszaimis/pool-failover/internal/metrics"
	"github.com/angeloszaimis/pool-failover/internal/outcome"
	"github.com/angeloszaimis/pool-failover/internal/pool"
	"github.com/angeloszaimis/pool-failover/internal/watcher"
	"github.com/angeloszaimis/pool-failover/pkg/logger"
)

const metricsBufferSize = 1024

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Exiting", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(metricsBufferSize, log)
	collector.Start(ctx)

	breakers := buildBreakers(cfg)

	outcomes, err := outcome.Open(cfg.OutcomeLog.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := outcomes.Close(); err != nil {
			log.Error("Failed to close outcome log", slog.Any("err", err))
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startProbers(ctx, &wg, cfg, registry, collector, log)

	var w *watcher.Watcher
	if cfg.Watcher.Enabled {
		w = watcher.New(watcherOptions(cfg, registry), alert.NewDispatcher(
			log.With(slog.String("component", "alert")),
			cfg.Watcher.AlertCooldown,
			alertSinks(cfg, log)...,
		), collector, log.With(slog.String("component", "watcher")))

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	router := failover.New(registry, breakers, outcomes, collector, log.With(slog.String("component", "router")), failover.Options{
		ConnectTimeout:    cfg.Proxy.ConnectTimeout,
		ResponseTimeout:   cfg.Proxy.ResponseTimeout,
		RetryBudget:       cfg.Proxy.RetryBudget,
		RetryableStatuses: cfg.Proxy.RetryableStatuses,
	})

	proxySrv, err := httpserver.New(cfg.Server.Address, router, httpserver.Options{
		WriteTimeout:    proxyWriteTimeout(cfg),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("router listener: %w", err)
	}

	adminSrv, err := httpserver.New(cfg.Server.AdminAddress, newAdminRouter(registry, breakers, collector, w), httpserver.Options{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("admin listener: %w", err)
	}

	srvErrCh := make(chan error, 2)
	go func() {
		srvErrCh <- proxySrv.Start()
	}()
	go func() {
		srvErrCh <- adminSrv.Start()
	}()

	primary, backup := registry.Primary(), registry.Backup()
	log.Info("Failover router started",
		slog.String("address", cfg.Server.Address),
		slog.String("admin_address", cfg.Server.AdminAddress),
		slog.String("primary", primary.Name()),
		slog.String("primary_url", primary.URL().String()),
		slog.String("backup", backup.Name()),
		slog.String("backup_url", backup.URL().String()))

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case runErr = <-srvErrCh:
		log.Error("Listener failed", slog.Any("err", runErr))
	}

	shutdownErr := errors.Join(
		proxySrv.Shutdown(context.Background()),
		adminSrv.Shutdown(context.Background()),
	)
	if shutdownErr != nil {
		log.Error("Error during shutdown", slog.Any("err", shutdownErr))
	}

	return runErr
}

// buildRegistry applies pools.active and validates the pair.
func buildRegistry(cfg *config.Config) (*pool.Registry, error) {
	primary, backup := cfg.Pools.Ordered()

	return pool.NewRegistry(
		pool.Spec{Name: primary.Name, URL: primary.URL, Release: primary.Release},
		pool.Spec{Name: backup.Name, URL: backup.URL, Release: backup.Release},
	)
}

// buildBreakers returns nil when passive failure tracking is disabled.
func buildBreakers(cfg *config.Config) *circuitbreaker.Registry {
	if cfg.Proxy.PassiveMaxFails < 1 || cfg.Proxy.PassiveFailTimeout <= 0 {
		return nil
	}
	return circuitbreaker.NewRegistry(cfg.Proxy.PassiveMaxFails, cfg.Proxy.PassiveFailTimeout)
}

func startProbers(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, registry *pool.Registry,
	collector *metrics.Collector, log *slog.Logger) {
	prober := healthcheck.New(healthcheck.Options{
		Path:             cfg.HealthCheck.Path,
		Timeout:          cfg.HealthCheck.Timeout,
		Interval:         cfg.HealthCheck.Interval,
		FailureThreshold: cfg.HealthCheck.FailureThreshold,
	}, log.With(slog.String("component", "healthcheck")), collector)

	for _, p := range registry.Pools() {
		wg.Add(1)
		go func(p *pool.Pool) {
			defer wg.Done()
			prober.Run(ctx, p)
		}(p)
	}
}

func watcherOptions(cfg *config.Config, registry *pool.Registry) watcher.Options {
	wc := cfg.Watcher

	clearSamples := wc.ClearSamples
	if clearSamples == 0 {
		clearSamples = wc.WindowSize
	}

	return watcher.Options{
		Path:         cfg.OutcomeLog.Path,
		PollInterval: wc.PollInterval,
		StartAtEnd:   wc.StartAtEnd,
		WindowSize:   wc.WindowSize,
		MinSamples:   wc.MinSamples,
		CountMasked:  wc.CountMaskedFailures,
		ActivePool:   registry.Primary().Name(),
		Alert: alert.Config{
			RaiseAbove:     wc.RaiseAbove(),
			ClearAtOrBelow: wc.ClearAtOrBelow(),
			Cooldown:       wc.Cooldown,
			ClearSamples:   clearSamples,
		},
	}
}

func alertSinks(cfg *config.Config, log *slog.Logger) []alert.Sink {
	sinks := []alert.Sink{alert.NewLogSink(log.With(slog.String("component", "alert")))}

	if cfg.Watcher.SlackWebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookSink(cfg.Watcher.SlackWebhookURL, cfg.Watcher.WebhookTimeout))
	} else {
		log.Info("No webhook configured, alerts go to the log only")
	}

	return sinks
}

// proxyWriteTimeout leaves room for every planned attempt.
func proxyWriteTimeout(cfg *config.Config) time.Duration {
	perAttempt := cfg.Proxy.ConnectTimeout + cfg.Proxy.ResponseTimeout
	return max(15*time.Second, 2*perAttempt+5*time.Second)
}

// Poolsim is a stand-in for one pool of the backend application, used to
// exercise the failover router locally.
//
// Usage:
//
//	go run ./cmd/poolsim -port 8081 -name blue -release blue-v1.0.0
//	curl -X POST 'localhost:8081/chaos/start?mode=error'
//
// It serves /healthz and /version and answers everything else with a small
// JSON body. The chaos endpoints switch it into returning 500s (mode=error)
// or hanging past the router's deadlines (mode=timeout) until /chaos/stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/angeloszaimis/pool-failover/internal/httpserver"
	"github.com/angeloszaimis/pool-failover/pkg/logger"
)

func main() {
	port := flag.Int("port", envInt("PORT", 8081), "port to listen on")
	name := flag.String("name", envString("APP_POOL", "blue"), "pool name reported in X-App-Pool")
	release := flag.String("release", envString("RELEASE_ID", ""), "release reported in X-Release-Id")
	flag.Parse()

	if *release == "" {
		*release = *name
	}

	log := logger.New("info", false, "dev").With(slog.String("pool", *name))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := httpserver.New(fmt.Sprintf(":%d", *port), newSimulator(*name, *release, log).Handler(), httpserver.Options{})
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info("Pool simulator started", slog.Int("port", *port), slog.String("release", *release))

	select {
	case <-ctx.Done():
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-errCh:
		if err != nil {
			log.Error("Server failed", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	var n int
	if _, err := fmt.Sscanf(os.Getenv(key), "%d", &n); err != nil {
		return fallback
	}
	return n
}

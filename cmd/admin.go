package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/angeloszaimis/pool-failover/internal/circuitbreaker"
	"github.com/angeloszaimis/pool-failover/internal/metrics"
	"github.com/angeloszaimis/pool-failover/internal/pool"
	"github.com/angeloszaimis/pool-failover/internal/watcher"
)

type poolReport struct {
	Name    string      `json:"name"`
	Role    pool.Role   `json:"role"`
	URL     string      `json:"url"`
	Release string      `json:"release"`
	Status  pool.Status `json:"status"`
}

type statusReport struct {
	Time     time.Time                       `json:"time"`
	Pools    []poolReport                    `json:"pools"`
	Breakers map[string]circuitbreaker.State `json:"breakers,omitempty"`
	Watcher  *watcher.Snapshot               `json:"watcher,omitempty"`
	Metrics  metrics.Snapshot                `json:"metrics"`
}

// newAdminRouter serves the operational endpoints on the admin listener.
// breakers and wt may be nil.
func newAdminRouter(registry *pool.Registry, breakers *circuitbreaker.Registry, collector *metrics.Collector, wt *watcher.Watcher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/metrics", collector.Handler())
	r.Get("/metrics/snapshot", collector.SnapshotHandler())

	r.Get("/status", func(rw http.ResponseWriter, req *http.Request) {
		report := statusReport{
			Time:    time.Now().UTC(),
			Metrics: collector.Snapshot(),
		}

		for _, p := range registry.Pools() {
			report.Pools = append(report.Pools, poolReport{
				Name:    p.Name(),
				Role:    p.Role(),
				URL:     p.URL().String(),
				Release: p.Release(),
				Status:  p.Status(),
			})
		}

		if breakers != nil {
			report.Breakers = breakers.Stats()
		}

		if wt != nil {
			snap := wt.Snapshot()
			report.Watcher = &snap
		}

		rw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(rw).Encode(report); err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
		}
	})

	return r
}

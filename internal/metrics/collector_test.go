package metrics_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angeloszaimis/pool-failover/internal/metrics"
)

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		log       *slog.Logger
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(100, log)
	})

	AfterEach(func() {
		cancel()
	})

	Describe("Emit", func() {
		It("should be a no-op on a nil collector", func() {
			var c *metrics.Collector
			Expect(func() { c.Emit(metrics.MetricEvent{Type: metrics.EventRequestRouted}) }).NotTo(Panic())
		})

		It("should not block when the buffer is full", func() {
			small := metrics.NewCollector(1, log)
			done := make(chan struct{})
			go func() {
				for i := 0; i < 10; i++ {
					small.Emit(metrics.MetricEvent{Type: metrics.EventRequestRouted, Pool: "blue"})
				}
				close(done)
			}()
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("event processing", func() {
		It("should apply routed requests", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{
				Type:       metrics.EventRequestRouted,
				Pool:       "blue",
				Duration:   50 * time.Millisecond,
				StatusCode: 200,
				Attempts:   1,
			})

			Eventually(func() int64 {
				return collector.Snapshot().Pools["blue"].Requests
			}).Should(Equal(int64(1)))
		})

		It("should apply health changes", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{Type: metrics.EventHealthChanged, Pool: "green", Healthy: true})

			Eventually(func() bool {
				return collector.Snapshot().Pools["green"].Healthy
			}).Should(BeTrue())
		})

		It("should drain buffered events on cancellation", func() {
			for i := 0; i < 5; i++ {
				collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestRouted, Pool: "blue", StatusCode: 200})
			}

			collector.Start(ctx)
			cancel()

			Eventually(func() int64 {
				return collector.Snapshot().Pools["blue"].Requests
			}).Should(Equal(int64(5)))
		})
	})

	Describe("Handler", func() {
		It("should expose prometheus metrics", func() {
			collector.Start(ctx)
			collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestRouted, Pool: "blue", StatusCode: 200})
			collector.Emit(metrics.MetricEvent{Type: metrics.EventProbeResult, Pool: "blue", Failed: true})

			Eventually(func() (int, error) {
				return testutil.GatherAndCount(collector.Registry(), "failover_requests_total", "failover_health_probes_total")
			}).Should(Equal(2))

			rec := httptest.NewRecorder()
			collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`failover_health_probes_total{pool="blue",result="failure"} 1`))
		})
	})

	Describe("SnapshotHandler", func() {
		It("should serve JSON", func() {
			rec := httptest.NewRecorder()
			collector.SnapshotHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(rec.Body.String()).To(ContainSubstring(`"total_requests":0`))
		})
	})
})

// Package metrics collects routing, probing and alerting metrics for the
// failover router.
//
// Producers never touch the metric state directly. They push MetricEvent
// values into a buffered channel with non-blocking sends, and a single
// collector goroutine applies them to:
//   - Prometheus collectors on a private registry, served by Handler
//   - an in-memory per-pool aggregate (requests, errors, retries, latency
//     percentiles, health) returned by Snapshot for the admin /status page
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventRequestRouted,
//		Pool:       "blue",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
// On shutdown the collector drains whatever is still buffered.
package metrics

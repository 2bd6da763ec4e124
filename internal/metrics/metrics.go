package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const maxLatencySamples = 1000

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	attemptFailures  *prometheus.CounterVec
	probesTotal      *prometheus.CounterVec
	probeDuration    *prometheus.HistogramVec
	poolHealthy      *prometheus.GaugeVec
	errorRatio       prometheus.Gauge
	windowSamples    prometheus.Gauge
	alerting         prometheus.Gauge
	alertEventsTotal *prometheus.CounterVec
	droppedEvents    prometheus.Counter

	mutex         sync.RWMutex
	requests      map[string]int64
	errors        map[string]int64
	retried       map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	healthStatus  map[string]bool
	ratio         float64
	samples       int
	isAlerting    bool
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                  `json:"total_requests"`
	Uptime        time.Duration          `json:"uptime"`
	Pools         map[string]PoolMetrics `json:"pools"`
	ErrorRatio    float64                `json:"error_ratio"`
	WindowSamples int                    `json:"window_samples"`
	Alerting      bool                   `json:"alerting"`
}

type PoolMetrics struct {
	Requests    int64         `json:"requests"`
	Errors      int64         `json:"errors"`
	Retried     int64         `json:"retried"`
	Healthy     bool          `json:"healthy"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "failover_requests_total",
			Help: "Requests routed, by serving pool and status class",
		}, []string{"pool", "class", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "failover_request_duration_seconds",
			Help:    "End-to-end routing latency including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"pool"}),
		attemptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "failover_attempt_failures_total",
			Help: "Upstream attempts that failed and were retried or surfaced",
		}, []string{"pool"}),
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "failover_health_probes_total",
			Help: "Health probes issued, by pool and result",
		}, []string{"pool", "result"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "failover_health_probe_duration_seconds",
			Help:    "Health probe latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
		}, []string{"pool"}),
		poolHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "failover_pool_healthy",
			Help: "1 if the prober considers the pool healthy",
		}, []string{"pool"}),
		errorRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watcher_error_ratio",
			Help: "Error ratio over the rolling window",
		}),
		windowSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watcher_window_samples",
			Help: "Outcomes currently held in the rolling window",
		}),
		alerting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watcher_alerting",
			Help: "1 while the error-rate alert is raised",
		}),
		alertEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watcher_alert_events_total",
			Help: "Alert events emitted, by kind",
		}, []string{"kind"}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metrics_dropped_events_total",
			Help: "Metric events dropped because the collector buffer was full",
		}),
		requests:      make(map[string]int64),
		errors:        make(map[string]int64),
		retried:       make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		healthStatus:  make(map[string]bool),
		startTime:     time.Now(),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.attemptFailures,
		m.probesTotal,
		m.probeDuration,
		m.poolHealthy,
		m.errorRatio,
		m.windowSamples,
		m.alerting,
		m.alertEventsTotal,
		m.droppedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func statusClass(code int) string {
	if code >= 500 || code == 0 {
		return "error"
	}
	return "success"
}

func (m *Metrics) RecordRequest(pool string, duration time.Duration, statusCode int, attempts int) {
	class := statusClass(statusCode)
	m.requestsTotal.WithLabelValues(pool, class, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(pool).Observe(duration.Seconds())

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requests[pool]++
	if class == "error" {
		m.errors[pool]++
	}
	if attempts > 1 {
		m.retried[pool]++
	}

	m.responseTimes[pool] = append(m.responseTimes[pool], duration)
	if len(m.responseTimes[pool]) > maxLatencySamples {
		m.responseTimes[pool] = m.responseTimes[pool][1:]
	}

	if m.statusCodes[pool] == nil {
		m.statusCodes[pool] = make(map[int]int64)
	}
	m.statusCodes[pool][statusCode]++
}

func (m *Metrics) RecordAttemptFailure(pool string) {
	m.attemptFailures.WithLabelValues(pool).Inc()
}

func (m *Metrics) RecordProbe(pool string, ok bool, duration time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.probesTotal.WithLabelValues(pool, result).Inc()
	m.probeDuration.WithLabelValues(pool).Observe(duration.Seconds())
}

func (m *Metrics) UpdateHealthStatus(pool string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	m.poolHealthy.WithLabelValues(pool).Set(value)

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[pool] = healthy
}

func (m *Metrics) UpdateErrorRatio(ratio float64, samples int) {
	m.errorRatio.Set(ratio)
	m.windowSamples.Set(float64(samples))

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ratio = ratio
	m.samples = samples
}

func (m *Metrics) RecordAlert(kind string, alerting bool) {
	if kind != "" {
		m.alertEventsTotal.WithLabelValues(kind).Inc()
	}

	value := 0.0
	if alerting {
		value = 1
	}
	m.alerting.Set(value)

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.isAlerting = alerting
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:        time.Since(m.startTime),
		Pools:         make(map[string]PoolMetrics),
		ErrorRatio:    m.ratio,
		WindowSamples: m.samples,
		Alerting:      m.isAlerting,
	}

	allPools := make(map[string]bool)
	for pool := range m.requests {
		allPools[pool] = true
	}
	for pool := range m.healthStatus {
		allPools[pool] = true
	}

	for pool := range allPools {
		snap.TotalRequests += m.requests[pool]

		codes := make(map[int]int64, len(m.statusCodes[pool]))
		for code, n := range m.statusCodes[pool] {
			codes[code] = n
		}

		pm := PoolMetrics{
			Requests:    m.requests[pool],
			Errors:      m.errors[pool],
			Retried:     m.retried[pool],
			Healthy:     m.healthStatus[pool],
			StatusCodes: codes,
		}

		durations := m.responseTimes[pool]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			pm.AvgResponse = average(sorted)
			pm.P50Response = percentile(sorted, 0.50)
			pm.P95Response = percentile(sorted, 0.95)
			pm.P99Response = percentile(sorted, 0.99)
		}

		snap.Pools[pool] = pm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}

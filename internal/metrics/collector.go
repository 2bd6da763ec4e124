package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestRouted EventType = "request_routed"
	EventAttemptFailed EventType = "attempt_failed"
	EventProbeResult   EventType = "probe_result"
	EventHealthChanged EventType = "health_changed"
	EventErrorRatio    EventType = "error_ratio"
	EventAlert         EventType = "alert"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Pool       string
	Duration   time.Duration
	StatusCode int
	Attempts   int
	Failed     bool
	Healthy    bool
	Ratio      float64
	Samples    int
	Alerting   bool
	AlertKind  string
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues an event without blocking. Events are dropped when the buffer
// is full. A nil collector is a no-op so callers may run without metrics.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.metrics.droppedEvents.Inc()
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestRouted:
		c.metrics.RecordRequest(event.Pool, event.Duration, event.StatusCode, event.Attempts)

	case EventAttemptFailed:
		c.metrics.RecordAttemptFailure(event.Pool)

	case EventProbeResult:
		c.metrics.RecordProbe(event.Pool, !event.Failed, event.Duration)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Pool, event.Healthy)

	case EventErrorRatio:
		c.metrics.UpdateErrorRatio(event.Ratio, event.Samples)

	case EventAlert:
		c.metrics.RecordAlert(event.AlertKind, event.Alerting)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}

package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Dispatcher assigns event IDs and fans events out to every sink.
// Failover notifications are throttled to one per cooldown.
type Dispatcher struct {
	sinks    []Sink
	limiters map[EventKind]*rate.Limiter
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger, failoverCooldown time.Duration, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		sinks:    sinks,
		limiters: make(map[EventKind]*rate.Limiter),
		logger:   logger,
	}

	if failoverCooldown > 0 {
		d.limiters[EventFailover] = rate.NewLimiter(rate.Every(failoverCooldown), 1)
	}

	return d
}

// Dispatch delivers ev to all sinks and returns the joined sink errors. It
// returns false when the event was suppressed by the cooldown.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	if limiter, ok := d.limiters[ev.Kind]; ok && !limiter.AllowN(ev.At, 1) {
		d.logger.Info("Alert on cooldown",
			slog.String("kind", string(ev.Kind)),
			slog.String("pool", ev.Pool))
		return false, nil
	}

	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Notify(ctx, ev); err != nil {
			var sinkErr *SinkError
			if !errors.As(err, &sinkErr) {
				err = &SinkError{Sink: sink.Name(), Err: err}
			}
			d.logger.Error("Failed to deliver alert",
				slog.String("sink", sink.Name()),
				slog.String("kind", string(ev.Kind)),
				slog.Any("err", err))
			errs = append(errs, err)
		}
	}

	return true, errors.Join(errs...)
}

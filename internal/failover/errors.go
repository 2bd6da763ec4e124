package failover

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var errRetryableStatus = errors.New("retryable upstream status")

// RouteError describes one failed upstream attempt.
type RouteError struct {
	Pool       string
	Attempt    int
	StatusCode int
	Err        error
}

func (e *RouteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("pool %s attempt %d: status %d", e.Pool, e.Attempt, e.StatusCode)
	}
	return fmt.Sprintf("pool %s attempt %d: %v", e.Pool, e.Attempt, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the attempt failed because a deadline expired.
func (e *RouteError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

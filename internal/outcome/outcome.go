package outcome

import "time"

type Class string

const (
	ClassSuccess Class = "success"
	ClassError   Class = "error"
)

// ClassOf maps an HTTP status to its class. Anything 5xx is an error, as is
// a zero status (no response at all).
func ClassOf(status int) Class {
	if status == 0 || status >= 500 {
		return ClassError
	}
	return ClassSuccess
}

// Outcome is one routed request. It is immutable once written.
type Outcome struct {
	Time           time.Time `json:"ts"`
	RequestID      string    `json:"request_id,omitempty"`
	Method         string    `json:"method,omitempty"`
	Path           string    `json:"path,omitempty"`
	Pool           string    `json:"pool"`
	Release        string    `json:"release,omitempty"`
	Status         int       `json:"status"`
	Class          Class     `json:"class"`
	UpstreamStatus []int     `json:"upstream_status,omitempty"`
	Attempts       int       `json:"attempts,omitempty"`
	LatencyMS      float64   `json:"latency_ms"`
}

func (o Outcome) Latency() time.Duration {
	return time.Duration(o.LatencyMS * float64(time.Millisecond))
}

// FirstAttemptFailed reports whether the first upstream attempt returned an
// error status, even if a retry later succeeded.
func (o Outcome) FirstAttemptFailed() bool {
	return len(o.UpstreamStatus) > 0 && ClassOf(o.UpstreamStatus[0]) == ClassError
}

// IsError reports whether the outcome counts against the error rate. With
// countMasked set, a failure hidden by a successful retry still counts.
func (o Outcome) IsError(countMasked bool) bool {
	if o.Class == ClassError {
		return true
	}
	return countMasked && o.FirstAttemptFailed()
}

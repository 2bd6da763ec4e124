package alert

import (
	"fmt"
	"time"
)

type Status int

const (
	StatusOK Status = iota
	StatusAlerting
)

func (s Status) String() string {
	switch s {
	case StatusAlerting:
		return "ALERTING"
	default:
		return "OK"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type EventKind string

const (
	EventRaised   EventKind = "alert_raised"
	EventCleared  EventKind = "alert_cleared"
	EventFailover EventKind = "failover"
)

// Event describes one transition.
type Event struct {
	ID           string    `json:"id"`
	Kind         EventKind `json:"kind"`
	Pool         string    `json:"pool"`
	PreviousPool string    `json:"previous_pool,omitempty"`
	Ratio        float64   `json:"ratio"`
	Errors       int       `json:"errors"`
	Samples      int       `json:"samples"`
	Threshold    float64   `json:"threshold"`
	At           time.Time `json:"at"`
	Reason       string    `json:"reason"`
}

// State is the whole alert state. The clearing fields carry the hysteresis
// bookkeeping so Reduce needs nothing else.
type State struct {
	Status   Status    `json:"status"`
	Ratio    float64   `json:"ratio"`
	Pool     string    `json:"pool,omitempty"`
	Since    time.Time `json:"since"`
	LastPool string    `json:"last_pool,omitempty"`

	Clearing      bool      `json:"clearing"`
	ClearingSince time.Time `json:"clearing_since,omitempty"`
	ClearingFrom  int64     `json:"-"`
}

// Initial returns the OK state with activePool as the expected serving pool,
// so the first outcome from any other pool counts as a failover.
func Initial(activePool string, at time.Time) State {
	return State{Status: StatusOK, Since: at, LastPool: activePool}
}

// Observation is one reading taken after an outcome was ingested.
type Observation struct {
	At      time.Time
	Ratio   float64
	Errors  int
	Samples int
	Ready   bool
	Total   int64
	Pool    string
}

type Config struct {
	// RaiseAbove is T_high: raise when the ratio is strictly greater.
	RaiseAbove float64
	// ClearAtOrBelow is T_low. Zero means equal to RaiseAbove.
	ClearAtOrBelow float64
	// Cooldown is how long the ratio must stay at or below T_low.
	Cooldown time.Duration
	// ClearSamples is how many new samples the ratio must stay at or below
	// T_low for.
	ClearSamples int
}

type Machine struct {
	cfg Config
}

func NewMachine(cfg Config) Machine {
	if cfg.ClearAtOrBelow <= 0 || cfg.ClearAtOrBelow > cfg.RaiseAbove {
		cfg.ClearAtOrBelow = cfg.RaiseAbove
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.ClearSamples < 0 {
		cfg.ClearSamples = 0
	}
	return Machine{cfg: cfg}
}

func (m Machine) Config() Config {
	return m.cfg
}

// Reduce folds obs into prev.
func (m Machine) Reduce(prev State, obs Observation) (State, []Event) {
	next := prev
	var events []Event

	if obs.Pool != "" {
		if prev.LastPool != "" && obs.Pool != prev.LastPool {
			events = append(events, Event{
				Kind:         EventFailover,
				Pool:         obs.Pool,
				PreviousPool: prev.LastPool,
				Ratio:        obs.Ratio,
				Errors:       obs.Errors,
				Samples:      obs.Samples,
				At:           obs.At,
				Reason:       fmt.Sprintf("traffic shifted from %s to %s", prev.LastPool, obs.Pool),
			})
		}
		next.LastPool = obs.Pool
	}

	switch prev.Status {
	case StatusOK:
		if obs.Ready && obs.Ratio > m.cfg.RaiseAbove {
			next.Status = StatusAlerting
			next.Ratio = obs.Ratio
			next.Pool = obs.Pool
			next.Since = obs.At
			next.Clearing = false
			next.ClearingSince = time.Time{}
			next.ClearingFrom = 0

			events = append(events, Event{
				Kind:      EventRaised,
				Pool:      obs.Pool,
				Ratio:     obs.Ratio,
				Errors:    obs.Errors,
				Samples:   obs.Samples,
				Threshold: m.cfg.RaiseAbove,
				At:        obs.At,
				Reason: fmt.Sprintf("error rate %.2f%% (%d/%d) above %.2f%% on pool %s",
					obs.Ratio*100, obs.Errors, obs.Samples, m.cfg.RaiseAbove*100, obs.Pool),
			})
		}

	case StatusAlerting:
		if !obs.Ready {
			break
		}

		next.Ratio = obs.Ratio

		if obs.Ratio > m.cfg.ClearAtOrBelow {
			next.Clearing = false
			next.ClearingSince = time.Time{}
			next.ClearingFrom = 0
			break
		}

		if !prev.Clearing {
			next.Clearing = true
			next.ClearingSince = obs.At
			next.ClearingFrom = obs.Total
		}

		sustained := obs.At.Sub(next.ClearingSince) >= m.cfg.Cooldown &&
			obs.Total-next.ClearingFrom >= int64(m.cfg.ClearSamples)
		if !sustained {
			break
		}

		events = append(events, Event{
			Kind:      EventCleared,
			Pool:      prev.Pool,
			Ratio:     obs.Ratio,
			Errors:    obs.Errors,
			Samples:   obs.Samples,
			Threshold: m.cfg.ClearAtOrBelow,
			At:        obs.At,
			Reason: fmt.Sprintf("error rate %.2f%% (%d/%d) at or below %.2f%% since %s",
				obs.Ratio*100, obs.Errors, obs.Samples, m.cfg.ClearAtOrBelow*100,
				next.ClearingSince.UTC().Format(time.RFC3339)),
		})

		next = State{
			Status:   StatusOK,
			Ratio:    obs.Ratio,
			Since:    obs.At,
			LastPool: next.LastPool,
		}
	}

	return next, events
}

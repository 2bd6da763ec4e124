package circuitbreaker

import (
	"sync"
	"time"
)

// Registry hands out one breaker per pool name.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	timeout   time.Duration
	now       func() time.Time
}

func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return NewRegistryWithClock(threshold, timeout, time.Now)
}

// NewRegistryWithClock is NewRegistry with an injectable clock.
func NewRegistryWithClock(threshold int, timeout time.Duration, now func() time.Time) *Registry {
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
		now:       now,
	}
}

func (r *Registry) GetBreaker(pool string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[pool]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// another goroutine may have created it
	if cb, exists = r.breakers[pool]; exists {
		return cb
	}

	cb = newCircuitBreaker(r.threshold, r.timeout, r.now)
	r.breakers[pool] = cb
	return cb
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for pool, cb := range r.breakers {
		stats[pool] = cb.State()
	}
	return stats
}

// Package circuitbreaker tracks passive failures of routed requests per pool.
//
// It mirrors the max_fails/fail_timeout behaviour of a classic reverse proxy:
// after a pool fails MaxFails routed attempts in a row its breaker opens and
// the router prefers the other pool until the fail timeout has elapsed. It
// never touches the prober-owned health of a pool.
//
//   - CLOSED: normal operation
//   - OPEN: recent routed failures, pool demoted
//   - HALF-OPEN: fail timeout elapsed, the next attempt decides
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(1, 5*time.Second)
//	cb := registry.GetBreaker("blue")
//	if cb.Allow() {
//	    // route to blue, then
//	    cb.RecordFailure() // or cb.RecordSuccess()
//	}
package circuitbreaker

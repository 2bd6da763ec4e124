package pool

import (
	"net/url"
	"sync"
	"time"
)

// Role identifies the part a pool plays in the failover pair.
type Role string

const (
	RolePrimary Role = "primary"
	RoleBackup  Role = "backup"
)

// Health is the prober's view of a pool.
type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthUnhealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Status is a point-in-time copy of a pool's health cell.
type Status struct {
	Health              Health    `json:"-"`
	HealthName          string    `json:"health"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastChecked         time.Time `json:"last_checked"`
}

// Pool is one replica set of the backend application.
type Pool struct {
	name    string
	role    Role
	url     *url.URL
	release string

	mutex               sync.RWMutex
	health              Health
	consecutiveFailures int
	lastChecked         time.Time
}

func newPool(name string, role Role, u *url.URL, release string) *Pool {
	return &Pool{
		name:    name,
		role:    role,
		url:     u,
		release: release,
		health:  HealthUnknown,
	}
}

// Name returns the identity reported in the X-App-Pool header.
func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Role() Role {
	return p.role
}

// URL returns the pool's base endpoint.
func (p *Pool) URL() *url.URL {
	return p.url
}

// Release returns the release tag reported in the X-Release-Id header.
func (p *Pool) Release() string {
	return p.release
}

// Status returns a consistent copy of the health cell.
func (p *Pool) Status() Status {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return Status{
		Health:              p.health,
		HealthName:          p.health.String(),
		ConsecutiveFailures: p.consecutiveFailures,
		LastChecked:         p.lastChecked,
	}
}

// IsUnhealthy reports whether the prober has marked the pool down.
// Unknown counts as routable.
func (p *Pool) IsUnhealthy() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.health == HealthUnhealthy
}

// RecordSuccess marks the pool healthy and resets the failure counter.
// Returns true if the health value changed.
func (p *Pool) RecordSuccess(at time.Time) (changed bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.lastChecked = at
	p.consecutiveFailures = 0

	if p.health == HealthHealthy {
		return false
	}

	p.health = HealthHealthy
	return true
}

// RecordFailure bumps the consecutive failure counter and marks the pool
// unhealthy once the counter reaches threshold. Returns true if the health
// value changed.
func (p *Pool) RecordFailure(at time.Time, threshold int) (changed bool) {
	if threshold < 1 {
		threshold = 1
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.lastChecked = at
	p.consecutiveFailures++

	if p.consecutiveFailures < threshold || p.health == HealthUnhealthy {
		return false
	}

	p.health = HealthUnhealthy
	return true
}

// Package healthcheck probes each pool's liveness endpoint on a fixed
// interval and records the result in the pool's health cell. Each pool gets
// its own loop; a pool is marked unhealthy only after a configured number of
// consecutive failed probes.
package healthcheck

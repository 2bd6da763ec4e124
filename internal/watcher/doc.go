// Package watcher runs the log-driven half of the system: it tails the
// outcome log, feeds each parsed outcome into the rolling window, folds the
// resulting ratio through the alert state machine and hands transitions to
// the dispatcher. Everything happens on one goroutine in log order; other
// goroutines only see published snapshots.
package watcher

// Package alert turns error-ratio observations into alert transitions.
//
// Machine.Reduce is a pure function of the previous State and one
// Observation. It raises when the ratio exceeds the raise threshold with
// enough samples, and clears only after the ratio has stayed at or below the
// clear threshold for a cooldown measured both in time and in new samples.
// It also reports when the pool serving traffic changes.
//
// Events leave the package through a Dispatcher, which fans them out to
// Sinks (the process log, a Slack-compatible webhook). Delivery is best
// effort: a failing sink never undoes a transition.
package alert

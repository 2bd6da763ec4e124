// Package pool describes the two upstream pools the router fails over between.
// A Registry holds exactly one primary and one backup Pool; each Pool carries
// its static endpoint and release tag plus a health cell that only the health
// prober writes and the router reads through consistent snapshots.
package pool

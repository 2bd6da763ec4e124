// Package failover implements the request router that sits in front of the
// primary/backup pool pair.
//
// Every request gets an explicit attempt plan taken from one health snapshot:
// the preferred pool first and, when the retry budget allows, the other pool
// second. Connection errors, timeouts and retryable upstream statuses move the
// request to the next planned attempt. Only the final attempt may write to the
// client, so a failure masked by a retry is never visible downstream. Each
// request produces exactly one outcome record for the watcher.
package failover

// Package config loads the router and watcher configuration from defaults,
// an optional config.yaml and the environment, and validates it.
//
// Environment variables mirror the key path with "." replaced by "_"
// (POOLS_PRIMARY_URL, WATCHER_WINDOW_SIZE). The variable names used by the
// original compose deployment are also honoured: ACTIVE_POOL,
// ERROR_RATE_THRESHOLD, WINDOW_SIZE, ALERT_COOLDOWN_SEC, SLACK_WEBHOOK_URL
// and PORT.
package config

// Package outcome defines the per-request routing record and its on-disk
// form. The router appends one JSON line per request through a zap core
// writing to an O_APPEND file, so the watcher can tail the file while it is
// being written. Parse also understands nginx-style key=value access lines.
package outcome

// Package logger builds the slog loggers shared by the router and the
// watcher. Production output is JSON; every other environment gets the text
// handler.
package logger

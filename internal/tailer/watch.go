package tailer

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Run polls t every interval and hands each non-empty batch to fn, in file
// order, on the calling goroutine. Writes reported by fsnotify trigger an
// early poll; if the watch cannot be set up Run falls back to the ticker.
// Read errors are logged and the loop continues.
func Run(ctx context.Context, t *Tailer, interval time.Duration, logger *slog.Logger, fn func([]string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("File notifications unavailable, polling only", slog.Any("err", err))
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(t.Path())); err != nil {
			logger.Warn("Cannot watch log directory, polling only",
				slog.String("dir", filepath.Dir(t.Path())),
				slog.Any("err", err))
		} else {
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	poll := func() {
		lines, err := t.Poll()
		if err != nil {
			logger.Error("Failed to read outcome log",
				slog.String("path", t.Path()),
				slog.Any("err", err))
			return
		}
		if len(lines) > 0 {
			fn(lines)
		}
	}

	logger.Info("Tailing outcome log",
		slog.String("path", t.Path()),
		slog.Duration("interval", interval))

	poll()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Tailer stopped", slog.String("path", t.Path()))
			return

		case <-ticker.C:
			poll()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(t.Path()) && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				poll()
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("File notification error", slog.Any("err", err))
		}
	}
}

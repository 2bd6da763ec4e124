package watcher_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/pool-failover/internal/alert"
	"github.com/angeloszaimis/pool-failover/internal/outcome"
	"github.com/angeloszaimis/pool-failover/internal/watcher"
)

type recordingSink struct {
	mutex  sync.Mutex
	events []alert.Event
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Notify(_ context.Context, ev alert.Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Kinds() []alert.EventKind {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	kinds := make([]alert.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

type failingSink struct {
	calls atomic.Int32
}

func (s *failingSink) Name() string { return "failing" }

func (s *failingSink) Notify(context.Context, alert.Event) error {
	s.calls.Add(1)
	return errors.New("webhook unreachable")
}

var _ = Describe("Watcher", func() {
	var (
		ctx    context.Context
		log    *slog.Logger
		path   string
		writer *outcome.Writer
		sink   *recordingSink
		opts   watcher.Options
		start  time.Time
	)

	emit := func(pool string, status int, n int) {
		for i := 0; i < n; i++ {
			start = start.Add(time.Millisecond)
			writer.Write(outcome.Outcome{
				Time:           start,
				Pool:           pool,
				Release:        pool + "-v1",
				Status:         status,
				Class:          outcome.ClassOf(status),
				UpstreamStatus: []int{status},
				Attempts:       1,
			})
		}
	}

	newWatcher := func() *watcher.Watcher {
		dispatcher := alert.NewDispatcher(log, 0, sink)
		return watcher.New(opts, dispatcher, nil, log)
	}

	BeforeEach(func() {
		var err error

		ctx = context.Background()
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		path = filepath.Join(GinkgoT().TempDir(), "outcomes.log")
		writer, err = outcome.Open(path)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(writer.Close)

		sink = &recordingSink{}
		start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		opts = watcher.Options{
			Path:        path,
			WindowSize:  200,
			CountMasked: true,
			ActivePool:  "blue",
			Alert:       alert.Config{RaiseAbove: 0.02, ClearSamples: 200},
		}
	})

	It("should start OK on the active pool", func() {
		snap := newWatcher().Snapshot()
		Expect(snap.Alert.Status).To(Equal(alert.StatusOK))
		Expect(snap.Alert.LastPool).To(Equal("blue"))
		Expect(snap.WindowSize).To(Equal(200))
	})

	It("should raise an alert at 5 errors in 200 requests", func() {
		w := newWatcher()
		emit("blue", 200, 195)
		emit("blue", 502, 5)

		Expect(w.Poll(ctx)).To(Succeed())

		snap := w.Snapshot()
		Expect(snap.Alert.Status).To(Equal(alert.StatusAlerting))
		Expect(snap.Alert.Ratio).To(Equal(0.025))
		Expect(snap.Alert.Pool).To(Equal("blue"))
		Expect(sink.Kinds()).To(Equal([]alert.EventKind{alert.EventRaised}))
	})

	It("should keep the alert raised when delivery fails", func() {
		failing := &failingSink{}
		w := watcher.New(opts, alert.NewDispatcher(log, 0, failing), nil, log)
		emit("blue", 200, 195)
		emit("blue", 502, 5)

		Expect(w.Poll(ctx)).To(Succeed())

		snap := w.Snapshot()
		Expect(snap.Alert.Status).To(Equal(alert.StatusAlerting))
		Expect(snap.Alert.Ratio).To(Equal(0.025))
		Expect(failing.calls.Load()).To(Equal(int32(1)))

		emit("blue", 502, 5)
		Expect(w.Poll(ctx)).To(Succeed())
		Expect(w.Snapshot().Alert.Status).To(Equal(alert.StatusAlerting))
		Expect(failing.calls.Load()).To(Equal(int32(1)))
	})

	It("should stay OK before the window has enough samples", func() {
		w := newWatcher()
		emit("blue", 500, 20)

		Expect(w.Poll(ctx)).To(Succeed())
		Expect(w.Snapshot().Alert.Status).To(Equal(alert.StatusOK))
		Expect(sink.Kinds()).To(BeEmpty())
	})

	It("should not count lines twice when polled again", func() {
		w := newWatcher()
		emit("blue", 200, 50)

		Expect(w.Poll(ctx)).To(Succeed())
		Expect(w.Poll(ctx)).To(Succeed())
		Expect(w.Snapshot().Processed).To(Equal(int64(50)))

		emit("blue", 200, 10)
		Expect(w.Poll(ctx)).To(Succeed())
		Expect(w.Snapshot().Processed).To(Equal(int64(60)))
	})

	It("should recover from truncation without double reading", func() {
		w := newWatcher()
		emit("blue", 200, 10)
		Expect(w.Poll(ctx)).To(Succeed())

		Expect(os.Truncate(path, 0)).To(Succeed())
		emit("blue", 200, 3)
		Expect(w.Poll(ctx)).To(Succeed())

		snap := w.Snapshot()
		Expect(snap.Processed).To(Equal(int64(13)))
		Expect(snap.LogResets).To(Equal(1))
	})

	It("should skip unparsable lines and count them", func() {
		w := newWatcher()

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		Expect(err).NotTo(HaveOccurred())
		for i := 0; i < 12; i++ {
			_, err = f.WriteString("not an outcome\n")
			Expect(err).NotTo(HaveOccurred())
		}
		_, err = f.WriteString(`pool="blue" release="blue-v1" upstream_status=502, 200 status=200 request_time=0.004` + "\n")
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Close()).To(Succeed())

		Expect(w.Poll(ctx)).To(Succeed())

		snap := w.Snapshot()
		Expect(snap.ParseFailures).To(Equal(int64(12)))
		Expect(snap.Processed).To(Equal(int64(1)))
		Expect(snap.Samples).To(Equal(1))
	})

	It("should count masked failures when enabled", func() {
		opts.WindowSize = 10
		w := newWatcher()

		for i := 0; i < 10; i++ {
			writer.Write(outcome.Outcome{
				Time:           start,
				Pool:           "blue",
				Status:         200,
				Class:          outcome.ClassSuccess,
				UpstreamStatus: []int{502, 200},
				Attempts:       2,
			})
		}
		Expect(w.Poll(ctx)).To(Succeed())
		Expect(w.Snapshot().Errors).To(Equal(10))
	})

	It("should ignore masked failures when disabled", func() {
		opts.WindowSize = 10
		opts.CountMasked = false
		w := newWatcher()

		for i := 0; i < 10; i++ {
			writer.Write(outcome.Outcome{
				Time:           start,
				Pool:           "blue",
				Status:         200,
				Class:          outcome.ClassSuccess,
				UpstreamStatus: []int{502, 200},
				Attempts:       2,
			})
		}
		Expect(w.Poll(ctx)).To(Succeed())
		Expect(w.Snapshot().Errors).To(BeZero())
	})

	It("should report a failover when another pool starts serving", func() {
		w := newWatcher()
		emit("blue", 200, 5)
		emit("green", 200, 5)

		Expect(w.Poll(ctx)).To(Succeed())
		Expect(sink.Kinds()).To(Equal([]alert.EventKind{alert.EventFailover}))
		Expect(w.Snapshot().Alert.LastPool).To(Equal("green"))
	})

	It("should clear after a full window of healthy traffic", func() {
		w := newWatcher()
		emit("blue", 500, 10)
		emit("blue", 200, 190)
		Expect(w.Poll(ctx)).To(Succeed())
		Expect(w.Snapshot().Alert.Status).To(Equal(alert.StatusAlerting))

		emit("blue", 200, 400)
		Expect(w.Poll(ctx)).To(Succeed())

		Expect(w.Snapshot().Alert.Status).To(Equal(alert.StatusOK))
		Expect(sink.Kinds()).To(Equal([]alert.EventKind{alert.EventRaised, alert.EventCleared}))
	})

	It("should process lines as they arrive while running", func() {
		opts.PollInterval = 20 * time.Millisecond
		w := newWatcher()

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			w.Run(runCtx)
		}()
		DeferCleanup(func() {
			cancel()
			Eventually(done).Should(BeClosed())
		})

		emit("blue", 200, 7)
		Eventually(func() int64 { return w.Snapshot().Processed }).Should(Equal(int64(7)))
	})
})

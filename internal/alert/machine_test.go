package alert_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/pool-failover/internal/alert"
)

var _ = Describe("Machine", func() {
	var (
		start time.Time
		m     alert.Machine
	)

	obs := func(at time.Time, errors, samples int, total int64, pool string) alert.Observation {
		return alert.Observation{
			At:      at,
			Ratio:   float64(errors) / float64(samples),
			Errors:  errors,
			Samples: samples,
			Ready:   true,
			Total:   total,
			Pool:    pool,
		}
	}

	BeforeEach(func() {
		start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		m = alert.NewMachine(alert.Config{RaiseAbove: 0.02, ClearSamples: 10})
	})

	It("should start OK with the active pool remembered", func() {
		s := alert.Initial("blue", start)
		Expect(s.Status).To(Equal(alert.StatusOK))
		Expect(s.LastPool).To(Equal("blue"))
		Expect(s.Since).To(Equal(start))
	})

	It("should default the clear threshold to the raise threshold", func() {
		Expect(m.Config().ClearAtOrBelow).To(Equal(0.02))
	})

	It("should raise when the ratio exceeds the threshold", func() {
		s, events := m.Reduce(alert.Initial("blue", start), obs(start, 5, 200, 200, "blue"))

		Expect(s.Status).To(Equal(alert.StatusAlerting))
		Expect(s.Ratio).To(Equal(0.025))
		Expect(s.Pool).To(Equal("blue"))
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(alert.EventRaised))
		Expect(events[0].Errors).To(Equal(5))
		Expect(events[0].Samples).To(Equal(200))
		Expect(events[0].Threshold).To(Equal(0.02))
	})

	It("should not raise at exactly the threshold", func() {
		s, events := m.Reduce(alert.Initial("blue", start), obs(start, 4, 200, 200, "blue"))
		Expect(s.Status).To(Equal(alert.StatusOK))
		Expect(events).To(BeEmpty())
	})

	It("should not raise before the window is ready", func() {
		o := obs(start, 3, 10, 10, "blue")
		o.Ready = false

		s, events := m.Reduce(alert.Initial("blue", start), o)
		Expect(s.Status).To(Equal(alert.StatusOK))
		Expect(events).To(BeEmpty())
	})

	It("should not raise twice while alerting", func() {
		s, _ := m.Reduce(alert.Initial("blue", start), obs(start, 5, 200, 200, "blue"))
		s, events := m.Reduce(s, obs(start.Add(time.Second), 8, 200, 201, "blue"))

		Expect(s.Status).To(Equal(alert.StatusAlerting))
		Expect(s.Ratio).To(Equal(0.04))
		Expect(events).To(BeEmpty())
	})

	It("should not clear on a single recovered sample", func() {
		s, _ := m.Reduce(alert.Initial("blue", start), obs(start, 5, 200, 200, "blue"))
		s, events := m.Reduce(s, obs(start.Add(time.Second), 4, 200, 201, "blue"))

		Expect(s.Status).To(Equal(alert.StatusAlerting))
		Expect(s.Clearing).To(BeTrue())
		Expect(events).To(BeEmpty())
	})

	It("should clear once the ratio stays low for enough samples", func() {
		s, _ := m.Reduce(alert.Initial("blue", start), obs(start, 5, 200, 200, "blue"))

		var events []alert.Event
		for i := int64(1); i <= 10; i++ {
			s, events = m.Reduce(s, obs(start.Add(time.Duration(i)*time.Second), 4, 200, 200+i, "blue"))
			Expect(events).To(BeEmpty())
		}

		s, events = m.Reduce(s, obs(start.Add(11*time.Second), 4, 200, 211, "blue"))
		Expect(s.Status).To(Equal(alert.StatusOK))
		Expect(s.Clearing).To(BeFalse())
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(alert.EventCleared))
		Expect(events[0].Pool).To(Equal("blue"))
	})

	It("should restart the clearing streak when the ratio rises again", func() {
		s, _ := m.Reduce(alert.Initial("blue", start), obs(start, 5, 200, 200, "blue"))
		s, _ = m.Reduce(s, obs(start.Add(time.Second), 4, 200, 201, "blue"))
		s, _ = m.Reduce(s, obs(start.Add(2*time.Second), 5, 200, 202, "blue"))

		Expect(s.Clearing).To(BeFalse())

		s, _ = m.Reduce(s, obs(start.Add(3*time.Second), 4, 200, 203, "blue"))
		Expect(s.ClearingFrom).To(Equal(int64(203)))
	})

	It("should require the cooldown as well as the sample count", func() {
		m = alert.NewMachine(alert.Config{RaiseAbove: 0.02, Cooldown: time.Minute, ClearSamples: 1})

		s, _ := m.Reduce(alert.Initial("blue", start), obs(start, 5, 200, 200, "blue"))
		s, _ = m.Reduce(s, obs(start.Add(time.Second), 0, 200, 201, "blue"))
		s, events := m.Reduce(s, obs(start.Add(30*time.Second), 0, 200, 250, "blue"))
		Expect(s.Status).To(Equal(alert.StatusAlerting))
		Expect(events).To(BeEmpty())

		s, events = m.Reduce(s, obs(start.Add(62*time.Second), 0, 200, 260, "blue"))
		Expect(s.Status).To(Equal(alert.StatusOK))
		Expect(events).To(HaveLen(1))
	})

	It("should use a lower clear threshold when configured", func() {
		m = alert.NewMachine(alert.Config{RaiseAbove: 0.02, ClearAtOrBelow: 0.01})

		s, _ := m.Reduce(alert.Initial("blue", start), obs(start, 5, 200, 200, "blue"))
		s, events := m.Reduce(s, obs(start.Add(time.Second), 3, 200, 201, "blue"))
		Expect(s.Status).To(Equal(alert.StatusAlerting))
		Expect(events).To(BeEmpty())

		s, events = m.Reduce(s, obs(start.Add(2*time.Second), 2, 200, 202, "blue"))
		Expect(s.Status).To(Equal(alert.StatusOK))
		Expect(events).To(HaveLen(1))
	})

	It("should emit a failover event when the serving pool changes", func() {
		s, events := m.Reduce(alert.Initial("blue", start), obs(start, 0, 200, 200, "green"))

		Expect(s.LastPool).To(Equal("green"))
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(alert.EventFailover))
		Expect(events[0].Pool).To(Equal("green"))
		Expect(events[0].PreviousPool).To(Equal("blue"))

		_, events = m.Reduce(s, obs(start.Add(time.Second), 0, 200, 201, "green"))
		Expect(events).To(BeEmpty())
	})

	It("should ignore observations without a pool for failover detection", func() {
		s, events := m.Reduce(alert.Initial("blue", start), obs(start, 0, 200, 200, ""))
		Expect(s.LastPool).To(Equal("blue"))
		Expect(events).To(BeEmpty())
	})

	It("should not mutate the previous state", func() {
		prev := alert.Initial("blue", start)
		_, _ = m.Reduce(prev, obs(start, 5, 200, 200, "green"))
		Expect(prev.Status).To(Equal(alert.StatusOK))
		Expect(prev.LastPool).To(Equal("blue"))
	})
})

package circuitbreaker_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/pool-failover/internal/circuitbreaker"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var _ = Describe("CircuitBreaker", func() {
	var (
		clock *fakeClock
		cb    *circuitbreaker.CircuitBreaker
	)

	BeforeEach(func() {
		clock = &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		cb = circuitbreaker.NewRegistryWithClock(3, 5*time.Second, clock.Now).GetBreaker("blue")
	})

	It("should start closed", func() {
		Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		Expect(cb.Allow()).To(BeTrue())
	})

	Context("when in CLOSED state", func() {
		It("should remain closed below the threshold", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Allow()).To(BeTrue())
		})

		It("should open at the threshold", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})
	})

	Context("when in OPEN state", func() {
		BeforeEach(func() {
			for i := 0; i < 3; i++ {
				cb.RecordFailure()
			}
		})

		It("should refuse before the fail timeout", func() {
			clock.Advance(4 * time.Second)
			Expect(cb.Allow()).To(BeFalse())
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should move to HALF-OPEN after the fail timeout", func() {
			clock.Advance(5 * time.Second)
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
		})
	})

	Context("when in HALF-OPEN state", func() {
		BeforeEach(func() {
			for i := 0; i < 3; i++ {
				cb.RecordFailure()
			}
			clock.Advance(5 * time.Second)
			cb.Allow()
		})

		It("should close on success", func() {
			cb.RecordSuccess()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should reopen on a single failure", func() {
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			Expect(cb.Allow()).To(BeFalse())
		})
	})

	It("should reset the failure count on success", func() {
		cb.RecordFailure()
		cb.RecordFailure()
		cb.RecordSuccess()
		cb.RecordFailure()
		Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
	})

	It("should treat a threshold below one as one", func() {
		single := circuitbreaker.NewCircuitBreaker(0, time.Second)
		single.RecordFailure()
		Expect(single.State()).To(Equal(circuitbreaker.StateOpen))
	})

	DescribeTable("State.String",
		func(s circuitbreaker.State, want string) {
			Expect(s.String()).To(Equal(want))
			text, err := s.MarshalText()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(text)).To(Equal(want))
		},
		Entry("closed", circuitbreaker.StateClosed, "CLOSED"),
		Entry("open", circuitbreaker.StateOpen, "OPEN"),
		Entry("half-open", circuitbreaker.StateHalfOpen, "HALF-OPEN"),
		Entry("unknown", circuitbreaker.State(42), "UNKNOWN"),
	)
})

package pool_test

import (
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/pool-failover/internal/pool"
)

var _ = Describe("Registry", func() {
	var (
		primary pool.Spec
		backup  pool.Spec
	)

	BeforeEach(func() {
		primary = pool.Spec{Name: "blue", URL: "http://app_blue:3000", Release: "blue-v1.0.0"}
		backup = pool.Spec{Name: "green", URL: "http://app_green:3000", Release: "green-v1.0.0"}
	})

	Describe("NewRegistry", func() {
		It("should build both pools with their roles", func() {
			reg, err := pool.NewRegistry(primary, backup)
			Expect(err).NotTo(HaveOccurred())
			Expect(reg.Primary().Name()).To(Equal("blue"))
			Expect(reg.Primary().Role()).To(Equal(pool.RolePrimary))
			Expect(reg.Backup().Name()).To(Equal("green"))
			Expect(reg.Backup().Role()).To(Equal(pool.RoleBackup))
			Expect(reg.Pools()).To(HaveLen(2))
		})

		It("should default the release tag to the pool name", func() {
			primary.Release = ""
			reg, err := pool.NewRegistry(primary, backup)
			Expect(err).NotTo(HaveOccurred())
			Expect(reg.Primary().Release()).To(Equal("blue"))
		})

		It("should start pools in unknown health", func() {
			reg, err := pool.NewRegistry(primary, backup)
			Expect(err).NotTo(HaveOccurred())
			Expect(reg.Primary().Status().Health).To(Equal(pool.HealthUnknown))
			Expect(reg.Primary().IsUnhealthy()).To(BeFalse())
		})

		DescribeTable("should reject malformed specs with a ConfigError",
			func(mutate func(p, b *pool.Spec), role pool.Role) {
				mutate(&primary, &backup)
				reg, err := pool.NewRegistry(primary, backup)
				Expect(reg).To(BeNil())

				var cfgErr *pool.ConfigError
				Expect(errors.As(err, &cfgErr)).To(BeTrue())
				Expect(cfgErr.Role).To(Equal(role))
			},
			Entry("missing primary url", func(p, _ *pool.Spec) { p.URL = "" }, pool.RolePrimary),
			Entry("missing backup url", func(_, b *pool.Spec) { b.URL = "" }, pool.RoleBackup),
			Entry("missing name", func(p, _ *pool.Spec) { p.Name = "" }, pool.RolePrimary),
			Entry("unsupported scheme", func(_, b *pool.Spec) { b.URL = "ftp://app_green:21" }, pool.RoleBackup),
			Entry("no host", func(p, _ *pool.Spec) { p.URL = "http://" }, pool.RolePrimary),
			Entry("duplicate names", func(_, b *pool.Spec) { b.Name = "BLUE" }, pool.RoleBackup),
		)
	})

	Describe("Alternate", func() {
		It("should return the other pool", func() {
			reg, err := pool.NewRegistry(primary, backup)
			Expect(err).NotTo(HaveOccurred())
			Expect(reg.Alternate(reg.Primary())).To(BeIdenticalTo(reg.Backup()))
			Expect(reg.Alternate(reg.Backup())).To(BeIdenticalTo(reg.Primary()))
		})
	})

	Describe("ByName", func() {
		It("should find configured pools only", func() {
			reg, err := pool.NewRegistry(primary, backup)
			Expect(err).NotTo(HaveOccurred())

			p, ok := reg.ByName("green")
			Expect(ok).To(BeTrue())
			Expect(p).To(BeIdenticalTo(reg.Backup()))

			_, ok = reg.ByName("red")
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("Pool health", func() {
	var p *pool.Pool

	BeforeEach(func() {
		reg, err := pool.NewRegistry(
			pool.Spec{Name: "blue", URL: "http://localhost:8081"},
			pool.Spec{Name: "green", URL: "http://localhost:8082"},
		)
		Expect(err).NotTo(HaveOccurred())
		p = reg.Primary()
	})

	It("should become healthy on success", func() {
		now := time.Now()
		Expect(p.RecordSuccess(now)).To(BeTrue())
		Expect(p.Status().Health).To(Equal(pool.HealthHealthy))
		Expect(p.Status().LastChecked).To(Equal(now))
		Expect(p.RecordSuccess(now)).To(BeFalse())
	})

	It("should flip to unhealthy on the first failure with threshold 1", func() {
		p.RecordSuccess(time.Now())
		Expect(p.RecordFailure(time.Now(), 1)).To(BeTrue())
		Expect(p.IsUnhealthy()).To(BeTrue())
	})

	It("should wait for the threshold before flipping", func() {
		p.RecordSuccess(time.Now())
		Expect(p.RecordFailure(time.Now(), 3)).To(BeFalse())
		Expect(p.RecordFailure(time.Now(), 3)).To(BeFalse())
		Expect(p.IsUnhealthy()).To(BeFalse())
		Expect(p.Status().ConsecutiveFailures).To(Equal(2))

		Expect(p.RecordFailure(time.Now(), 3)).To(BeTrue())
		Expect(p.IsUnhealthy()).To(BeTrue())
		Expect(p.RecordFailure(time.Now(), 3)).To(BeFalse())
	})

	It("should reset the failure counter on success", func() {
		p.RecordFailure(time.Now(), 3)
		p.RecordFailure(time.Now(), 3)
		p.RecordSuccess(time.Now())
		Expect(p.Status().ConsecutiveFailures).To(BeZero())

		Expect(p.RecordFailure(time.Now(), 3)).To(BeFalse())
		Expect(p.IsUnhealthy()).To(BeFalse())
	})

	It("should be safe for one writer and many readers", func() {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if i%2 == 0 {
					p.RecordFailure(time.Now(), 1)
				} else {
					p.RecordSuccess(time.Now())
				}
			}
		}()

		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for j := 0; j < 50; j++ {
					s := p.Status()
					Expect(s.HealthName).To(Equal(s.Health.String()))
				}
			}()
		}
		wg.Wait()
	})
})

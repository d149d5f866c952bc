package memory_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/footfall/internal/footfall"
	"procodus.dev/footfall/internal/storage/memory"
)

type stepClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		clock *stepClock
		store *memory.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = &stepClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
		store = memory.New(clock)
	})

	Describe("InsertReading", func() {
		It("should assign increasing ids and stamp created_at", func() {
			a := &footfall.Reading{SensorID: "s1", Timestamp: clock.now, Count: 1}
			b := &footfall.Reading{SensorID: "s1", Timestamp: clock.now, Count: 2}
			Expect(store.InsertReading(ctx, a)).To(Succeed())
			clock.advance(time.Second)
			Expect(store.InsertReading(ctx, b)).To(Succeed())

			Expect(a.ID).To(Equal(uint(1)))
			Expect(b.ID).To(Equal(uint(2)))
			Expect(b.CreatedAt).To(Equal(clock.now))
		})

		It("should fail once the context is done", func() {
			canceled, cancel := context.WithCancel(ctx)
			cancel()
			err := store.InsertReading(canceled, &footfall.Reading{SensorID: "s1"})
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})

		It("should keep stored readings independent of the caller", func() {
			r := &footfall.Reading{SensorID: "s1", Timestamp: clock.now, Count: 5}
			Expect(store.InsertReading(ctx, r)).To(Succeed())
			r.Count = 99

			readings, err := store.FindReadings(ctx, footfall.ReadingFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(readings[0].Count).To(Equal(5))
		})
	})

	Describe("FindReadings", func() {
		It("should keep insertion order for equal timestamps", func() {
			for i := range 3 {
				Expect(store.InsertReading(ctx, &footfall.Reading{SensorID: "s1", Timestamp: clock.now, Count: i})).To(Succeed())
			}

			readings, err := store.FindReadings(ctx, footfall.ReadingFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(readings).To(HaveLen(3))
			Expect(readings[0].Count).To(Equal(0))
			Expect(readings[2].Count).To(Equal(2))
		})

		It("should return an empty slice when nothing matches", func() {
			readings, err := store.FindReadings(ctx, footfall.ReadingFilter{SensorID: "none"})
			Expect(err).NotTo(HaveOccurred())
			Expect(readings).NotTo(BeNil())
			Expect(readings).To(BeEmpty())
		})
	})

	Describe("devices", func() {
		It("should preserve created_at across upserts", func() {
			d, err := footfall.NewDevice(footfall.DeviceRegistration{SensorID: "s1", Name: "One"}, clock.now)
			Expect(err).NotTo(HaveOccurred())
			first, err := store.UpsertDevice(ctx, d)
			Expect(err).NotTo(HaveOccurred())

			clock.advance(time.Hour)
			d.Name = "Uno"
			second, err := store.UpsertDevice(ctx, d)
			Expect(err).NotTo(HaveOccurred())

			Expect(second.Name).To(Equal("Uno"))
			Expect(second.CreatedAt).To(Equal(first.CreatedAt))
			Expect(second.UpdatedAt).To(Equal(clock.now))
		})

		It("should refresh an existing device on touch without renaming it", func() {
			d, err := footfall.NewDevice(footfall.DeviceRegistration{SensorID: "s1", Name: "One"}, clock.now)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.UpsertDevice(ctx, d)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.SetDeviceStatus(ctx, "s1", footfall.StatusMaintenance, nil)
			Expect(err).NotTo(HaveOccurred())

			seen := clock.now.Add(10 * time.Minute)
			Expect(store.TouchDevice(ctx, "s1", seen)).To(Succeed())

			got, err := store.GetDevice(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Name).To(Equal("One"))
			Expect(got.Status).To(Equal(footfall.StatusActive))
			Expect(got.LastSeen).To(Equal(seen))
		})

		It("should evaluate list filters against the store clock when now is unset", func() {
			Expect(store.TouchDevice(ctx, "s1", clock.now)).To(Succeed())
			clock.advance(2 * time.Hour)

			active, err := store.ListDevices(ctx, footfall.DeviceFilter{Status: footfall.StatusActive})
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeEmpty())

			inactive, err := store.ListDevices(ctx, footfall.DeviceFilter{Status: footfall.StatusInactive})
			Expect(err).NotTo(HaveOccurred())
			Expect(inactive).To(HaveLen(1))
		})

		It("should break last_seen ties by sensor id", func() {
			Expect(store.TouchDevice(ctx, "b", clock.now)).To(Succeed())
			Expect(store.TouchDevice(ctx, "a", clock.now)).To(Succeed())

			devices, err := store.ListDevices(ctx, footfall.DeviceFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(devices[0].SensorID).To(Equal("a"))
			Expect(devices[1].SensorID).To(Equal("b"))
		})
	})

	It("should answer pings until the context is done", func() {
		Expect(store.Ping(ctx)).To(Succeed())

		canceled, cancel := context.WithCancel(ctx)
		cancel()
		Expect(store.Ping(canceled)).To(MatchError(context.Canceled))
	})

	It("should be safe for concurrent use", func() {
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(store.InsertReading(ctx, &footfall.Reading{SensorID: "s1", Timestamp: clock.Now(), Count: n})).To(Succeed())
				Expect(store.TouchDevice(ctx, "s1", clock.Now())).To(Succeed())
				_, err := store.FindReadings(ctx, footfall.ReadingFilter{})
				Expect(err).NotTo(HaveOccurred())
			}(i)
		}
		wg.Wait()

		readings, err := store.FindReadings(ctx, footfall.ReadingFilter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(readings).To(HaveLen(20))
	})
})

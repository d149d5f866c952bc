package simulator_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/footfall/internal/simulator"
	"procodus.dev/footfall/pkg/message"
	"procodus.dev/footfall/pkg/metrics"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type memorySink struct {
	deviceErr  error
	readingErr error
	devices    []message.Device
	readings   []message.SensorReading
	closed     int
	mu         sync.Mutex
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) RegisterDevice(_ context.Context, d message.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceErr != nil {
		return s.deviceErr
	}
	s.devices = append(s.devices, d)
	return nil
}

func (s *memorySink) SendReading(_ context.Context, r message.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readingErr != nil {
		return s.readingErr
	}
	s.readings = append(s.readings, r)
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *memorySink) readingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

// newTestMetrics builds unregistered collectors so specs do not touch the
// process registry.
func newTestMetrics() *metrics.SimulatorMetrics {
	return &metrics.SimulatorMetrics{
		ReadingsSent:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sent"}, []string{"sink"}),
		SendFailures:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: "failures"}, []string{"sink", "kind"}),
		SendDuration:      prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "duration"}, []string{"sink"}),
		DevicesRegistered: prometheus.NewCounter(prometheus.CounterOpts{Name: "devices"}),
		ActiveSensors:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "active"}),
	}
}

var _ = Describe("Simulator", func() {
	var (
		logger *slog.Logger
		sink   *memorySink
		clock  fixedClock
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		sink = &memorySink{}
		clock = fixedClock{now: time.Date(2025, 3, 10, 8, 15, 0, 0, time.UTC)}
	})

	Describe("New", func() {
		DescribeTable("should reject invalid configuration",
			func(mutate func(*simulator.Config), msg string) {
				cfg := &simulator.Config{Logger: logger, Sink: sink}
				mutate(cfg)
				_, err := simulator.New(cfg)
				Expect(err).To(MatchError(msg))
			},
			Entry("nil logger", func(c *simulator.Config) { c.Logger = nil }, "logger cannot be nil"),
			Entry("nil sink", func(c *simulator.Config) { c.Sink = nil }, "sink cannot be nil"),
			Entry("negative sensors", func(c *simulator.Config) { c.SensorCount = -1 }, "sensor count cannot be negative"),
			Entry("negative interval", func(c *simulator.Config) { c.Interval = -time.Second }, "interval cannot be negative"),
		)

		It("should reject a nil config", func() {
			_, err := simulator.New(nil)
			Expect(err).To(MatchError("simulator config cannot be nil"))
		})

		It("should default to two numbered sensors", func() {
			sim, err := simulator.New(&simulator.Config{Logger: logger, Sink: sink, Clock: clock})
			Expect(err).NotTo(HaveOccurred())

			sensors := sim.Sensors()
			Expect(sensors).To(HaveLen(simulator.DefaultSensorCount))
			Expect(sensors[0].SensorID).To(Equal("sensor_001"))
			Expect(sensors[1].SensorID).To(Equal("sensor_002"))
		})
	})

	Describe("SetupDevices", func() {
		It("should register every sensor", func() {
			m := newTestMetrics()
			sim, err := simulator.New(&simulator.Config{Logger: logger, Sink: sink, Clock: clock, SensorCount: 3, Metrics: m})
			Expect(err).NotTo(HaveOccurred())

			Expect(sim.SetupDevices(context.Background())).To(Equal(3))
			Expect(sink.devices).To(HaveLen(3))
			Expect(sink.devices[2].SensorID).To(Equal("sensor_003"))
			Expect(sink.devices[0].Name).NotTo(BeEmpty())
			Expect(*sink.devices[0].BatteryLevel).To(BeNumerically(">=", 60))
			Expect(testutil.ToFloat64(m.DevicesRegistered)).To(Equal(3.0))
		})

		It("should continue past failed registrations", func() {
			m := newTestMetrics()
			sink.deviceErr = errors.New("unavailable")
			sim, err := simulator.New(&simulator.Config{Logger: logger, Sink: sink, Clock: clock, Metrics: m})
			Expect(err).NotTo(HaveOccurred())

			Expect(sim.SetupDevices(context.Background())).To(Equal(0))
			Expect(testutil.ToFloat64(m.SendFailures.WithLabelValues("memory", "device"))).To(Equal(2.0))
		})
	})

	Describe("RunCycle", func() {
		It("should send one reading per sensor stamped with the clock", func() {
			m := newTestMetrics()
			sim, err := simulator.New(&simulator.Config{
				Logger:      logger,
				Sink:        sink,
				Clock:       clock,
				Location:    time.UTC,
				SensorCount: 4,
				Seed:        7,
				Metrics:     m,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(sim.RunCycle(context.Background())).To(Equal(4))
			Expect(sink.readings).To(HaveLen(4))
			for _, r := range sink.readings {
				Expect(r.Timestamp).NotTo(BeNil())
				Expect(r.Timestamp.Equal(clock.now)).To(BeTrue())
				// 08:15 falls in the morning rush band.
				Expect(*r.Count).To(BeNumerically(">=", 15))
				Expect(*r.Count).To(BeNumerically("<", 55))
			}
			Expect(testutil.ToFloat64(m.ReadingsSent.WithLabelValues("memory"))).To(Equal(4.0))
		})

		It("should count failed sends", func() {
			m := newTestMetrics()
			sink.readingErr = errors.New("rejected")
			sim, err := simulator.New(&simulator.Config{Logger: logger, Sink: sink, Clock: clock, Metrics: m})
			Expect(err).NotTo(HaveOccurred())

			Expect(sim.RunCycle(context.Background())).To(Equal(0))
			Expect(testutil.ToFloat64(m.SendFailures.WithLabelValues("memory", "reading"))).To(Equal(2.0))
		})

		It("should stop early once the context is done", func() {
			sim, err := simulator.New(&simulator.Config{Logger: logger, Sink: sink, Clock: clock})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			Expect(sim.RunCycle(ctx)).To(Equal(0))
		})
	})

	Describe("Run", func() {
		It("should register, send on every tick and close the sink on cancel", func() {
			sim, err := simulator.New(&simulator.Config{
				Logger:   logger,
				Sink:     sink,
				Clock:    clock,
				Interval: 20 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- sim.Run(ctx) }()

			Eventually(sink.readingCount).Should(BeNumerically(">=", 6))
			cancel()
			Eventually(done).Should(Receive(BeNil()))

			Expect(sink.devices).To(HaveLen(2))
			Expect(sink.closed).To(Equal(1))
		})
	})
})

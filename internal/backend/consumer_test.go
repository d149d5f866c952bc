package backend_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/footfall/internal/backend"
	"procodus.dev/footfall/internal/footfall"
	"procodus.dev/footfall/internal/storage/memory"
	"procodus.dev/footfall/pkg/mq/mock"
)

type ingesterFunc func(ctx context.Context, req footfall.IngestRequest) (*footfall.Reading, error)

func (f ingesterFunc) Ingest(ctx context.Context, req footfall.IngestRequest) (*footfall.Reading, error) {
	return f(ctx, req)
}

var _ = Describe("Consumer", func() {
	var (
		logger *slog.Logger
		client *mock.MockClient
		store  *memory.Store
		svc    *footfall.Service
		ctx    context.Context
		cancel context.CancelFunc
	)

	deliver := func(body string) uint64 {
		return client.Deliver([]byte(body))
	}

	start := func(handler backend.Handler) *backend.Consumer {
		consumer, err := backend.NewConsumer(&backend.ConsumerConfig{
			Logger:       logger,
			Client:       client,
			Handler:      handler,
			Queue:        "sensor-data",
			RequeueDelay: 10 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())
		consumer.Start(ctx)
		DeferCleanup(func() {
			cancel()
			Expect(consumer.Stop()).To(Succeed())
		})
		return consumer
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		client = mock.NewMockClient()
		store = memory.New(nil)

		var err error
		svc, err = footfall.NewService(&footfall.ServiceConfig{Logger: logger, Store: store})
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(func() { cancel() })
	})

	Describe("NewConsumer", func() {
		It("should return error when config is nil", func() {
			_, err := backend.NewConsumer(nil)
			Expect(err).To(MatchError("consumer config cannot be nil"))
		})

		DescribeTable("validates required fields",
			func(mutate func(*backend.ConsumerConfig), msg string) {
				cfg := &backend.ConsumerConfig{
					Logger:  logger,
					Client:  client,
					Handler: backend.NewReadingHandler(svc, "amqp", nil),
					Queue:   "sensor-data",
				}
				mutate(cfg)
				_, err := backend.NewConsumer(cfg)
				Expect(err).To(MatchError(msg))
			},
			Entry("logger", func(c *backend.ConsumerConfig) { c.Logger = nil }, "logger cannot be nil"),
			Entry("client", func(c *backend.ConsumerConfig) { c.Client = nil }, "mq client cannot be nil"),
			Entry("handler", func(c *backend.ConsumerConfig) { c.Handler = nil }, "handler cannot be nil"),
			Entry("queue", func(c *backend.ConsumerConfig) { c.Queue = "" }, "queue name cannot be empty"),
		)
	})

	Describe("reading messages", func() {
		BeforeEach(func() {
			start(backend.NewReadingHandler(svc, "amqp", nil))
		})

		It("should ingest and ack a valid reading", func() {
			tag := deliver(`{"sensor_id":"S1","timestamp":"2025-03-10T14:05:00Z","count":7}`)

			Eventually(client.Acked).Should(Equal([]uint64{tag}))
			readings, err := store.FindReadings(context.Background(), footfall.ReadingFilter{SensorID: "S1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(readings).To(HaveLen(1))
			Expect(readings[0].Count).To(Equal(7))

			device, err := store.GetDevice(context.Background(), "S1")
			Expect(err).NotTo(HaveOccurred())
			Expect(device.Status).To(Equal(footfall.StatusActive))
		})

		It("should ack and drop malformed payloads", func() {
			first := deliver(`not json`)
			second := deliver(`{"sensor_id":"S1","count":-3}`)
			third := deliver(`{"count":3}`)

			Eventually(client.Acked).Should(Equal([]uint64{first, second, third}))
			Expect(client.Nacked()).To(BeEmpty())

			readings, err := store.FindReadings(context.Background(), footfall.ReadingFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(readings).To(BeEmpty())
		})

		It("should drop a reading located out of range", func() {
			tag := deliver(`{"sensor_id":"S1","count":2,"location":{"type":"Point","coordinates":[500,52.5]}}`)

			Eventually(client.Acked).Should(Equal([]uint64{tag}))
			readings, err := store.FindReadings(context.Background(), footfall.ReadingFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(readings).To(BeEmpty())
		})

		It("should consume once the client is ready", func() {
			Eventually(client.ConsumeCalls).Should(Equal(1))
			Expect(client.WaitReadyCalls()).To(BeNumerically(">=", 1))
		})
	})

	Context("when the store is unavailable", func() {
		BeforeEach(func() {
			down := ingesterFunc(func(context.Context, footfall.IngestRequest) (*footfall.Reading, error) {
				return nil, fmt.Errorf("insert: %w", footfall.ErrStoreUnavailable)
			})
			start(backend.NewReadingHandler(down, "amqp", nil))
		})

		It("should requeue the message", func() {
			tag := deliver(`{"sensor_id":"S1","count":1}`)

			Eventually(client.Settlements).Should(Equal([]mock.Settlement{{Tag: tag, Requeue: true}}))
			Expect(client.Acked()).To(BeEmpty())
		})
	})

	Context("when the store recovers", func() {
		var attempts atomic.Int32

		BeforeEach(func() {
			attempts.Store(0)
			client.RedeliverRequeued = true
			flaky := ingesterFunc(func(ctx context.Context, req footfall.IngestRequest) (*footfall.Reading, error) {
				if attempts.Add(1) < 3 {
					return nil, footfall.ErrStoreUnavailable
				}
				return svc.Ingest(ctx, req)
			})
			start(backend.NewReadingHandler(flaky, "amqp", nil))
		})

		It("should store the redelivered message", func() {
			deliver(`{"sensor_id":"S1","count":4}`)

			Eventually(client.Acked).Should(HaveLen(1))
			Expect(client.Nacked()).To(HaveLen(2))
			Expect(attempts.Load()).To(Equal(int32(3)))

			readings, err := store.FindReadings(context.Background(), footfall.ReadingFilter{SensorID: "S1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(readings).To(HaveLen(1))
			Expect(readings[0].Count).To(Equal(4))
		})
	})

	Describe("device messages", func() {
		BeforeEach(func() {
			start(backend.NewDeviceHandler(svc))
		})

		It("should register the device", func() {
			tag := deliver(`{"sensor_id":"S1","name":"Main entrance","battery_level":80,
				"location":{"type":"Point","coordinates":[13.4,52.5]}}`)

			Eventually(client.Acked).Should(Equal([]uint64{tag}))
			device, err := store.GetDevice(context.Background(), "S1")
			Expect(err).NotTo(HaveOccurred())
			Expect(device.Name).To(Equal("Main entrance"))
			Expect(device.BatteryLevel).To(Equal(80))
			Expect(device.Location).To(Equal(&footfall.GeoPoint{Longitude: 13.4, Latitude: 52.5}))
		})

		It("should drop a registration located out of range", func() {
			tag := deliver(`{"sensor_id":"S1","name":"Door","location":{"type":"Point","coordinates":[13.4,-95]}}`)

			Eventually(client.Acked).Should(Equal([]uint64{tag}))
			_, err := store.GetDevice(context.Background(), "S1")
			Expect(footfall.IsNotFound(err)).To(BeTrue())
		})

		It("should drop a registration without a name", func() {
			tag := deliver(`{"sensor_id":"S1"}`)

			Eventually(client.Acked).Should(Equal([]uint64{tag}))
			_, err := store.GetDevice(context.Background(), "S1")
			Expect(footfall.IsNotFound(err)).To(BeTrue())
		})
	})

	Context("when the client shuts down before it is ready", func() {
		It("should stop without consuming", func() {
			client.WaitReadyError = errors.New("client is shutting down")
			consumer, err := backend.NewConsumer(&backend.ConsumerConfig{
				Logger:  logger,
				Client:  client,
				Handler: backend.NewReadingHandler(svc, "amqp", nil),
				Queue:   "sensor-data",
			})
			Expect(err).NotTo(HaveOccurred())

			consumer.Start(ctx)
			Expect(consumer.Stop()).To(Succeed())
			Expect(client.ConsumeCalls()).To(Equal(0))
			Expect(client.CloseCalls()).To(Equal(1))
		})
	})
})

package mq_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/footfall/pkg/mq"
	"procodus.dev/footfall/pkg/mq/mock"
)

var _ = Describe("MQ Client", func() {
	var (
		logger *slog.Logger
	)

	newClient := func(url string) *mq.Client {
		client, err := mq.New(&mq.Config{Logger: logger, URL: url, Queue: "sensor-data"})
		Expect(err).NotTo(HaveOccurred())
		return client
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Describe("New", func() {
		It("should create a client bound to the queue", func() {
			client := newClient("amqp://invalid:5672")
			defer func() { _ = client.Close() }()

			Expect(client.Queue()).To(Equal("sensor-data"))
			Expect(client.IsReady()).To(BeFalse())
		})

		DescribeTable("invalid configuration",
			func(cfg *mq.Config, msg string) {
				client, err := mq.New(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring(msg))
				Expect(client).To(BeNil())
			},
			Entry("nil config", nil, "config cannot be nil"),
			Entry("nil logger", &mq.Config{URL: "amqp://x", Queue: "q"}, "logger"),
			Entry("empty URL", &mq.Config{Logger: slog.Default(), Queue: "q"}, "URL"),
			Entry("empty queue", &mq.Config{Logger: slog.Default(), URL: "amqp://x"}, "queue"),
		)
	})

	Describe("Push", func() {
		Context("when not connected", func() {
			It("should stop retrying when the context expires", func() {
				client := newClient("amqp://invalid:5672")
				defer func() { _ = client.Close() }()

				ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
				defer cancel()

				start := time.Now()
				err := client.Push(ctx, []byte(`{"sensor_id":"s1","count":1}`))
				Expect(err).To(MatchError(context.DeadlineExceeded))
				Expect(time.Since(start)).To(BeNumerically(">=", 100*time.Millisecond))
			})

			It("should give up after the maximum number of attempts", func() {
				client := newClient("amqp://invalid:5672")
				defer func() { _ = client.Close() }()

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				start := time.Now()
				err := client.Push(ctx, []byte("{}"))
				elapsed := time.Since(start)

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("maximum retry attempts exceeded"))
				// 100ms + 200ms + 400ms + 800ms of backoff between five attempts.
				Expect(elapsed).To(BeNumerically(">=", 1500*time.Millisecond))
				Expect(elapsed).To(BeNumerically("<", 10*time.Second))
			})

			It("should fail UnsafePush immediately", func() {
				client := newClient("amqp://invalid:5672")
				defer func() { _ = client.Close() }()

				err := client.UnsafePush(context.Background(), []byte("{}"))
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("not connected"))
			})
		})
	})

	Describe("Consume", func() {
		It("should fail when not connected", func() {
			client := newClient("amqp://invalid:5672")
			defer func() { _ = client.Close() }()

			_, err := client.Consume()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("not connected"))
		})
	})

	Describe("WaitReady", func() {
		It("should honour the context deadline", func() {
			client := newClient("amqp://invalid:5672")
			defer func() { _ = client.Close() }()

			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			Expect(client.WaitReady(ctx)).To(MatchError(context.DeadlineExceeded))
		})

		It("should return once the client is closed", func() {
			client := newClient("amqp://invalid:5672")

			errs := make(chan error, 1)
			go func() { errs <- client.WaitReady(context.Background()) }()

			time.Sleep(50 * time.Millisecond)
			Expect(client.Close()).To(Succeed())
			Eventually(errs).Should(Receive(MatchError(ContainSubstring("shutting down"))))
		})
	})

	Describe("Close", func() {
		It("should succeed without a connection and fail the second time", func() {
			client := newClient("amqp://invalid:5672")

			Expect(client.Close()).To(Succeed())

			err := client.Close()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("already closed"))
		})

		It("should handle concurrent Close attempts safely", func() {
			client := newClient("amqp://invalid:5672")

			done := make(chan error, 3)
			for range 3 {
				go func() { done <- client.Close() }()
			}

			var succeeded int
			for range 3 {
				var err error
				Eventually(done).Should(Receive(&err))
				if err == nil {
					succeeded++
				}
			}
			Expect(succeeded).To(Equal(1))
		})
	})

	Describe("MockClient", func() {
		It("should record pushed payloads", func() {
			m := mock.NewMockClient()
			Expect(m.Push(context.Background(), []byte("a"))).To(Succeed())
			Expect(m.Push(context.Background(), []byte("b"))).To(Succeed())
			Expect(m.UnsafePush(context.Background(), []byte("c"))).To(Succeed())

			Expect(m.Pushed()).To(Equal([][]byte{[]byte("a"), []byte("b")}))
			Expect(m.UnsafePushed()).To(Equal([][]byte{[]byte("c")}))

			m.Reset()
			Expect(m.Pushed()).To(BeEmpty())
		})

		It("should return configured errors", func() {
			m := mock.NewMockClient()
			m.PushError = errors.New("boom")
			m.WaitReadyError = errors.New("down")

			Expect(m.Push(context.Background(), nil)).To(MatchError("boom"))
			Expect(m.WaitReady(context.Background())).To(MatchError("down"))
			Expect(m.WaitReadyCalls()).To(Equal(1))
		})

		It("should record how deliveries are settled", func() {
			m := mock.NewMockClient()
			deliveries, err := m.Consume()
			Expect(err).NotTo(HaveOccurred())

			first := m.Deliver([]byte(`{"count":1}`))
			second := m.Deliver([]byte(`{"count":2}`))

			d := <-deliveries
			Expect(d.ContentType).To(Equal(mq.ContentTypeJSON))
			Expect(d.Ack(false)).To(Succeed())
			d = <-deliveries
			Expect(d.Nack(false, false)).To(Succeed())

			Expect(m.Settlements()).To(Equal([]mock.Settlement{
				{Tag: first, Acked: true},
				{Tag: second},
			}))
		})

		It("should redeliver requeued deliveries when asked to", func() {
			m := mock.NewMockClient()
			m.RedeliverRequeued = true
			deliveries, err := m.Consume()
			Expect(err).NotTo(HaveOccurred())

			m.Deliver([]byte("retry me"))
			d := <-deliveries
			Expect(d.Redelivered).To(BeFalse())
			Expect(d.Nack(false, true)).To(Succeed())

			var again amqp.Delivery
			Eventually(deliveries).Should(Receive(&again))
			Expect(again.Redelivered).To(BeTrue())
			Expect(again.Body).To(Equal([]byte("retry me")))
			Expect(again.DeliveryTag).NotTo(Equal(d.DeliveryTag))
		})
	})
})

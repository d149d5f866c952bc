package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/footfall/internal/footfall"
	"procodus.dev/footfall/pkg/message"
	"procodus.dev/footfall/pkg/metrics"
	"procodus.dev/footfall/pkg/mq"
)

// DefaultRequeueDelay is how long a consumer holds back a delivery it could
// not store before returning it to the queue.
const DefaultRequeueDelay = time.Second

// Handler processes the body of one delivery.
// A *footfall.ValidationError marks the message as permanently unprocessable.
type Handler func(ctx context.Context, body []byte) error

// Consumer reads deliveries from a RabbitMQ queue and hands them to a Handler.
// Valid and invalid messages are acked; messages that fail for any other
// reason are requeued.
type Consumer struct {
	logger         *slog.Logger
	client         mq.ClientInterface
	handle         Handler
	metrics        *metrics.MQMetrics
	serviceMetrics *metrics.ServiceMetrics
	done           chan struct{}
	queue          string
	requeueDelay   time.Duration
	started        bool
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger         *slog.Logger
	Client         mq.ClientInterface
	Handler        Handler
	Metrics        *metrics.MQMetrics      // Optional metrics
	ServiceMetrics *metrics.ServiceMetrics // Optional metrics
	Queue          string
	// RequeueDelay defaults to DefaultRequeueDelay.
	RequeueDelay time.Duration
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if cfg.Handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	if cfg.Queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	delay := cfg.RequeueDelay
	if delay <= 0 {
		delay = DefaultRequeueDelay
	}

	return &Consumer{
		logger:         cfg.Logger.With("queue", cfg.Queue),
		client:         cfg.Client,
		handle:         cfg.Handler,
		metrics:        cfg.Metrics,
		serviceMetrics: cfg.ServiceMetrics,
		queue:          cfg.Queue,
		requeueDelay:   delay,
		done:           make(chan struct{}),
	}, nil
}

// Start begins consuming in the background. Consumption resumes after every
// reconnect of the client until ctx is done or Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("starting consumer")
	c.started = true
	go c.run(ctx)
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	if c.serviceMetrics != nil {
		c.serviceMetrics.ActiveConsumers.Inc()
		defer c.serviceMetrics.ActiveConsumers.Dec()
	}

	for {
		if err := c.client.WaitReady(ctx); err != nil {
			c.logger.Info("consumer stopping", "reason", err)
			return
		}

		deliveries, err := c.client.Consume()
		if err != nil {
			c.logger.Error("failed to start consuming, retrying", "error", err)
			if !sleep(ctx, c.requeueDelay) {
				return
			}
			continue
		}

		c.logger.Info("consumer started, waiting for messages")
		if stopped := c.processMessages(ctx, deliveries); stopped {
			return
		}
	}
}

// processMessages drains deliveries. It returns true when ctx is done and
// false when the channel closed underneath it.
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return true

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				return false
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery processes a single message delivery.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.ConsumeDuration.WithLabelValues(c.queue))
		defer timer.ObserveDuration()
		if delivery.Redelivered {
			c.metrics.MessagesRedelivered.WithLabelValues(c.queue).Inc()
		}
	}

	err := c.handle(ctx, delivery.Body)
	switch {
	case err == nil:
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
			return
		}
		if c.metrics != nil {
			c.metrics.MessagesConsumed.WithLabelValues(c.queue).Inc()
		}

	case footfall.IsValidation(err):
		c.logger.Warn("dropping invalid message", "error", err, "message_id", delivery.MessageId)
		c.consumeFailed("invalid")
		// Redelivery cannot fix an invalid payload.
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}

	default:
		c.logger.Error("failed to process message, requeueing", "error", err, "message_id", delivery.MessageId)
		reason := "error"
		if errors.Is(err, footfall.ErrStoreUnavailable) {
			reason = "store_unavailable"
		}
		c.consumeFailed(reason)
		sleep(ctx, c.requeueDelay)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
	}
}

func (c *Consumer) consumeFailed(reason string) {
	if c.metrics != nil {
		c.metrics.ConsumptionFailures.WithLabelValues(c.queue, reason).Inc()
	}
}

// Stop closes the MQ client and waits for the consumer to return.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumer")

	err := c.client.Close()
	if c.started {
		<-c.done
	}

	if err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	c.logger.Info("consumer stopped")
	return nil
}

// Ingester stores readings.
type Ingester interface {
	Ingest(ctx context.Context, req footfall.IngestRequest) (*footfall.Reading, error)
}

// NewReadingHandler returns a Handler that decodes SensorReading payloads and
// ingests them. source labels the ingest metric (amqp, mqtt).
func NewReadingHandler(svc Ingester, source string, m *metrics.ServiceMetrics) Handler {
	return func(ctx context.Context, body []byte) error {
		err := ingestPayload(ctx, svc, body)
		countIngest(m, source, err)
		return err
	}
}

func ingestPayload(ctx context.Context, svc Ingester, body []byte) error {
	msg, err := message.UnmarshalReading(body)
	if err != nil {
		return &footfall.ValidationError{Field: "body", Message: err.Error()}
	}

	req := footfall.IngestRequest{
		SensorID:  msg.SensorID,
		Count:     msg.Count,
		Timestamp: msg.Timestamp,
	}
	if msg.Location != nil {
		lng, lat, err := msg.Location.LngLat()
		if err != nil {
			return &footfall.ValidationError{Message: err.Error()}
		}
		if req.Location, err = footfall.NewGeoPoint(lng, lat); err != nil {
			return err
		}
	}

	_, err = svc.Ingest(ctx, req)
	return err
}

func countIngest(m *metrics.ServiceMetrics, source string, err error) {
	if m == nil {
		return
	}
	status := "success"
	switch {
	case err == nil:
	case footfall.IsValidation(err):
		status = "invalid"
	default:
		status = "error"
	}
	m.ReadingsIngested.WithLabelValues(source, status).Inc()
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

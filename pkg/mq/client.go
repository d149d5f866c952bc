// Package mq provides a RabbitMQ queue client with automatic reconnection and
// publisher confirms.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/footfall/pkg/metrics"
)

// ContentTypeJSON is the default content type of published messages.
const ContentTypeJSON = "application/json"

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	// Poll interval of WaitReady.
	readyPollInterval = 100 * time.Millisecond

	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffMultiplier = 2
	maxRetryAttempts  = 5
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// Config holds the configuration for a Client.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.MQMetrics // Optional metrics
	URL     string
	Queue   string
	// ContentType of published messages; defaults to ContentTypeJSON.
	ContentType string
	// Durable declares the queue durable and publishes persistent messages.
	Durable bool
}

// Client is a single-queue RabbitMQ client. It keeps reconnecting in the
// background until Close is called.
type Client struct {
	m               sync.Mutex
	logger          *slog.Logger
	metrics         *metrics.MQMetrics
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queue           string
	contentType     string
	durable         bool
	isReady         bool
	closed          bool
}

// New validates cfg and starts connecting in the background.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("mq config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.URL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}

	if cfg.Queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = ContentTypeJSON
	}

	client := &Client{
		logger:      cfg.Logger.With("queue", cfg.Queue),
		metrics:     cfg.Metrics,
		queue:       cfg.Queue,
		contentType: contentType,
		durable:     cfg.Durable,
		done:        make(chan struct{}),
	}
	go client.handleReconnect(cfg.URL)
	return client, nil
}

// Queue returns the name of the queue the client is bound to.
func (client *Client) Queue() string {
	return client.queue
}

// IsReady reports whether the client currently holds an initialised channel.
func (client *Client) IsReady() bool {
	client.m.Lock()
	defer client.m.Unlock()
	return client.isReady
}

// WaitReady blocks until the client is connected, ctx is done, or the client
// is closed.
func (client *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if client.IsReady() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.done:
			return errShutdown
		case <-ticker.C:
		}
	}
}

// handleReconnect waits for a connection error on notifyConnClose and then
// keeps attempting to reconnect.
func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)

		client.logger.Info("attempting to connect")
		if client.metrics != nil {
			client.metrics.ReconnectAttempts.Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.logger.Error("failed to connect. Retrying...", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := client.handleReInit(conn); done {
			return
		}
	}
}

func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		if client.metrics != nil {
			client.metrics.ConnectionStatus.Set(0)
		}
		return nil, err
	}

	client.m.Lock()
	client.connection = conn
	client.notifyConnClose = make(chan *amqp.Error, 1)
	conn.NotifyClose(client.notifyConnClose)
	client.m.Unlock()

	client.logger.Info("connected")
	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(1)
	}
	return conn, nil
}

// handleReInit waits for a channel error and re-initialises the channel.
// It returns true once the client is closed.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		if err := client.init(conn); err != nil {
			client.logger.Error("failed to initialize channel, retrying...", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.logger.Info("connection closed, reconnecting...")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.logger.Info("connection closed, reconnecting...")
			return false
		case <-client.notifyChanClose:
			client.logger.Info("channel closed, re-running init...")
		}
	}
}

// init opens a confirm-mode channel and declares the queue.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		client.queue,
		client.durable,
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	); err != nil {
		return err
	}

	client.m.Lock()
	client.channel = ch
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	ch.NotifyClose(client.notifyChanClose)
	ch.NotifyPublish(client.notifyConfirm)
	client.isReady = true
	client.m.Unlock()

	client.logger.Info("client init done")
	return nil
}

func (client *Client) setReady(ready bool) {
	client.m.Lock()
	client.isReady = ready
	client.m.Unlock()
}

// Push publishes data and waits for the broker confirmation. While the client
// is disconnected it retries with exponential backoff, giving up after
// maxRetryAttempts.
func (client *Client) Push(ctx context.Context, data []byte) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PushDuration.WithLabelValues(client.queue))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if attempt >= maxRetryAttempts {
			client.logger.Error("maximum retry attempts exceeded", "max_attempts", maxRetryAttempts)
			client.pushFailed("max_retries_exceeded")
			return errMaxRetriesExceeded
		}

		if attempt > 0 {
			if err := client.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = min(backoff*backoffMultiplier, maxBackoff)
		}

		if !client.IsReady() {
			client.logger.Info("not connected, waiting for reconnection", "backoff", backoff, "retry_count", attempt)
			continue
		}

		if err := client.UnsafePush(ctx, data); err != nil {
			client.logger.Error("push failed, retrying with backoff", "error", err, "retry_count", attempt)
			continue
		}

		client.m.Lock()
		confirms := client.notifyConfirm
		client.m.Unlock()

		select {
		case <-ctx.Done():
			client.pushFailed("context_canceled")
			return ctx.Err()
		case <-client.done:
			return errShutdown
		case confirm := <-confirms:
			if confirm.Ack {
				if client.metrics != nil {
					client.metrics.MessagesPushed.WithLabelValues(client.queue).Inc()
				}
				client.logger.Debug("push confirmed", "delivery_tag", confirm.DeliveryTag, "retry_count", attempt)
				return nil
			}
			client.logger.Warn("push not acknowledged, retrying", "delivery_tag", confirm.DeliveryTag)
		}
	}
}

func (client *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.done:
		return errShutdown
	case <-time.After(d):
		return nil
	}
}

func (client *Client) pushFailed(reason string) {
	if client.metrics != nil {
		client.metrics.PushFailures.WithLabelValues(client.queue, reason).Inc()
	}
}

// UnsafePush publishes data without waiting for a confirmation.
func (client *Client) UnsafePush(ctx context.Context, data []byte) error {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return errNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	msg := amqp.Publishing{
		ContentType: client.contentType,
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Body:        data,
	}
	if client.durable {
		msg.DeliveryMode = amqp.Persistent
	}

	return ch.PublishWithContext(
		ctx,
		"",           // Exchange
		client.queue, // Routing key
		false,        // Mandatory
		false,        // Immediate
		msg,
	)
}

// Consume starts a manual-ack consumer on the queue. Every delivery must be
// acked or nacked by the caller.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return nil, errNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	if err := ch.Qos(
		1,     // prefetchCount
		0,     // prefetchSize
		false, // global
	); err != nil {
		return nil, err
	}

	return ch.Consume(
		client.queue,
		"",    // Consumer
		false, // Auto-Ack
		false, // Exclusive
		false, // No-local
		false, // No-Wait
		nil,   // Args
	)
}

// Close stops reconnecting and shuts down the channel and connection.
// Closing twice returns an error.
func (client *Client) Close() error {
	client.m.Lock()
	defer client.m.Unlock()

	if client.closed {
		return errAlreadyClosed
	}
	client.closed = true
	close(client.done)

	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(0)
	}

	if !client.isReady {
		return nil
	}
	client.isReady = false

	if err := client.channel.Close(); err != nil {
		return err
	}
	return client.connection.Close()
}

package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface defines the queue operations used by producers and consumers.
type ClientInterface interface {
	// Push publishes data and blocks until the broker confirms it.
	Push(ctx context.Context, data []byte) error

	// UnsafePush publishes data without waiting for a confirmation.
	UnsafePush(ctx context.Context, data []byte) error

	// Consume delivers queue items on the returned channel. Each delivery
	// must be acked or nacked.
	Consume() (<-chan amqp.Delivery, error)

	// WaitReady blocks until the client is connected or ctx is done.
	WaitReady(ctx context.Context) error

	// Close shuts down the channel and connection.
	Close() error
}

var _ ClientInterface = (*Client)(nil)

// Package mock provides a scripted mq.ClientInterface for tests of queue
// producers and consumers.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/footfall/pkg/mq"
)

const deliveryBuffer = 64

// Settlement records how a consumer settled one delivery.
type Settlement struct {
	Tag     uint64
	Acked   bool
	Requeue bool
}

// MockClient records pushes and feeds deliveries queued with Deliver to
// Consume. Deliveries are settled against the client, so Settlements reports
// what the consumer did with each of them.
type MockClient struct {
	// PushFunc replaces the default Push behavior when set.
	PushFunc func(ctx context.Context, data []byte) error
	// PushError is returned by Push when PushFunc is nil.
	PushError error
	// UnsafePushError is returned by UnsafePush.
	UnsafePushError error
	// ConsumeError is returned by Consume.
	ConsumeError error
	// WaitReadyError is returned by WaitReady.
	WaitReadyError error
	// CloseError is returned by Close.
	CloseError error
	// RedeliverRequeued puts nacked deliveries with requeue set back on the
	// queue flagged as redelivered, the way a broker does.
	RedeliverRequeued bool

	deliveries  chan amqp.Delivery
	bodies      map[uint64][]byte
	pushed      [][]byte
	unsafe      [][]byte
	settled     []Settlement
	nextTag     uint64
	consumes    int
	waitReadies int
	closes      int
	mu          sync.Mutex
}

var _ mq.ClientInterface = (*MockClient)(nil)

// NewMockClient creates a MockClient that succeeds at everything.
func NewMockClient() *MockClient {
	return &MockClient{
		deliveries: make(chan amqp.Delivery, deliveryBuffer),
		bodies:     make(map[uint64][]byte),
	}
}

// Push implements mq.ClientInterface.
func (m *MockClient) Push(ctx context.Context, data []byte) error {
	m.mu.Lock()
	m.pushed = append(m.pushed, data)
	fn, err := m.PushFunc, m.PushError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, data)
	}
	return err
}

// UnsafePush implements mq.ClientInterface.
func (m *MockClient) UnsafePush(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unsafe = append(m.unsafe, data)
	return m.UnsafePushError
}

// Consume implements mq.ClientInterface. Every call returns the same queue.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consumes++
	if m.ConsumeError != nil {
		return nil, m.ConsumeError
	}
	return m.deliveries, nil
}

// WaitReady implements mq.ClientInterface.
func (m *MockClient) WaitReady(ctx context.Context) error {
	m.mu.Lock()
	m.waitReadies++
	err := m.WaitReadyError
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return ctx.Err()
}

// Close implements mq.ClientInterface.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closes++
	return m.CloseError
}

// Deliver queues body for the consumer and returns its delivery tag.
func (m *MockClient) Deliver(body []byte) uint64 {
	m.mu.Lock()
	d := m.newDelivery(body)
	m.mu.Unlock()

	m.deliveries <- d
	return d.DeliveryTag
}

// newDelivery must be called with m.mu held.
func (m *MockClient) newDelivery(body []byte) amqp.Delivery {
	m.nextTag++
	m.bodies[m.nextTag] = body
	return amqp.Delivery{
		Acknowledger: settler{m},
		DeliveryTag:  m.nextTag,
		ContentType:  mq.ContentTypeJSON,
		Body:         body,
	}
}

// Pushed returns the data of every Push call in order.
func (m *MockClient) Pushed() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.pushed...)
}

// UnsafePushed returns the data of every UnsafePush call in order.
func (m *MockClient) UnsafePushed() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.unsafe...)
}

// Settlements returns the settled deliveries in order.
func (m *MockClient) Settlements() []Settlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Settlement(nil), m.settled...)
}

// Acked returns the tags of acked deliveries in order.
func (m *MockClient) Acked() []uint64 {
	return m.tags(true)
}

// Nacked returns the tags of nacked or rejected deliveries in order.
func (m *MockClient) Nacked() []uint64 {
	return m.tags(false)
}

func (m *MockClient) tags(acked bool) []uint64 {
	tags := make([]uint64, 0)
	for _, s := range m.Settlements() {
		if s.Acked == acked {
			tags = append(tags, s.Tag)
		}
	}
	return tags
}

// ConsumeCalls returns how often Consume was called.
func (m *MockClient) ConsumeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumes
}

// WaitReadyCalls returns how often WaitReady was called.
func (m *MockClient) WaitReadyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitReadies
}

// CloseCalls returns how often Close was called.
func (m *MockClient) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Reset forgets recorded calls and settlements. Queued deliveries stay.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pushed = nil
	m.unsafe = nil
	m.settled = nil
	m.consumes = 0
	m.waitReadies = 0
	m.closes = 0
}

func (m *MockClient) settle(tag uint64, acked, requeue bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settled = append(m.settled, Settlement{Tag: tag, Acked: acked, Requeue: requeue})
	body, ok := m.bodies[tag]
	delete(m.bodies, tag)
	if acked || !requeue || !m.RedeliverRequeued || !ok {
		return
	}

	d := m.newDelivery(body)
	d.Redelivered = true
	go func() { m.deliveries <- d }()
}

// settler is the amqp.Acknowledger of deliveries handed out by MockClient.
type settler struct {
	m *MockClient
}

func (s settler) Ack(tag uint64, _ bool) error {
	s.m.settle(tag, true, false)
	return nil
}

func (s settler) Nack(tag uint64, _ bool, requeue bool) error {
	s.m.settle(tag, false, requeue)
	return nil
}

func (s settler) Reject(tag uint64, requeue bool) error {
	return s.Nack(tag, false, requeue)
}

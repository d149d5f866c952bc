package simulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"procodus.dev/footfall/pkg/message"
	"procodus.dev/footfall/pkg/mq"
)

// Sink names.
const (
	SinkHTTP = "http"
	SinkAMQP = "amqp"
)

const defaultHTTPTimeout = 10 * time.Second

// Sink delivers simulated payloads to the footfall service.
type Sink interface {
	Name() string
	RegisterDevice(ctx context.Context, d message.Device) error
	SendReading(ctx context.Context, r message.SensorReading) error
	Close() error
}

// HTTPSink posts payloads to the REST API.
type HTTPSink struct {
	client  *http.Client
	baseURL string
}

// NewHTTPSink returns a sink for the API mounted at baseURL, e.g.
// http://localhost:5000/api. A nil client uses a client with a 10s timeout.
func NewHTTPSink(baseURL string, client *http.Client) (*HTTPSink, error) {
	if baseURL == "" {
		return nil, errors.New("api base URL cannot be empty")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPSink{client: client, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Name implements Sink.
func (s *HTTPSink) Name() string { return SinkHTTP }

// RegisterDevice implements Sink.
func (s *HTTPSink) RegisterDevice(ctx context.Context, d message.Device) error {
	return s.post(ctx, "/devices", d)
}

// SendReading implements Sink.
func (s *HTTPSink) SendReading(ctx context.Context, r message.SensorReading) error {
	return s.post(ctx, "/sensor-data", r)
}

// Close implements Sink.
func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPSink) post(ctx context.Context, path string, payload any) error {
	body, err := message.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: unexpected status %d: %s", path, resp.StatusCode, bytes.TrimSpace(detail))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// AMQPSink publishes payloads to the reading and device queues.
type AMQPSink struct {
	readings mq.ClientInterface
	devices  mq.ClientInterface
}

// NewAMQPSink returns a sink over the two queue clients. The sink owns them.
func NewAMQPSink(readings, devices mq.ClientInterface) (*AMQPSink, error) {
	if readings == nil {
		return nil, errors.New("reading mq client cannot be nil")
	}
	if devices == nil {
		return nil, errors.New("device mq client cannot be nil")
	}
	return &AMQPSink{readings: readings, devices: devices}, nil
}

// Name implements Sink.
func (s *AMQPSink) Name() string { return SinkAMQP }

// RegisterDevice implements Sink.
func (s *AMQPSink) RegisterDevice(ctx context.Context, d message.Device) error {
	return push(ctx, s.devices, d)
}

// SendReading implements Sink.
func (s *AMQPSink) SendReading(ctx context.Context, r message.SensorReading) error {
	return push(ctx, s.readings, r)
}

// Close implements Sink.
func (s *AMQPSink) Close() error {
	return errors.Join(s.readings.Close(), s.devices.Close())
}

func push(ctx context.Context, client mq.ClientInterface, payload any) error {
	body, err := message.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := client.Push(ctx, body); err != nil {
		return fmt.Errorf("failed to push payload: %w", err)
	}
	return nil
}

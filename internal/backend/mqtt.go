package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultMQTTTopic matches readings published per sensor.
const DefaultMQTTTopic = "footfall/+/readings"

const (
	mqttDisconnectQuiesce = 250 // milliseconds
	mqttRetryInterval     = 5 * time.Second
)

// MQTTSubscriber feeds readings published on an MQTT topic into a Handler.
// paho acks a message once the handler returns, so messages the handler
// rejects are logged and lost.
type MQTTSubscriber struct {
	logger *slog.Logger
	handle Handler
	opts   *mqtt.ClientOptions
	client mqtt.Client
	topic  string
	qos    byte
}

// MQTTSubscriberConfig holds the configuration for the MQTTSubscriber.
type MQTTSubscriberConfig struct {
	Logger   *slog.Logger
	Handler  Handler
	Broker   string
	ClientID string
	// Topic defaults to DefaultMQTTTopic.
	Topic string
	QoS   byte
}

// NewMQTTSubscriber creates a new MQTTSubscriber instance.
func NewMQTTSubscriber(cfg *MQTTSubscriberConfig) (*MQTTSubscriber, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker cannot be empty")
	}

	if cfg.QoS > 2 {
		return nil, errors.New("mqtt qos must be 0, 1 or 2")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultMQTTTopic
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "footfall-backend"
	}

	s := &MQTTSubscriber{
		logger: cfg.Logger.With("broker", cfg.Broker, "topic", topic),
		handle: cfg.Handler,
		topic:  topic,
		qos:    cfg.QoS,
	}
	s.opts = mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(mqttRetryInterval).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", "error", err)
		})
	return s, nil
}

// Start connects in the background and subscribes on every (re)connect.
// Messages are processed with ctx.
func (s *MQTTSubscriber) Start(ctx context.Context) {
	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.handle(ctx, msg.Payload()); err != nil {
			s.logger.Warn("mqtt message rejected", "message_topic", msg.Topic(), "error", err)
			return
		}
		s.logger.Debug("mqtt message processed", "message_topic", msg.Topic())
	}

	s.opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.logger.Info("connected to mqtt broker")
		token := c.Subscribe(s.topic, s.qos, onMessage)
		if token.Wait() && token.Error() != nil {
			s.logger.Error("mqtt subscribe failed", "error", token.Error())
			return
		}
		s.logger.Info("subscribed to mqtt topic")
	})

	s.client = mqtt.NewClient(s.opts)
	// With connect retry enabled the token completes only once connected.
	s.client.Connect()
}

// Stop disconnects from the broker.
func (s *MQTTSubscriber) Stop() {
	if s.client == nil {
		return
	}
	// Also aborts a pending connect retry.
	s.client.Disconnect(mqttDisconnectQuiesce)
	s.logger.Info("mqtt subscriber stopped")
}

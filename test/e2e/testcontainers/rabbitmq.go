package testcontainers

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const amqpPort = "5672/tcp"

// RabbitMQConfig holds configuration for the RabbitMQ test container.
// Empty credentials default to guest/guest.
type RabbitMQConfig struct {
	User          string
	Password      string
	ContainerName string
}

// StartRabbitMQ starts a RabbitMQ broker and returns the container and its
// amqp:// URL.
func StartRabbitMQ(ctx context.Context, config *RabbitMQConfig) (testcontainers.Container, string, error) {
	cfg := RabbitMQConfig{User: "guest", Password: "guest"}
	if config != nil {
		cfg.ContainerName = config.ContainerName
		if config.User != "" {
			cfg.User = config.User
		}
		if config.Password != "" {
			cfg.Password = config.Password
		}
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3-alpine",
			ExposedPorts: []string{amqpPort},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(amqpPort),
				wait.ForLog("Server startup complete"),
			),
			Env: map[string]string{
				"RABBITMQ_DEFAULT_USER": cfg.User,
				"RABBITMQ_DEFAULT_PASS": cfg.Password,
			},
			Name: cfg.ContainerName,
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start RabbitMQ container: %w", err)
	}

	host, port, err := endpoint(ctx, container, amqpPort)
	if err != nil {
		return nil, "", err
	}

	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     host,
		Port:     port,
		Username: cfg.User,
		Password: cfg.Password,
		Vhost:    "/",
	}
	return container, uri.String(), nil
}

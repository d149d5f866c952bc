package testcontainers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartMosquitto starts an Eclipse Mosquitto broker accepting anonymous
// clients and returns the container and its tcp:// broker URL.
func StartMosquitto(ctx context.Context, containerName string) (testcontainers.Container, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:2",
			ExposedPorts: []string{"1883/tcp"},
			// Mosquitto 2 only listens on localhost without a listener line.
			Cmd: []string{
				"sh", "-c",
				"printf 'listener 1883\\nallow_anonymous true\\n' > /tmp/m.conf && exec mosquitto -c /tmp/m.conf",
			},
			WaitingFor: wait.ForListeningPort("1883/tcp"),
			Name:       containerName,
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start Mosquitto container: %w", err)
	}

	host, port, err := endpoint(ctx, container, "1883/tcp")
	if err != nil {
		return nil, "", err
	}
	return container, fmt.Sprintf("tcp://%s:%d", host, port), nil
}

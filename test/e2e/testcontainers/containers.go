// Package testcontainers starts the broker and database containers used by
// the e2e suites.
package testcontainers

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

// endpoint resolves the host and mapped port of a started container. The
// container is terminated when either lookup fails.
func endpoint(ctx context.Context, container testcontainers.Container, port nat.Port) (string, int, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", 0, terminate(ctx, container, fmt.Errorf("failed to get container host: %w", err))
	}

	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		return "", 0, terminate(ctx, container, fmt.Errorf("failed to get container port %s: %w", port, err))
	}
	return host, mapped.Int(), nil
}

// terminate stops container after a failed setup step and returns cause.
func terminate(ctx context.Context, container testcontainers.Container, cause error) error {
	if err := container.Terminate(ctx); err != nil {
		return fmt.Errorf("%w (cleanup error: %w)", cause, err)
	}
	return cause
}

//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RabbitMQContainerConfig holds configuration for the RabbitMQ test container.
type RabbitMQContainerConfig struct {
	// ImageTag specifies the RabbitMQ version (default: "3.13-management-alpine")
	ImageTag string
	// Username for RabbitMQ authentication (default: "guest")
	Username string
	// Password for RabbitMQ authentication (default: "guest")
	Password string
	// StartupTimeout for container initialization (default: 60 seconds)
	StartupTimeout time.Duration
}

// DefaultRabbitMQConfig returns a RabbitMQContainerConfig with sensible
// defaults for local and CI runs.
func DefaultRabbitMQConfig() *RabbitMQContainerConfig {
	return &RabbitMQContainerConfig{
		ImageTag:       "3.13-management-alpine",
		Username:       "guest",
		Password:       "guest",
		StartupTimeout: 60 * time.Second,
	}
}

// RabbitMQContainer wraps the testcontainers RabbitMQ container with helper methods.
type RabbitMQContainer struct {
	container *rabbitmq.RabbitMQContainer
	brokerURL string
}

// StartRabbitMQContainer starts a RabbitMQ testcontainer. If cfg is nil,
// DefaultRabbitMQConfig is used. The test is skipped when Docker is not
// available.
func StartRabbitMQContainer(ctx context.Context, t *testing.T, cfg *RabbitMQContainerConfig) (*RabbitMQContainer, error) {
	t.Helper()

	if cfg == nil {
		cfg = DefaultRabbitMQConfig()
	}

	if !isDockerAvailable(ctx) {
		t.Skip("Docker is not available - skipping integration test")
		return nil, nil
	}

	rmqContainer, err := rabbitmq.Run(ctx,
		fmt.Sprintf("rabbitmq:%s", cfg.ImageTag),
		rabbitmq.WithAdminUsername(cfg.Username),
		rabbitmq.WithAdminPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(cfg.StartupTimeout),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start RabbitMQ container: %w", err)
	}

	amqpURL, err := rmqContainer.AmqpURL(ctx)
	if err != nil {
		_ = rmqContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get RabbitMQ AMQP URL: %w", err)
	}

	return &RabbitMQContainer{
		container: rmqContainer,
		brokerURL: amqpURL,
	}, nil
}

// MustStartRabbitMQContainer starts a RabbitMQ test container and fails the
// test if startup fails.
func MustStartRabbitMQContainer(ctx context.Context, t *testing.T, cfg *RabbitMQContainerConfig) *RabbitMQContainer {
	t.Helper()

	container, err := StartRabbitMQContainer(ctx, t, cfg)
	if err != nil {
		t.Fatalf("Failed to start RabbitMQ container: %v", err)
	}

	return container
}

// BrokerURL returns the AMQP connection URL.
func (r *RabbitMQContainer) BrokerURL() string {
	return r.brokerURL
}

// Terminate stops and removes the RabbitMQ container.
func (r *RabbitMQContainer) Terminate(ctx context.Context) error {
	if r.container == nil {
		return nil
	}
	return r.container.Terminate(ctx)
}

// WithCleanup registers a cleanup function to terminate the container when
// the test finishes.
func (r *RabbitMQContainer) WithCleanup(t *testing.T) *RabbitMQContainer {
	t.Helper()
	t.Cleanup(func() {
		if err := r.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate RabbitMQ container: %v", err)
		}
	})
	return r
}

package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unionlegal/platform/internal/shared/config"
)

// EventBus defines the interface for durable event publishing
type EventBus interface {
	// Publish appends an event to the bus
	Publish(ctx context.Context, event Event) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// Connect opens a KurrentDB bus and verifies it with a health check.
func Connect(ctx context.Context, cfg config.KurrentDBConfig, log *zap.Logger) (EventBus, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	bus, err := NewBus(timeoutCtx, cfg, log)
	if err != nil {
		return nil, err
	}

	if err := bus.Health(); err != nil {
		bus.Close()
		return nil, fmt.Errorf("KurrentDB health check failed: %w", err)
	}

	return bus, nil
}

// Ensure Bus implements EventBus
var _ EventBus = (*Bus)(nil)

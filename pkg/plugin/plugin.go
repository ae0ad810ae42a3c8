// Package plugin defines the interfaces that tie PrintNest modules together:
// the module lifecycle contract and the event bus the GUI subscribes to.
package plugin

import (
	"context"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Plugin defines the interface that all PrintNest modules must implement.
type Plugin interface {
	// Name returns the plugin's unique identifier (e.g., "discovery.local").
	Name() string

	// Version returns the plugin's semantic version.
	Version() string

	// Init initializes the plugin with configuration and logger.
	Init(config *viper.Viper, logger *zap.Logger) error

	// Start begins the plugin's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the plugin.
	Stop() error
}

// Event is a single notification published on the bus.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

// EventHandler processes a single event.
type EventHandler func(ctx context.Context, e Event)

// EventBus distributes events from modules to subscribers. Model changes,
// discovery results, and user-visible messages all travel through it; the
// host GUI renders them.
type EventBus interface {
	// Publish delivers the event to all matching subscribers synchronously.
	Publish(ctx context.Context, event Event) error

	// PublishAsync delivers the event on a separate goroutine.
	PublishAsync(ctx context.Context, event Event)

	// Subscribe registers a handler for a topic. The returned function
	// removes the subscription.
	Subscribe(topic string, handler EventHandler) func()

	// SubscribeAll registers a handler for every topic.
	SubscribeAll(handler EventHandler) func()
}

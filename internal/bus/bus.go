// Package bus is the publish/subscribe contract between the ingest and data
// services. Channels are plain names; each backend maps them onto its own
// subject or topic space.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/gltrack/telemetry-server/internal/config"
)

// Common errors
var (
	ErrNotConnected = errors.New("bus not connected")
	ErrClosed       = errors.New("bus closed")
)

// Message is a delivery on a channel
type Message struct {
	Channel string
	Data    []byte
}

// Handler receives messages. Handlers of one subscription are called in
// publish order and must not block for long.
type Handler func(msg *Message)

// Subscription is an active subscription
type Subscription interface {
	Unsubscribe() error
}

// Bus is a message bus
type Bus interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(channel string, handler Handler) (Subscription, error)
	Connected() bool
	Name() string
	Close() error
}

// New connects the backend selected in the configuration
func New(cfg *config.Config) (Bus, error) {
	switch cfg.Bus.Backend {
	case "nats":
		return NewNATSBus(cfg.NATS)
	case "mqtt":
		return NewMQTTBus(cfg.MQTT)
	case "memory":
		return NewMemoryBus(), nil
	default:
		return nil, fmt.Errorf("unsupported bus backend %q", cfg.Bus.Backend)
	}
}

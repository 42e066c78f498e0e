package bus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/gltrack/telemetry-server/internal/config"
)

// NATSBus maps channels onto NATS subjects
type NATSBus struct {
	nc *nats.Conn
}

// NewNATSBus connects to NATS with reconnect handling. An unreachable
// server is not fatal: the connection keeps retrying in the background
// and publishes are buffered until it comes up.
func NewNATSBus(cfg config.NATSConfig) (*NATSBus, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error().Err(err).Str("subject", subject).Msg("NATS async error")
		}),
	}
	if cfg.ClientName != "" {
		opts = append(opts, nats.Name(cfg.ClientName))
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	if nc.IsConnected() {
		log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
	} else {
		log.Warn().Str("url", cfg.URL).Msg("NATS unreachable, retrying in background")
	}
	return &NATSBus{nc: nc}, nil
}

// NewNATSBusFromConn wraps an existing connection
func NewNATSBusFromConn(nc *nats.Conn) *NATSBus {
	return &NATSBus{nc: nc}
}

// Publish publishes data on the channel subject
func (b *NATSBus) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.nc.IsClosed() {
		return ErrClosed
	}
	if err := b.nc.Publish(channel, data); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe subscribes handler to the channel subject
func (b *NATSBus) Subscribe(channel string, handler Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(channel, func(msg *nats.Msg) {
		handler(&Message{Channel: msg.Subject, Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return sub, nil
}

// Connected reports the connection state
func (b *NATSBus) Connected() bool {
	return b.nc.IsConnected()
}

// Name returns the backend name
func (b *NATSBus) Name() string {
	return "nats"
}

// Flush waits for the server to process buffered publishes
func (b *NATSBus) Flush() error {
	return b.nc.Flush()
}

// Close drains subscriptions and closes the connection
func (b *NATSBus) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	if !b.nc.IsConnected() {
		b.nc.Close()
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}

package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gltrack/telemetry-server/internal/config"
)

// MQTTBus maps channels onto MQTT topics
type MQTTBus struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]*mqttSub
}

type mqttSub struct {
	bus     *MQTTBus
	topic   string
	handler Handler
}

// NewMQTTBus connects to the broker. Subscriptions are restored after
// every reconnect. A broker that is down at startup is retried in the
// background; the bus reports disconnected until it comes up.
func NewMQTTBus(cfg config.MQTTConfig) (*MQTTBus, error) {
	b := &MQTTBus{
		qos:     cfg.QoS,
		timeout: cfg.ConnectTimeout,
		subs:    make(map[string]*mqttSub),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "gltrack-" + uuid.New().String()[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.RetryInterval).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = mqtt.NewClient(opts)

	// With connect retry the token completes only once connected
	token := b.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		log.Warn().Str("broker", cfg.Broker).Msg("MQTT broker unreachable, retrying in background")
		return b, nil
	}
	if err := token.Error(); err != nil {
		b.client.Disconnect(0)
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, err)
	}

	log.Info().Str("broker", cfg.Broker).Str("clientID", clientID).Msg("Connected to MQTT broker")
	return b, nil
}

// onConnect re-subscribes every known topic
func (b *MQTTBus) onConnect(c mqtt.Client) {
	b.mu.Lock()
	subs := make([]*mqttSub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if err := b.subscribe(s); err != nil {
			log.Error().Err(err).Str("topic", s.topic).Msg("MQTT resubscribe failed")
		}
	}
}

func (b *MQTTBus) subscribe(s *mqttSub) error {
	token := b.client.Subscribe(s.topic, b.qos, func(_ mqtt.Client, m mqtt.Message) {
		s.handler(&Message{Channel: m.Topic(), Data: m.Payload()})
	})
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("subscribe %s: timeout", s.topic)
	}
	return token.Error()
}

// Publish publishes data on the channel topic
func (b *MQTTBus) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := b.client.Publish(channel, b.qos, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.timeout):
		return fmt.Errorf("publish %s: timeout", channel)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe subscribes handler to the channel topic. One handler per topic.
func (b *MQTTBus) Subscribe(channel string, handler Handler) (Subscription, error) {
	s := &mqttSub{bus: b, topic: channel, handler: handler}

	b.mu.Lock()
	if _, exists := b.subs[channel]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("topic %s already subscribed", channel)
	}
	b.subs[channel] = s
	b.mu.Unlock()

	// onConnect subscribes it once the broker is reachable
	if !b.client.IsConnectionOpen() {
		return s, nil
	}
	if err := b.subscribe(s); err != nil {
		b.mu.Lock()
		delete(b.subs, channel)
		b.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// Unsubscribe removes the topic subscription
func (s *mqttSub) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.topic)
	s.bus.mu.Unlock()

	if !s.bus.client.IsConnectionOpen() {
		return nil
	}
	token := s.bus.client.Unsubscribe(s.topic)
	if !token.WaitTimeout(s.bus.timeout) {
		return fmt.Errorf("unsubscribe %s: timeout", s.topic)
	}
	return token.Error()
}

// Connected reports the connection state
func (b *MQTTBus) Connected() bool {
	return b.client.IsConnectionOpen()
}

// Name returns the backend name
func (b *MQTTBus) Name() string {
	return "mqtt"
}

// Close disconnects from the broker
func (b *MQTTBus) Close() error {
	b.client.Disconnect(250)
	return nil
}

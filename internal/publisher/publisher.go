package publisher

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gltrack/telemetry-server/internal/bus"
	"github.com/gltrack/telemetry-server/internal/config"
	"github.com/gltrack/telemetry-server/internal/metrics"
	"github.com/gltrack/telemetry-server/internal/models"
	"github.com/gltrack/telemetry-server/pkg/glproto"
)

// EventPublisher marshals events onto bus channels. A failed publish is
// logged and counted, never returned: the caller keeps running without
// persistence until the bus comes back.
type EventPublisher struct {
	bus     bus.Bus
	metrics *metrics.Metrics
}

// NewEventPublisher creates an event publisher
func NewEventPublisher(b bus.Bus, m *metrics.Metrics) *EventPublisher {
	return &EventPublisher{bus: b, metrics: m}
}

// Publish marshals event and publishes it on channel. It reports whether
// the bus accepted the message.
func (p *EventPublisher) Publish(ctx context.Context, channel string, event interface{}) bool {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("Failed to marshal event")
		p.metrics.PublishFailures.WithLabelValues(channel).Inc()
		return false
	}

	if err := p.bus.Publish(ctx, channel, data); err != nil {
		log.Warn().Err(err).
			Str("channel", channel).
			Str("bus", p.bus.Name()).
			Int("size", len(data)).
			Msg("Publish failed, event dropped")
		p.metrics.PublishFailures.WithLabelValues(channel).Inc()
		return false
	}

	return true
}

// Frame is one decode cycle of a connection, ready for classification
type Frame struct {
	ConnectionID string
	Provider     string
	PacketNumber int64
	Raw          []byte
	Result       *glproto.DecodeResult
	ReceivedAt   time.Time
}

// Classify builds the bus event for a frame: clean decodes become a
// ValidDataEvent, anything with an error a CorruptedDataEvent.
func Classify(f *Frame, channels config.ChannelsConfig) (string, interface{}) {
	if f.Result.Valid() {
		return channels.Valid, &models.ValidDataEvent{
			Type: models.EventTypeModuleData,
			Data: models.ValidDataPayload{
				Packets:      f.Result.Records,
				PacketNumber: f.PacketNumber,
			},
			Provider:     f.Provider,
			ConnectionID: f.ConnectionID,
			Timestamp:    f.ReceivedAt,
		}
	}

	return channels.Corrupted, &models.CorruptedDataEvent{
		Type: models.EventTypeCorruptedData,
		Data: models.CorruptedDataPayload{
			RawHex:        hex.EncodeToString(f.Raw),
			ParsedAttempt: f.Result.Records,
			Errors:        f.Result.Errors,
			PacketNumber:  f.PacketNumber,
		},
		ErrorReason:  f.Result.FirstError(),
		Provider:     f.Provider,
		ConnectionID: f.ConnectionID,
		Timestamp:    f.ReceivedAt,
	}
}

// FramePublisher classifies frames and publishes them from a single
// dispatcher goroutine, so frames leave in the order they were queued and
// socket readers never wait on the bus.
type FramePublisher struct {
	events   *EventPublisher
	channels config.ChannelsConfig
	queue    chan *Frame
	history  *History
	metrics  *metrics.Metrics
}

// NewFramePublisher creates a frame publisher
func NewFramePublisher(events *EventPublisher, channels config.ChannelsConfig, queueSize, historySize int, m *metrics.Metrics) *FramePublisher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &FramePublisher{
		events:   events,
		channels: channels,
		queue:    make(chan *Frame, queueSize),
		history:  NewHistory(historySize),
		metrics:  m,
	}
}

// History returns the recent decode history
func (p *FramePublisher) History() *History {
	return p.history
}

// Enqueue records the frame in the history and queues it for publishing.
// It never blocks; a full queue drops the frame.
func (p *FramePublisher) Enqueue(f *Frame) bool {
	result := "valid"
	if !f.Result.Valid() {
		result = "corrupted"
	}
	p.metrics.Frames.WithLabelValues(result).Inc()
	p.history.Add(f)

	select {
	case p.queue <- f:
		return true
	default:
		p.metrics.EventsDropped.Inc()
		log.Warn().
			Str("connection", f.ConnectionID).
			Int64("packetNumber", f.PacketNumber).
			Int("queue", cap(p.queue)).
			Msg("Publish queue full, frame dropped")
		return false
	}
}

// Start runs the dispatcher until ctx is canceled, then flushes what is
// already queued
func (p *FramePublisher) Start(ctx context.Context) error {
	log.Info().Int("queue", cap(p.queue)).Msg("Frame publisher started")

	for {
		select {
		case f := <-p.queue:
			p.publish(ctx, f)
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		}
	}
}

func (p *FramePublisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case f := <-p.queue:
			p.publish(ctx, f)
		default:
			return
		}
	}
}

func (p *FramePublisher) publish(ctx context.Context, f *Frame) bool {
	channel, event := Classify(f, p.channels)
	ok := p.events.Publish(ctx, channel, event)

	log.Debug().
		Str("connection", f.ConnectionID).
		Int64("packetNumber", f.PacketNumber).
		Str("channel", channel).
		Int("records", len(f.Result.Records)).
		Int("errors", len(f.Result.Errors)).
		Bool("delivered", ok).
		Msg("Frame published")

	return ok
}

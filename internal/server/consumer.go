package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gltrack/telemetry-server/internal/bus"
	"github.com/gltrack/telemetry-server/internal/config"
	"github.com/gltrack/telemetry-server/internal/metrics"
	"github.com/gltrack/telemetry-server/internal/models"
	"github.com/gltrack/telemetry-server/internal/publisher"
	"github.com/gltrack/telemetry-server/internal/storage"
	"github.com/gltrack/telemetry-server/pkg/glproto"
)

// IngestConsumer persists decoded batches from the bus. Bus callbacks only
// enqueue; a single worker writes, so batches are committed in the order
// they were received.
type IngestConsumer struct {
	bus       bus.Bus
	store     storage.Store
	events    *publisher.EventPublisher
	sessions  *SessionTracker
	channels  config.ChannelsConfig
	txTimeout time.Duration
	metrics   *metrics.Metrics
	queue     chan *bus.Message
	ready     chan struct{}
}

// NewIngestConsumer creates the consumer
func NewIngestConsumer(cfg *config.Config, b bus.Bus, store storage.Store, events *publisher.EventPublisher, sessions *SessionTracker, m *metrics.Metrics) *IngestConsumer {
	queueSize := cfg.Consumer.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	txTimeout := cfg.Database.TxTimeout
	if txTimeout <= 0 {
		txTimeout = 10 * time.Second
	}
	return &IngestConsumer{
		bus:       b,
		store:     store,
		events:    events,
		sessions:  sessions,
		channels:  cfg.Bus.Channels,
		txTimeout: txTimeout,
		metrics:   m,
		queue:     make(chan *bus.Message, queueSize),
		ready:     make(chan struct{}),
	}
}

// Start subscribes to the valid and corrupted channels and processes
// messages until ctx is canceled
func (c *IngestConsumer) Start(ctx context.Context) error {
	var subs []bus.Subscription
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	for _, channel := range []string{c.channels.Valid, c.channels.Corrupted} {
		sub, err := c.bus.Subscribe(channel, c.enqueue)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
		subs = append(subs, sub)
	}

	close(c.ready)
	log.Info().
		Str("bus", c.bus.Name()).
		Int("subscriptions", len(subs)).
		Msg("Ingest consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.queue:
			c.handleMessage(ctx, msg)
		}
	}
}

// Ready is closed once Start has subscribed
func (c *IngestConsumer) Ready() <-chan struct{} {
	return c.ready
}

func (c *IngestConsumer) enqueue(msg *bus.Message) {
	select {
	case c.queue <- msg:
	default:
		c.metrics.EventsDropped.Inc()
		log.Warn().
			Str("channel", msg.Channel).
			Int("queue", cap(c.queue)).
			Msg("Consumer queue full, message dropped")
	}
}

func (c *IngestConsumer) handleMessage(ctx context.Context, msg *bus.Message) {
	switch msg.Channel {
	case c.channels.Valid:
		var event models.ValidDataEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Error().Err(err).Str("channel", msg.Channel).Msg("Failed to unmarshal valid data event")
			return
		}
		c.HandleValid(ctx, &event)

	case c.channels.Corrupted:
		var event models.CorruptedDataEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Error().Err(err).Str("channel", msg.Channel).Msg("Failed to unmarshal corrupted data event")
			return
		}
		c.HandleCorrupted(ctx, &event)

	default:
		log.Warn().Str("channel", msg.Channel).Msg("Message on unexpected channel")
	}
}

// HandleValid persists one batch atomically and republishes the joined
// rows for live viewers. A batch with no usable module returns nil, nil.
func (c *IngestConsumer) HandleValid(ctx context.Context, event *models.ValidDataEvent) (*models.FrontendUpdate, error) {
	records := filterRecords(event.Data.Packets)
	if len(records) == 0 {
		c.metrics.BatchesSkipped.Inc()
		log.Debug().
			Str("connection", event.ConnectionID).
			Int64("packetNumber", event.Data.PacketNumber).
			Int("received", len(event.Data.Packets)).
			Msg("Batch has no valid module, skipped")
		return nil, nil
	}

	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	txCtx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	var (
		sessionID      int64
		sessionCreated bool
		modulesCreated int
		rows           []*models.EnrichedData
	)

	start := time.Now()
	err := storage.WithTransaction(txCtx, c.store, func(tx storage.Store) error {
		var err error
		sessionID, sessionCreated, err = c.sessions.Resolve(txCtx, tx)
		if err != nil {
			return fmt.Errorf("resolve session: %w", err)
		}

		for _, id := range distinctModules(records) {
			created, err := tx.EnsureModule(txCtx, models.NewModule(id))
			if err != nil {
				return fmt.Errorf("ensure module %d: %w", id, err)
			}
			if created {
				modulesCreated++
			}
		}

		data := make([]*models.Data, 0, len(records))
		for _, rec := range records {
			data = append(data, newDataRow(rec, sessionID, event.Data.PacketNumber, timestamp))
		}

		ids, err := tx.InsertData(txCtx, data)
		if err != nil {
			return err
		}

		rows, err = tx.GetEnrichedData(txCtx, ids)
		if err != nil {
			return fmt.Errorf("reload rows: %w", err)
		}
		return nil
	})
	elapsed := time.Since(start)
	c.metrics.BatchDuration.Observe(elapsed.Seconds())

	if err != nil {
		c.metrics.BatchesFailed.Inc()
		log.Error().Err(err).
			Int("batch", len(records)).
			Int64("session", sessionID).
			Str("connection", event.ConnectionID).
			Int64("packetNumber", event.Data.PacketNumber).
			Msg("Batch rolled back")
		return nil, err
	}

	c.sessions.Set(sessionID)
	c.metrics.BatchesCommitted.Inc()
	c.metrics.RowsInserted.Add(float64(len(rows)))
	c.metrics.ModulesCreated.Add(float64(modulesCreated))
	if sessionCreated {
		c.metrics.SessionsCreated.Inc()
		log.Info().Int64("session", sessionID).Msg("Session auto-created")
	}

	log.Debug().
		Int("rows", len(rows)).
		Int64("session", sessionID).
		Int("newModules", modulesCreated).
		Dur("elapsed", elapsed).
		Msg("Batch committed")

	update := &models.FrontendUpdate{
		Type: models.EventTypeModuleUpdate,
		Data: models.FrontendData{
			Rows:         rows,
			Provider:     event.Provider,
			ConnectionID: event.ConnectionID,
			PacketNumber: event.Data.PacketNumber,
			DBSaveTimeMs: float64(elapsed.Microseconds()) / 1000,
		},
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	c.events.Publish(ctx, c.channels.Frontend, update)

	return update, nil
}

// HandleCorrupted keeps a corrupted frame for later inspection
func (c *IngestConsumer) HandleCorrupted(ctx context.Context, event *models.CorruptedDataEvent) error {
	txCtx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	frame := event.ToCorruptedFrame()
	if frame.ReceivedAt.IsZero() {
		frame.ReceivedAt = models.NewDBTime(time.Now())
	}

	if err := c.store.CreateCorruptedFrame(txCtx, frame); err != nil {
		log.Error().Err(err).
			Str("connection", event.ConnectionID).
			Int64("packetNumber", event.Data.PacketNumber).
			Msg("Failed to store corrupted frame")
		return err
	}

	c.metrics.CorruptedStored.Inc()
	log.Debug().
		Int64("id", frame.ID).
		Str("reason", event.ErrorReason).
		Msg("Corrupted frame stored")
	return nil
}

// filterRecords drops sentinel module ids
func filterRecords(records []glproto.SubRecord) []glproto.SubRecord {
	out := make([]glproto.SubRecord, 0, len(records))
	for _, rec := range records {
		if rec.ModuleID == 0 {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// distinctModules returns the module ids of a batch in ascending order,
// so concurrent writers take row locks in the same order
func distinctModules(records []glproto.SubRecord) []int {
	seen := make(map[int]bool, len(records))
	ids := make([]int, 0, len(records))
	for _, rec := range records {
		id := int(rec.ModuleID)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func newDataRow(rec glproto.SubRecord, sessionID, packetNumber int64, timestamp time.Time) *models.Data {
	d := &models.Data{
		ModuleID:      int(rec.ModuleID),
		SessionID:     sessionID,
		MessageTypeID: models.MessageType(rec.PacketType),
		MessageNumber: int(packetNumber),
	}
	d.SetTime(timestamp)
	d.SetPosition(rec.Latitude, rec.Longitude, float64(rec.Altitude))
	d.Jumps.Int64, d.Jumps.Valid = int64(rec.HopCount), true
	return d
}

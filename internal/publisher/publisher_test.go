package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gltrack/telemetry-server/internal/bus"
	"github.com/gltrack/telemetry-server/internal/config"
	"github.com/gltrack/telemetry-server/internal/metrics"
	"github.com/gltrack/telemetry-server/internal/models"
	"github.com/gltrack/telemetry-server/pkg/glproto"
)

type collector struct {
	mu   sync.Mutex
	msgs []*bus.Message
}

func (c *collector) handle(msg *bus.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) snapshot() []*bus.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*bus.Message(nil), c.msgs...)
}

func validFrame(conn string, n int64) *Frame {
	return &Frame{
		ConnectionID: conn,
		Provider:     "tcp",
		PacketNumber: n,
		Raw:          []byte("GL\x01"),
		Result: &glproto.DecodeResult{
			Header:        glproto.DefaultMagic,
			DeclaredCount: 1,
			Records:       []glproto.SubRecord{{ModuleID: 1, Latitude: 48.85, Longitude: 2.35, Altitude: 120}},
		},
		ReceivedAt: time.Unix(1767225600, 0).UTC(),
	}
}

func corruptedFrame(conn string, n int64) *Frame {
	f := validFrame(conn, n)
	f.Result.Errors = []string{"truncated frame: declared 2 records, only 1 available", "second"}
	return f
}

func TestClassify(t *testing.T) {
	channels := config.Default().Bus.Channels

	channel, event := Classify(validFrame("c1", 1), channels)
	assert.Equal(t, channels.Valid, channel)
	valid, ok := event.(*models.ValidDataEvent)
	require.True(t, ok)
	assert.Equal(t, models.EventTypeModuleData, valid.Type)
	assert.Len(t, valid.Data.Packets, 1)
	assert.Equal(t, int64(1), valid.Data.PacketNumber)

	channel, event = Classify(corruptedFrame("c1", 2), channels)
	assert.Equal(t, channels.Corrupted, channel)
	bad, ok := event.(*models.CorruptedDataEvent)
	require.True(t, ok)
	assert.Equal(t, "truncated frame: declared 2 records, only 1 available", bad.ErrorReason)
	assert.Equal(t, "474c01", bad.Data.RawHex)
	assert.Len(t, bad.Data.ParsedAttempt, 1)
	assert.Len(t, bad.Data.Errors, 2)
}

func TestFramePublisher_PreservesOrder(t *testing.T) {
	b := bus.NewMemoryBus()
	m := metrics.New()
	channels := config.Default().Bus.Channels

	valid := &collector{}
	corrupted := &collector{}
	_, err := b.Subscribe(channels.Valid, valid.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(channels.Corrupted, corrupted.handle)
	require.NoError(t, err)

	p := NewFramePublisher(NewEventPublisher(b, m), channels, 64, 10, m)

	for i := int64(1); i <= 20; i++ {
		if i%5 == 0 {
			require.True(t, p.Enqueue(corruptedFrame("c1", i)))
		} else {
			require.True(t, p.Enqueue(validFrame("c1", i)))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	require.Eventually(t, func() bool {
		return len(valid.snapshot())+len(corrupted.snapshot()) == 20
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	var last int64
	for _, msg := range valid.snapshot() {
		var ev models.ValidDataEvent
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Greater(t, ev.Data.PacketNumber, last)
		last = ev.Data.PacketNumber
	}
	assert.Len(t, corrupted.snapshot(), 4)

	assert.Equal(t, 16.0, testutil.ToFloat64(m.Frames.WithLabelValues("valid")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Frames.WithLabelValues("corrupted")))
	assert.Equal(t, 10, p.History().Len())
}

func TestFramePublisher_DropsWhenFull(t *testing.T) {
	b := bus.NewMemoryBus()
	m := metrics.New()
	p := NewFramePublisher(NewEventPublisher(b, m), config.Default().Bus.Channels, 2, 10, m)

	assert.True(t, p.Enqueue(validFrame("c1", 1)))
	assert.True(t, p.Enqueue(validFrame("c1", 2)))
	assert.False(t, p.Enqueue(validFrame("c1", 3)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))
	// dropped frames still show up in the history
	assert.Equal(t, 3, p.History().Len())
}

func TestEventPublisher_FailureIsCounted(t *testing.T) {
	b := bus.NewMemoryBus()
	require.NoError(t, b.Close())
	m := metrics.New()

	p := NewEventPublisher(b, m)
	assert.False(t, p.Publish(context.Background(), "valid-data", map[string]string{"a": "b"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures.WithLabelValues("valid-data")))
}

func TestHistory_Ring(t *testing.T) {
	h := NewHistory(3)
	assert.Empty(t, h.Recent(10, ""))

	for i := int64(1); i <= 5; i++ {
		conn := "a"
		if i%2 == 0 {
			conn = "b"
		}
		h.Add(validFrame(conn, i))
	}

	assert.Equal(t, 3, h.Len())
	recent := h.Recent(10, "")
	require.Len(t, recent, 3)
	for i, want := range []int64{5, 4, 3} {
		assert.Equal(t, want, recent[i].PacketNumber, fmt.Sprintf("entry %d", i))
	}

	onlyA := h.Recent(10, "a")
	require.Len(t, onlyA, 2)
	assert.Equal(t, int64(5), onlyA[0].PacketNumber)

	assert.Len(t, h.Recent(1, ""), 1)
}

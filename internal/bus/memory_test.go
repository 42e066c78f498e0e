package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gltrack/telemetry-server/internal/config"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	var got []string
	sub, err := b.Subscribe("valid-data", func(msg *Message) {
		assert.Equal(t, "valid-data", msg.Channel)
		got = append(got, string(msg.Data))
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "valid-data", []byte("1")))
	require.NoError(t, b.Publish(ctx, "other", []byte("x")))
	require.NoError(t, b.Publish(ctx, "valid-data", []byte("2")))

	assert.Equal(t, []string{"1", "2"}, got)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, b.Publish(ctx, "valid-data", []byte("3")))
	assert.Len(t, got, 2)
}

func TestMemoryBus_PayloadIsCopied(t *testing.T) {
	b := NewMemoryBus()

	var got []byte
	_, err := b.Subscribe("c", func(msg *Message) { got = msg.Data })
	require.NoError(t, err)

	data := []byte("abc")
	require.NoError(t, b.Publish(context.Background(), "c", data))
	data[0] = 'z'

	assert.Equal(t, "abc", string(got))
}

func TestMemoryBus_HandlerMayPublish(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	done := false
	_, err := b.Subscribe("in", func(msg *Message) {
		assert.NoError(t, b.Publish(ctx, "out", msg.Data))
	})
	require.NoError(t, err)
	_, err = b.Subscribe("out", func(msg *Message) { done = true })
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "in", []byte("x")))
	assert.True(t, done)
}

func TestMemoryBus_Closed(t *testing.T) {
	b := NewMemoryBus()
	assert.True(t, b.Connected())
	require.NoError(t, b.Close())

	assert.False(t, b.Connected())
	assert.ErrorIs(t, b.Publish(context.Background(), "c", nil), ErrClosed)
	_, err := b.Subscribe("c", func(*Message) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBus_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewMemoryBus().Publish(ctx, "c", nil), context.Canceled)
}

func TestNew_Backends(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.Backend = "memory"

	b, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "memory", b.Name())

	cfg.Bus.Backend = "kafka"
	_, err = New(cfg)
	assert.Error(t, err)
}

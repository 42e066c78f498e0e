package gateway

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRegistry_Lifecycle(t *testing.T) {
	now := time.Unix(1767225600, 0)
	r := NewConnectionRegistry(time.Minute)
	r.now = func() time.Time { return now }

	server, client := net.Pipe()
	defer client.Close()

	id := r.Register(server, "tcp")
	require.NotEmpty(t, id)
	assert.Equal(t, 1, r.ActiveCount())

	now = now.Add(time.Second)
	r.Touch(id, 13)
	r.RecordFrame(id, true)
	r.RecordFrame(id, false)

	info, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusConnected, info.Status)
	assert.Equal(t, int64(13), info.BytesReceived)
	assert.Equal(t, int64(2), info.Frames)
	assert.Equal(t, int64(1), info.DecodeErrors)
	assert.Equal(t, now, info.LastSeen)
	assert.Equal(t, "tcp", info.Provider)

	r.MarkDisconnected(id)
	assert.Equal(t, 0, r.ActiveCount())

	info, ok = r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusDisconnected, info.Status)
	require.NotNil(t, info.DisconnectedAt)

	_, err := r.Send(id, []byte("x"))
	assert.ErrorIs(t, err, ErrConnectionClosed)

	// still inside the grace window
	now = now.Add(30 * time.Second)
	assert.Equal(t, 0, r.Prune())
	assert.Len(t, r.List(), 1)

	now = now.Add(31 * time.Second)
	assert.Equal(t, 1, r.Prune())
	_, ok = r.Get(id)
	assert.False(t, ok)
}

func TestConnectionRegistry_SendUnknown(t *testing.T) {
	r := NewConnectionRegistry(time.Minute)
	_, err := r.Send("nope", []byte("x"))
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestConnectionRegistry_Send(t *testing.T) {
	r := NewConnectionRegistry(time.Minute)
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	id := r.Register(server, "tcp")

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := client.Read(buf)
		got <- buf[:n]
	}()

	n, err := r.Send(id, []byte("PING"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("PING"), <-got)

	info, _ := r.Get(id)
	assert.Equal(t, int64(1), info.DownlinkPackets)
}

func TestConnectionRegistry_Concurrent(t *testing.T) {
	r := NewConnectionRegistry(time.Minute)

	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			server, client := net.Pipe()
			defer client.Close()
			defer server.Close()

			id := r.Register(server, "tcp")
			r.Touch(id, 1)
			r.RecordFrame(id, true)
			_ = r.List()
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id")
		seen[id] = true
	}
	assert.Equal(t, 50, r.ActiveCount())
	assert.Len(t, r.List(), 50)
}

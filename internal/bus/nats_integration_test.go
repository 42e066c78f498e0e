//go:build integration

package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gltrack/telemetry-server/internal/config"
)

func startTestNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "nats:2.11.7-alpine",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)

	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return natsContainer, fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestNATSBus_Integration(t *testing.T) {
	ctx := context.Background()

	container, url := startTestNATSContainer(ctx, t)
	defer func() {
		assert.NoError(t, container.Terminate(ctx))
	}()

	cfg := config.Default().NATS
	cfg.URL = url
	cfg.ClientName = "bus-test"

	b, err := NewNATSBus(cfg)
	require.NoError(t, err)
	defer b.Close()

	assert.True(t, b.Connected())
	assert.Equal(t, "nats", b.Name())

	received := make(chan string, 10)
	sub, err := b.Subscribe("valid-data", func(msg *Message) {
		received <- string(msg.Data)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(ctx, "valid-data", []byte(fmt.Sprintf("m%d", i))))
	}
	require.NoError(t, b.Flush())

	for i := 0; i < 3; i++ {
		select {
		case got := <-received:
			assert.Equal(t, fmt.Sprintf("m%d", i), got)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

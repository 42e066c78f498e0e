// Package live pushes committed batches to browser viewers over websocket.
package live

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gltrack/telemetry-server/internal/bus"
	"github.com/gltrack/telemetry-server/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub relays every message of one bus channel to all connected viewers.
// A viewer that cannot keep up is disconnected rather than slowing the
// others down.
type Hub struct {
	bus      bus.Bus
	channel  string
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub for channel
func NewHub(b bus.Bus, channel string, m *metrics.Metrics) *Hub {
	return &Hub{
		bus:     b,
		channel: channel,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// Start subscribes to the channel and blocks until ctx is canceled, then
// disconnects every viewer
func (h *Hub) Start(ctx context.Context) error {
	sub, err := h.bus.Subscribe(h.channel, func(msg *bus.Message) {
		h.Broadcast(msg.Data)
	})
	if err != nil {
		return err
	}
	log.Info().Str("channel", h.channel).Msg("Live hub started")

	<-ctx.Done()
	sub.Unsubscribe()

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.metrics.LiveViewers.Set(0)

	return ctx.Err()
}

// Viewers returns the number of connected viewers
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues data for every viewer
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
			h.metrics.LiveMessages.Inc()
		default:
			log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("Live viewer too slow, disconnecting")
			h.removeLocked(c)
		}
	}
}

// ServeHTTP upgrades the request and registers the viewer. Once Start has
// returned, new viewers are closed immediately.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.metrics.LiveViewers.Set(float64(len(h.clients)))
	h.mu.Unlock()

	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Live viewer connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.LiveViewers.Set(float64(len(h.clients)))
}

// readLoop drains control frames and notices when the viewer goes away
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package gateway

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// 连接状态
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

var (
	// ErrConnectionNotFound 连接不存在
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrConnectionClosed 连接已断开
	ErrConnectionClosed = errors.New("connection closed")
)

const downlinkWriteTimeout = 5 * time.Second

// ConnectionInfo 连接信息快照
type ConnectionInfo struct {
	ID              string     `json:"id"`
	RemoteAddr      string     `json:"remoteAddr"`
	Provider        string     `json:"provider"`
	Status          string     `json:"status"`
	ConnectedAt     time.Time  `json:"connectedAt"`
	LastSeen        time.Time  `json:"lastSeen"`
	DisconnectedAt  *time.Time `json:"disconnectedAt,omitempty"`
	BytesReceived   int64      `json:"bytesReceived"`
	Frames          int64      `json:"frames"`
	DecodeErrors    int64      `json:"decodeErrors"`
	DownlinkPackets int64      `json:"downlinkPackets"`
}

// connection 注册表内部条目，持有 socket 用于下行写入
type connection struct {
	info    ConnectionInfo
	conn    net.Conn
	writeMu sync.Mutex
}

// ConnectionRegistry 连接注册表。一把锁保护整个 map，锁内只做状态变更，不做 I/O
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*connection
	grace time.Duration
	now   func() time.Time
}

// NewConnectionRegistry 创建连接注册表
func NewConnectionRegistry(grace time.Duration) *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*connection),
		grace: grace,
		now:   time.Now,
	}
}

// Register 注册新连接，返回连接 ID
func (r *ConnectionRegistry) Register(conn net.Conn, provider string) string {
	id := uuid.New().String()
	now := r.now()

	c := &connection{
		info: ConnectionInfo{
			ID:          id,
			RemoteAddr:  conn.RemoteAddr().String(),
			Provider:    provider,
			Status:      StatusConnected,
			ConnectedAt: now,
			LastSeen:    now,
		},
		conn: conn,
	}

	r.mu.Lock()
	r.conns[id] = c
	r.mu.Unlock()

	return id
}

// Touch 更新最后活动时间和接收字节数
func (r *ConnectionRegistry) Touch(id string, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[id]; ok {
		c.info.LastSeen = r.now()
		c.info.BytesReceived += int64(bytes)
	}
}

// RecordFrame 记录一次解码结果
func (r *ConnectionRegistry) RecordFrame(id string, valid bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[id]; ok {
		c.info.LastSeen = r.now()
		c.info.Frames++
		if !valid {
			c.info.DecodeErrors++
		}
	}
}

// MarkDisconnected 标记连接断开。条目保留到宽限期结束
func (r *ConnectionRegistry) MarkDisconnected(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok || c.info.Status == StatusDisconnected {
		return
	}
	now := r.now()
	c.info.Status = StatusDisconnected
	c.info.DisconnectedAt = &now
	c.conn = nil
}

// Get 获取连接信息
func (r *ConnectionRegistry) Get(id string) (ConnectionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok {
		return ConnectionInfo{}, false
	}
	return c.info, true
}

// List 列出所有连接，按连接时间排序
func (r *ConnectionRegistry) List() []ConnectionInfo {
	r.mu.RLock()
	out := make([]ConnectionInfo, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// ActiveCount 当前在线连接数
func (r *ConnectionRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.conns {
		if c.info.Status == StatusConnected {
			n++
		}
	}
	return n
}

// Prune 删除断开超过宽限期的条目，返回删除数量
func (r *ConnectionRegistry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, c := range r.conns {
		if c.info.Status != StatusDisconnected || c.info.DisconnectedAt == nil {
			continue
		}
		if now.Sub(*c.info.DisconnectedAt) >= r.grace {
			delete(r.conns, id)
			removed++
		}
	}
	return removed
}

// Send 向设备写入下行数据
func (r *ConnectionRegistry) Send(id string, payload []byte) (int, error) {
	r.mu.RLock()
	c, ok := r.conns[id]
	var conn net.Conn
	if ok {
		conn = c.conn
	}
	r.mu.RUnlock()

	if !ok {
		return 0, ErrConnectionNotFound
	}
	if conn == nil {
		return 0, ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(downlinkWriteTimeout))
	n, err := conn.Write(payload)
	if err != nil {
		return n, err
	}

	r.mu.Lock()
	c.info.DownlinkPackets++
	r.mu.Unlock()

	return n, nil
}

// CloseAll 关闭所有在线 socket，读循环随之退出
func (r *ConnectionRegistry) CloseAll() {
	r.mu.RLock()
	conns := make([]net.Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if c.conn != nil {
			conns = append(conns, c.conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// Start 定期清理断开的连接
func (r *ConnectionRegistry) Start(ctx context.Context) {
	interval := r.grace / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Prune(); n > 0 {
				log.Debug().Int("removed", n).Msg("清理已断开连接")
			}
		}
	}
}

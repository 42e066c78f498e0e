package publisher

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/gltrack/telemetry-server/pkg/glproto"
)

// HistoryEntry summarizes one decode cycle
type HistoryEntry struct {
	Timestamp    time.Time           `json:"timestamp"`
	ConnectionID string              `json:"connectionId"`
	Provider     string              `json:"provider"`
	PacketNumber int64               `json:"packetNumber"`
	RawHex       string              `json:"rawHex"`
	Valid        bool                `json:"valid"`
	Packets      []glproto.SubRecord `json:"packets"`
	Errors       []string            `json:"errors"`
}

// History is a fixed-size ring of recent decode cycles
type History struct {
	mu      sync.RWMutex
	entries []HistoryEntry
	next    int
	full    bool
}

// NewHistory creates a ring holding size entries
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{entries: make([]HistoryEntry, size)}
}

// Add records a frame, evicting the oldest entry when full
func (h *History) Add(f *Frame) {
	entry := HistoryEntry{
		Timestamp:    f.ReceivedAt,
		ConnectionID: f.ConnectionID,
		Provider:     f.Provider,
		PacketNumber: f.PacketNumber,
		RawHex:       hex.EncodeToString(f.Raw),
		Valid:        f.Result.Valid(),
		Packets:      f.Result.Records,
		Errors:       f.Result.Errors,
	}

	h.mu.Lock()
	h.entries[h.next] = entry
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// Len returns the number of stored entries
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Recent returns up to limit entries, newest first. A connection id
// restricts the result to that connection.
func (h *History) Recent(limit int, connectionID string) []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.next
	if h.full {
		n = len(h.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]HistoryEntry, 0, limit)
	for i := 0; i < n && len(out) < limit; i++ {
		idx := (h.next - 1 - i + len(h.entries)) % len(h.entries)
		e := h.entries[idx]
		if connectionID != "" && e.ConnectionID != connectionID {
			continue
		}
		out = append(out, e)
	}
	return out
}

package bus

import (
	"context"
	"sync"
)

// MemoryBus delivers messages in-process, synchronously, in publish order.
// It backs single-binary deployments and tests.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
}

type memorySub struct {
	bus     *MemoryBus
	channel string
	handler Handler
}

// NewMemoryBus creates an in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySub)}
}

// Publish delivers data to every subscriber of channel
func (b *MemoryBus) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*memorySub(nil), b.subs[channel]...)
	b.mu.RUnlock()

	for _, s := range subs {
		payload := append([]byte(nil), data...)
		s.handler(&Message{Channel: channel, Data: payload})
	}
	return nil
}

// Subscribe registers handler on channel
func (b *MemoryBus) Subscribe(channel string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	s := &memorySub{bus: b, channel: channel, handler: handler}
	b.subs[channel] = append(b.subs[channel], s)
	return s, nil
}

// Unsubscribe removes the subscription
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subs[s.channel]
	for i, other := range subs {
		if other == s {
			s.bus.subs[s.channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// Connected reports whether the bus accepts messages
func (b *MemoryBus) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// Name returns the backend name
func (b *MemoryBus) Name() string {
	return "memory"
}

// Close drops every subscription
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]*memorySub)
	return nil
}

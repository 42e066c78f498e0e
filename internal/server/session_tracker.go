package server

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gltrack/telemetry-server/internal/models"
	"github.com/gltrack/telemetry-server/internal/storage"
)

// SessionTracker caches the id of the session incoming data attaches to.
// The consumer reads it when a batch starts and updates it only after the
// batch committed; the REST surface updates it when sessions are created
// or hidden.
type SessionTracker struct {
	mu      sync.Mutex
	current int64
	name    string
}

// NewSessionTracker creates a tracker. name is used for sessions created
// automatically when none is live.
func NewSessionTracker(name string) *SessionTracker {
	if name == "" {
		name = "Auto-created session"
	}
	return &SessionTracker{name: name}
}

// Current returns the cached session id, 0 when unset
func (t *SessionTracker) Current() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Set caches id as the current session
func (t *SessionTracker) Set(id int64) {
	t.mu.Lock()
	t.current = id
	t.mu.Unlock()
}

// Forget clears the cache if it still points at id
func (t *SessionTracker) Forget(id int64) {
	t.mu.Lock()
	if t.current == id {
		t.current = 0
	}
	t.mu.Unlock()
}

// Resolve returns the session a batch should attach to, using tx for every
// read so the answer is consistent with the batch. A session created here
// only exists if the transaction commits.
func (t *SessionTracker) Resolve(ctx context.Context, tx storage.Store) (int64, bool, error) {
	if id := t.Current(); id != 0 {
		session, err := tx.GetSession(ctx, id)
		switch {
		case err == nil && !session.Hidden:
			return id, false, nil
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return 0, false, err
		}
		log.Debug().Int64("session", id).Msg("Cached session is stale")
	}

	latest, err := tx.GetLatestSession(ctx)
	if err == nil {
		return latest.ID, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, false, err
	}

	session := &models.Session{Name: t.name}
	if err := tx.CreateSession(ctx, session); err != nil {
		return 0, false, err
	}
	return session.ID, true, nil
}

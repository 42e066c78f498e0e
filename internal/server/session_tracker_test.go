package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gltrack/telemetry-server/internal/models"
	"github.com/gltrack/telemetry-server/internal/storage"
)

func newSessionStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestSessionTracker_CreatesWhenNoneLive(t *testing.T) {
	store := newSessionStore(t)
	ctx := context.Background()
	tracker := NewSessionTracker("")

	id, created, err := tracker.Resolve(ctx, store)
	require.NoError(t, err)
	assert.True(t, created)

	session, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Auto-created session", session.Name)

	// Resolve never caches on its own
	assert.Zero(t, tracker.Current())
}

func TestSessionTracker_UsesLatestLiveSession(t *testing.T) {
	store := newSessionStore(t)
	ctx := context.Background()

	older := &models.Session{Name: "older"}
	newer := &models.Session{Name: "newer"}
	require.NoError(t, store.CreateSession(ctx, older))
	require.NoError(t, store.CreateSession(ctx, newer))

	tracker := NewSessionTracker("auto")
	id, created, err := tracker.Resolve(ctx, store)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, newer.ID, id)
}

func TestSessionTracker_CachedSession(t *testing.T) {
	store := newSessionStore(t)
	ctx := context.Background()

	first := &models.Session{Name: "first"}
	second := &models.Session{Name: "second"}
	require.NoError(t, store.CreateSession(ctx, first))
	require.NoError(t, store.CreateSession(ctx, second))

	tracker := NewSessionTracker("auto")
	tracker.Set(first.ID)

	// a live cached session wins over the latest one
	id, _, err := tracker.Resolve(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, first.ID, id)

	// a hidden cached session is stale
	require.NoError(t, store.SetSessionHidden(ctx, first.ID, true))
	id, _, err = tracker.Resolve(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)

	// so is a cached id that no longer exists
	tracker.Set(9999)
	id, _, err = tracker.Resolve(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)
}

func TestSessionTracker_Forget(t *testing.T) {
	tracker := NewSessionTracker("auto")
	tracker.Set(4)

	tracker.Forget(3)
	assert.Equal(t, int64(4), tracker.Current())

	tracker.Forget(4)
	assert.Zero(t, tracker.Current())
}

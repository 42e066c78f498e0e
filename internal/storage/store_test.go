package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gltrack/telemetry-server/internal/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func newRow(moduleID int, sessionID int64, n int) *models.Data {
	d := &models.Data{
		ModuleID:      moduleID,
		SessionID:     sessionID,
		MessageTypeID: models.MessageTypeMesh,
		MessageNumber: n,
	}
	d.SetTime(time.Unix(1767225600+int64(n), 0))
	d.SetPosition(55.75, 37.61, 120)
	return d
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	assert.Equal(t, "SELECT $1, '?', $2", pg.q("SELECT ?, '?', ?"))

	lite := &SQLStore{dialect: DialectSQLite}
	assert.Equal(t, "SELECT ?, ?", lite.q("SELECT ?, ?"))

	assert.Equal(t, "?, ?, ?", placeholders(3))
	assert.Equal(t, "", placeholders(0))
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Migrate(ctx))

	var n int
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM message_type").Scan(&n))
	assert.Equal(t, len(models.MessageTypeNames), n)
}

func TestEnsureModule_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.EnsureModule(ctx, &models.Module{ID: 5})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.EnsureModule(ctx, &models.Module{ID: 5, Name: "other"})
	require.NoError(t, err)
	assert.False(t, created)

	modules, count, err := store.ListModules(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	require.Len(t, modules, 1)
	assert.Equal(t, "Module 5", modules[0].Name)
	assert.Equal(t, models.ColorForModule(5), modules[0].Color)

	_, err = store.EnsureModule(ctx, &models.Module{ID: 0})
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestEnsureModule_ConcurrentFirstSight(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	createdCount := 0
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := store.EnsureModule(ctx, &models.Module{ID: 9})
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
}

func TestModuleGetUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetModule(ctx, 3)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.EnsureModule(ctx, models.NewModule(3))
	require.NoError(t, err)

	m, err := store.GetModule(ctx, 3)
	require.NoError(t, err)
	m.Name = "Scout"
	require.NoError(t, store.UpdateModule(ctx, m))

	m, err = store.GetModule(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Scout", m.Name)
	assert.False(t, m.CreatedAt.IsZero())

	assert.ErrorIs(t, store.UpdateModule(ctx, &models.Module{ID: 99, Name: "x", Color: "#000000"}), ErrNotFound)
}

func TestSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetLatestSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	first := &models.Session{Name: "first"}
	require.NoError(t, store.CreateSession(ctx, first))
	second := &models.Session{Name: "second", Description: "field test"}
	require.NoError(t, store.CreateSession(ctx, second))
	assert.Greater(t, second.ID, first.ID)

	latest, err := store.GetLatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "field test", latest.Description)

	require.NoError(t, store.SetSessionHidden(ctx, second.ID, true))

	latest, err = store.GetLatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	visible, count, err := store.ListSessions(ctx, false, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Len(t, visible, 1)

	all, count, err := store.ListSessions(ctx, true, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	require.Len(t, all, 2)
	assert.True(t, all[0].Hidden)

	got, err := store.GetSession(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.Hidden)
	assert.WithinDuration(t, time.Now(), got.CreatedAt.Time, time.Minute)

	assert.ErrorIs(t, store.SetSessionHidden(ctx, 999, true), ErrNotFound)
	assert.ErrorIs(t, store.CreateSession(ctx, &models.Session{}), ErrInvalidData)
}

func TestInsertAndReadBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := &models.Session{Name: "s"}
	require.NoError(t, store.CreateSession(ctx, session))
	_, err := store.EnsureModule(ctx, models.NewModule(0x1A))
	require.NoError(t, err)

	noFix := newRow(0x1A, session.ID, 2)
	noFix.SetPosition(0, 0, 50)

	ids, err := store.InsertData(ctx, []*models.Data{newRow(0x1A, session.ID, 1), noFix})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Less(t, ids[0], ids[1])

	rows, err := store.GetEnrichedData(ctx, []int64{ids[1], ids[0]})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, ids[0], rows[0].ID)
	assert.Equal(t, "Module 26", rows[0].ModuleName)
	assert.Equal(t, models.ColorForModule(0x1A), rows[0].ModuleColor)
	assert.Equal(t, "s", rows[0].SessionName)
	assert.Equal(t, "Mesh", rows[0].MessageTypeName)
	assert.True(t, rows[0].GPSOk)
	assert.InDelta(t, 55.75, rows[0].Lat.Float64, 1e-9)
	assert.Equal(t, int64(1767225601), rows[0].DatetimeUnix)
	assert.Equal(t, int64(1767225601), rows[0].Datetime.Unix())

	assert.False(t, rows[1].GPSOk)
	assert.False(t, rows[1].Lat.Valid)
	assert.False(t, rows[1].Alt.Valid)

	empty, err := store.GetEnrichedData(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListAndCountData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s1 := &models.Session{Name: "one"}
	s2 := &models.Session{Name: "two"}
	require.NoError(t, store.CreateSession(ctx, s1))
	require.NoError(t, store.CreateSession(ctx, s2))
	for _, id := range []int{1, 2} {
		_, err := store.EnsureModule(ctx, models.NewModule(id))
		require.NoError(t, err)
	}

	_, err := store.InsertData(ctx, []*models.Data{
		newRow(1, s1.ID, 1), newRow(1, s1.ID, 2), newRow(2, s1.ID, 3), newRow(2, s2.ID, 4),
	})
	require.NoError(t, err)

	rows, total, err := store.ListData(ctx, DataFilters{SessionID: &s1.ID}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, rows, 2)
	assert.Greater(t, rows[0].ID, rows[1].ID)

	module := 2
	n, err := store.CountData(ctx, DataFilters{ModuleID: &module})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	since := time.Unix(1767225603, 0)
	n, err = store.CountData(ctx, DataFilters{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats, err := store.GetSessionStats(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalRows)
	require.Len(t, stats.ModuleRows, 2)
	assert.Equal(t, int64(2), stats.ModuleRows[0].Rows)
	require.NotNil(t, stats.FirstSeen)
	assert.Equal(t, int64(1767225601), stats.FirstSeen.Unix())

	_, err = store.GetSessionStats(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTransaction_RollsBackWholeBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := &models.Session{Name: "s"}
	require.NoError(t, store.CreateSession(ctx, session))

	before, err := store.CountData(ctx, DataFilters{})
	require.NoError(t, err)

	bad := newRow(7, session.ID, 2)
	bad.MessageTypeID = 42 // violates the message_type foreign key

	err = WithTransaction(ctx, store, func(tx Store) error {
		if _, err := tx.EnsureModule(ctx, models.NewModule(7)); err != nil {
			return err
		}
		_, err := tx.InsertData(ctx, []*models.Data{newRow(7, session.ID, 1), bad, newRow(7, session.ID, 3)})
		return err
	})
	require.Error(t, err)

	after, err := store.CountData(ctx, DataFilters{})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = store.GetModule(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTransaction_CommitAndPanic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := WithTransaction(ctx, store, func(tx Store) error {
		_, err := tx.EnsureModule(ctx, models.NewModule(1))
		return err
	})
	require.NoError(t, err)

	_, err = store.GetModule(ctx, 1)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = WithTransaction(ctx, store, func(tx Store) error {
			_, _ = tx.EnsureModule(ctx, models.NewModule(2))
			panic("boom")
		})
	})

	_, err = store.GetModule(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	sentinel := errors.New("stop")
	err = WithTransaction(ctx, store, func(tx Store) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestCorruptedFrames(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	frame := &models.CorruptedFrame{
		ConnectionID:  "c1",
		Provider:      "tcp",
		PacketNumber:  4,
		RawHex:        "474c02",
		ParsedAttempt: models.ToJSONText([]int{}),
		Errors:        models.ToJSONText([]string{"truncated frame"}),
		ErrorReason:   "truncated frame",
	}
	require.NoError(t, store.CreateCorruptedFrame(ctx, frame))
	assert.NotZero(t, frame.ID)

	frames, count, err := store.ListCorruptedFrames(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	require.Len(t, frames, 1)
	assert.Equal(t, "474c02", frames[0].RawHex)
	assert.JSONEq(t, `["truncated frame"]`, string(frames[0].Errors))
	assert.Equal(t, int64(4), frames[0].PacketNumber)
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gltrack/telemetry-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Schema and health
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error

	// Module methods
	EnsureModule(ctx context.Context, module *models.Module) (bool, error)
	GetModule(ctx context.Context, id int) (*models.Module, error)
	UpdateModule(ctx context.Context, module *models.Module) error
	ListModules(ctx context.Context, limit, offset int) ([]*models.Module, int64, error)

	// Session methods
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id int64) (*models.Session, error)
	GetLatestSession(ctx context.Context) (*models.Session, error)
	ListSessions(ctx context.Context, includeHidden bool, limit, offset int) ([]*models.Session, int64, error)
	SetSessionHidden(ctx context.Context, id int64, hidden bool) error
	GetSessionStats(ctx context.Context, id int64) (*models.SessionStats, error)

	// Data methods
	InsertData(ctx context.Context, rows []*models.Data) ([]int64, error)
	GetEnrichedData(ctx context.Context, ids []int64) ([]*models.EnrichedData, error)
	ListData(ctx context.Context, filters DataFilters, limit, offset int) ([]*models.EnrichedData, int64, error)
	CountData(ctx context.Context, filters DataFilters) (int64, error)

	// Corrupted frame methods
	CreateCorruptedFrame(ctx context.Context, frame *models.CorruptedFrame) error
	ListCorruptedFrames(ctx context.Context, limit, offset int) ([]*models.CorruptedFrame, int64, error)

	// Close the store
	Close() error
}

// DataFilters represents filters for data rows
type DataFilters struct {
	SessionID *int64
	ModuleID  *int
	Since     *time.Time
	Until     *time.Time
	GPSOnly   bool
}

// PoolOptions bounds the connection pool
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

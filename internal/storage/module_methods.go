package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gltrack/telemetry-server/internal/models"
)

// EnsureModule inserts the module unless a row with its id exists. It
// reports whether a row was created. Concurrent callers never race into a
// duplicate because the insert is a single upsert statement.
func (s *SQLStore) EnsureModule(ctx context.Context, module *models.Module) (bool, error) {
	if module.ID <= 0 {
		return false, fmt.Errorf("%w: module id %d", ErrInvalidData, module.ID)
	}
	if module.Name == "" || module.Color == "" {
		defaults := models.NewModule(module.ID)
		if module.Name == "" {
			module.Name = defaults.Name
		}
		if module.Color == "" {
			module.Color = defaults.Color
		}
	}
	if module.CreatedAt.IsZero() {
		module.CreatedAt = models.NewDBTime(time.Now())
	}

	query := `
        INSERT INTO modules (id, name, color, created_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (id) DO NOTHING`

	result, err := s.getDB().ExecContext(ctx, s.q(query),
		module.ID, module.Name, module.Color, module.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// GetModule gets a module by id
func (s *SQLStore) GetModule(ctx context.Context, id int) (*models.Module, error) {
	module := &models.Module{}

	err := s.getDB().QueryRowContext(ctx,
		s.q("SELECT id, name, color, created_at FROM modules WHERE id = ?"), id,
	).Scan(&module.ID, &module.Name, &module.Color, &module.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return module, nil
}

// UpdateModule updates a module's display name and color
func (s *SQLStore) UpdateModule(ctx context.Context, module *models.Module) error {
	result, err := s.getDB().ExecContext(ctx,
		s.q("UPDATE modules SET name = ?, color = ? WHERE id = ?"),
		module.Name, module.Color, module.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListModules lists modules ordered by id
func (s *SQLStore) ListModules(ctx context.Context, limit, offset int) ([]*models.Module, int64, error) {
	var count int64
	if err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM modules").Scan(&count); err != nil {
		return nil, 0, err
	}

	rows, err := s.getDB().QueryContext(ctx,
		s.q("SELECT id, name, color, created_at FROM modules ORDER BY id LIMIT ? OFFSET ?"),
		limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	modules := make([]*models.Module, 0)
	for rows.Next() {
		module := &models.Module{}
		if err := rows.Scan(&module.ID, &module.Name, &module.Color, &module.CreatedAt); err != nil {
			return nil, 0, err
		}
		modules = append(modules, module)
	}

	return modules, count, rows.Err()
}

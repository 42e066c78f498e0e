package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gltrack/telemetry-server/internal/models"
)

const sessionColumns = "id, name, description, datetime, hidden, created_at"

func scanSession(row interface{ Scan(...interface{}) error }) (*models.Session, error) {
	session := &models.Session{}
	err := row.Scan(
		&session.ID, &session.Name, &session.Description,
		&session.Datetime, &session.Hidden, &session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// CreateSession creates a session and fills its id
func (s *SQLStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session.Name == "" {
		return fmt.Errorf("%w: session name is required", ErrInvalidData)
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = models.NewDBTime(now)
	}
	if session.Datetime.IsZero() {
		session.Datetime = session.CreatedAt
	}

	query := `
        INSERT INTO sessions (name, description, datetime, hidden, created_at)
        VALUES (?, ?, ?, ?, ?)
        RETURNING id`

	err := s.getDB().QueryRowContext(ctx, s.q(query),
		session.Name, session.Description, session.Datetime, session.Hidden, session.CreatedAt,
	).Scan(&session.ID)
	if isDuplicate(err) {
		return ErrDuplicateKey
	}
	return err
}

// GetSession gets a session by id
func (s *SQLStore) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	row := s.getDB().QueryRowContext(ctx,
		s.q("SELECT "+sessionColumns+" FROM sessions WHERE id = ?"), id)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return session, err
}

// GetLatestSession returns the most recently created non-hidden session
func (s *SQLStore) GetLatestSession(ctx context.Context) (*models.Session, error) {
	row := s.getDB().QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE hidden = FALSE ORDER BY id DESC LIMIT 1")

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return session, err
}

// ListSessions lists sessions newest first
func (s *SQLStore) ListSessions(ctx context.Context, includeHidden bool, limit, offset int) ([]*models.Session, int64, error) {
	where := " WHERE hidden = FALSE"
	if includeHidden {
		where = ""
	}

	var count int64
	if err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions"+where).Scan(&count); err != nil {
		return nil, 0, err
	}

	rows, err := s.getDB().QueryContext(ctx,
		s.q("SELECT "+sessionColumns+" FROM sessions"+where+" ORDER BY id DESC LIMIT ? OFFSET ?"),
		limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}

	return sessions, count, rows.Err()
}

// SetSessionHidden hides or unhides a session
func (s *SQLStore) SetSessionHidden(ctx context.Context, id int64, hidden bool) error {
	result, err := s.getDB().ExecContext(ctx,
		s.q("UPDATE sessions SET hidden = ? WHERE id = ?"), hidden, id)
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

// GetSessionStats counts rows per module for a session
func (s *SQLStore) GetSessionStats(ctx context.Context, id int64) (*models.SessionStats, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}

	stats := &models.SessionStats{
		SessionID:  id,
		ModuleRows: make([]models.ModuleCount, 0),
	}

	rows, err := s.getDB().QueryContext(ctx, s.q(`
        SELECT id_module, COUNT(*)
        FROM data
        WHERE id_session = ?
        GROUP BY id_module
        ORDER BY id_module`), id)
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		var mc models.ModuleCount
		if err := rows.Scan(&mc.ModuleID, &mc.Rows); err != nil {
			rows.Close()
			return nil, err
		}
		mc.ModuleHex = models.ModuleHex(mc.ModuleID)
		stats.TotalRows += mc.Rows
		stats.ModuleRows = append(stats.ModuleRows, mc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var first, last sql.NullInt64
	err = s.getDB().QueryRowContext(ctx,
		s.q("SELECT MIN(datetime_unix), MAX(datetime_unix) FROM data WHERE id_session = ?"), id,
	).Scan(&first, &last)
	if err != nil {
		return nil, err
	}

	if first.Valid {
		t := models.NewDBTime(time.Unix(first.Int64, 0))
		stats.FirstSeen = &t
	}
	if last.Valid {
		t := models.NewDBTime(time.Unix(last.Int64, 0))
		stats.LastSeen = &t
	}

	return stats, nil
}

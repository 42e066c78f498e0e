package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gltrack/telemetry-server/internal/models"
)

const enrichedSelect = `
        SELECT d.id, d.id_module, d.id_session, d.id_message_type,
               d.datetime, d.datetime_unix, d.lat, d.lon, d.alt, d.gps_ok,
               d.message_number, d.rssi, d.snr, d.source, d.jumps, d.created_at,
               m.name, m.color, s.name, COALESCE(mt.type, '')
        FROM data d
        JOIN modules m ON m.id = d.id_module
        JOIN sessions s ON s.id = d.id_session
        LEFT JOIN message_type mt ON mt.id = d.id_message_type`

func scanEnriched(row interface{ Scan(...interface{}) error }) (*models.EnrichedData, error) {
	e := &models.EnrichedData{}
	err := row.Scan(
		&e.ID, &e.ModuleID, &e.SessionID, &e.MessageTypeID,
		&e.Datetime, &e.DatetimeUnix, &e.Lat, &e.Lon, &e.Alt, &e.GPSOk,
		&e.MessageNumber, &e.RSSI, &e.SNR, &e.Source, &e.Jumps, &e.CreatedAt,
		&e.ModuleName, &e.ModuleColor, &e.SessionName, &e.MessageTypeName,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// InsertData inserts a batch of rows with one prepared statement and
// returns the generated ids in input order. Callers wanting atomicity run
// it inside a transaction.
func (s *SQLStore) InsertData(ctx context.Context, rows []*models.Data) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	query := `
        INSERT INTO data (
            id_module, id_session, id_message_type, datetime, datetime_unix,
            lat, lon, alt, gps_ok, message_number, rssi, snr, source, jumps, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`

	stmt, err := s.getDB().PrepareContext(ctx, s.q(query))
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := models.NewDBTime(time.Now())
	ids := make([]int64, 0, len(rows))

	for i, d := range rows {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		err := stmt.QueryRowContext(ctx,
			d.ModuleID, d.SessionID, int(d.MessageTypeID), d.Datetime, d.DatetimeUnix,
			d.Lat, d.Lon, d.Alt, d.GPSOk, d.MessageNumber,
			d.RSSI, d.SNR, d.Source, d.Jumps, d.CreatedAt,
		).Scan(&d.ID)
		if err != nil {
			return nil, fmt.Errorf("insert row %d (module %d): %w", i, d.ModuleID, err)
		}
		ids = append(ids, d.ID)
	}

	return ids, nil
}

// GetEnrichedData re-reads rows by id joined with module, session and
// message type, ordered by id
func (s *SQLStore) GetEnrichedData(ctx context.Context, ids []int64) ([]*models.EnrichedData, error) {
	result := make([]*models.EnrichedData, 0, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := enrichedSelect + `
        WHERE d.id IN (` + placeholders(len(ids)) + `)
        ORDER BY d.id`

	rows, err := s.getDB().QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEnriched(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}

	return result, rows.Err()
}

// buildDataWhere builds the WHERE clause for data filters
func buildDataWhere(filters DataFilters) (string, []interface{}) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filters.SessionID != nil {
		conditions = append(conditions, "d.id_session = ?")
		args = append(args, *filters.SessionID)
	}
	if filters.ModuleID != nil {
		conditions = append(conditions, "d.id_module = ?")
		args = append(args, *filters.ModuleID)
	}
	if filters.Since != nil {
		conditions = append(conditions, "d.datetime_unix >= ?")
		args = append(args, filters.Since.Unix())
	}
	if filters.Until != nil {
		conditions = append(conditions, "d.datetime_unix <= ?")
		args = append(args, filters.Until.Unix())
	}
	if filters.GPSOnly {
		conditions = append(conditions, "d.gps_ok = TRUE")
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// CountData counts rows matching the filters
func (s *SQLStore) CountData(ctx context.Context, filters DataFilters) (int64, error) {
	where, args := buildDataWhere(filters)

	var count int64
	err := s.getDB().QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM data d"+where), args...).Scan(&count)
	return count, err
}

// ListData lists enriched rows newest first
func (s *SQLStore) ListData(ctx context.Context, filters DataFilters, limit, offset int) ([]*models.EnrichedData, int64, error) {
	count, err := s.CountData(ctx, filters)
	if err != nil {
		return nil, 0, err
	}

	where, args := buildDataWhere(filters)
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx,
		s.q(enrichedSelect+where+" ORDER BY d.id DESC LIMIT ? OFFSET ?"), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := make([]*models.EnrichedData, 0)
	for rows.Next() {
		e, err := scanEnriched(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, e)
	}

	return result, count, rows.Err()
}

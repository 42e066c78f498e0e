package storage

import (
	"context"
	"time"

	"github.com/gltrack/telemetry-server/internal/models"
)

// CreateCorruptedFrame stores a forensic copy of a corrupted frame
func (s *SQLStore) CreateCorruptedFrame(ctx context.Context, frame *models.CorruptedFrame) error {
	if frame.ReceivedAt.IsZero() {
		frame.ReceivedAt = models.NewDBTime(time.Now())
	}

	query := `
        INSERT INTO corrupted_frames (
            connection_id, provider, packet_number, raw_hex,
            parsed_attempt, errors, error_reason, received_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`

	return s.getDB().QueryRowContext(ctx, s.q(query),
		frame.ConnectionID, frame.Provider, frame.PacketNumber, frame.RawHex,
		frame.ParsedAttempt, frame.Errors, frame.ErrorReason, frame.ReceivedAt,
	).Scan(&frame.ID)
}

// ListCorruptedFrames lists corrupted frames newest first
func (s *SQLStore) ListCorruptedFrames(ctx context.Context, limit, offset int) ([]*models.CorruptedFrame, int64, error) {
	var count int64
	if err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM corrupted_frames").Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT id, connection_id, provider, packet_number, raw_hex,
               parsed_attempt, errors, error_reason, received_at
        FROM corrupted_frames
        ORDER BY id DESC
        LIMIT ? OFFSET ?`

	rows, err := s.getDB().QueryContext(ctx, s.q(query), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	frames := make([]*models.CorruptedFrame, 0)
	for rows.Next() {
		f := &models.CorruptedFrame{}
		err := rows.Scan(
			&f.ID, &f.ConnectionID, &f.Provider, &f.PacketNumber, &f.RawHex,
			&f.ParsedAttempt, &f.Errors, &f.ErrorReason, &f.ReceivedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		frames = append(frames, f)
	}

	return frames, count, rows.Err()
}

package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gltrack/telemetry-server/internal/models"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS modules (
        id         INTEGER PRIMARY KEY,
        name       TEXT NOT NULL,
        color      TEXT NOT NULL,
        created_at {{timestamp}} NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS sessions (
        id          {{serial}},
        name        TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        datetime    {{timestamp}} NOT NULL,
        hidden      BOOLEAN NOT NULL DEFAULT FALSE,
        created_at  {{timestamp}} NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS message_type (
        id   INTEGER PRIMARY KEY,
        type TEXT NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS data (
        id              {{bigserial}},
        id_module       INTEGER NOT NULL REFERENCES modules(id),
        id_session      INTEGER NOT NULL REFERENCES sessions(id),
        id_message_type INTEGER NOT NULL REFERENCES message_type(id),
        datetime        {{timestamp}} NOT NULL,
        datetime_unix   BIGINT NOT NULL,
        lat             DOUBLE PRECISION,
        lon             DOUBLE PRECISION,
        alt             DOUBLE PRECISION,
        gps_ok          BOOLEAN NOT NULL DEFAULT FALSE,
        message_number  INTEGER NOT NULL,
        rssi            INTEGER,
        snr             INTEGER,
        source          INTEGER,
        jumps           INTEGER,
        created_at      {{timestamp}} NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_data_session ON data (id_session)`,
	`CREATE INDEX IF NOT EXISTS idx_data_module ON data (id_module)`,
	`CREATE INDEX IF NOT EXISTS idx_data_datetime_unix ON data (datetime_unix)`,
	`CREATE TABLE IF NOT EXISTS corrupted_frames (
        id             {{bigserial}},
        connection_id  TEXT NOT NULL,
        provider       TEXT NOT NULL,
        packet_number  BIGINT NOT NULL,
        raw_hex        TEXT NOT NULL,
        parsed_attempt TEXT,
        errors         TEXT,
        error_reason   TEXT NOT NULL,
        received_at    {{timestamp}} NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_corrupted_received ON corrupted_frames (received_at)`,
}

func (d Dialect) replacer() *strings.Replacer {
	if d == DialectSQLite {
		return strings.NewReplacer(
			"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{bigserial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{timestamp}}", "TEXT",
		)
	}
	return strings.NewReplacer(
		"{{serial}}", "SERIAL PRIMARY KEY",
		"{{bigserial}}", "BIGSERIAL PRIMARY KEY",
		"{{timestamp}}", "TIMESTAMPTZ",
	)
}

// Migrate creates the schema and seeds the message types. It is idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	r := s.dialect.replacer()
	for i, stmt := range schemaStatements {
		if _, err := s.getDB().ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}

	types := make([]int, 0, len(models.MessageTypeNames))
	for t := range models.MessageTypeNames {
		types = append(types, int(t))
	}
	sort.Ints(types)

	seed := s.q(`INSERT INTO message_type (id, type) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`)
	for _, t := range types {
		name := models.MessageTypeNames[models.MessageType(t)]
		if _, err := s.getDB().ExecContext(ctx, seed, t, name); err != nil {
			return fmt.Errorf("seed message type %d: %w", t, err)
		}
	}

	return nil
}

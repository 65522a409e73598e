package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const bookingSchema = `
CREATE TABLE IF NOT EXISTS booking_sessions (
	session_id TEXT PRIMARY KEY,
	state      TEXT    NOT NULL,
	payload    BLOB    NOT NULL,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS booking_sessions_state ON booking_sessions (state);
`

// SQLiteStore persists records in a local SQLite file. It suits a single
// buyer process that must survive restarts without a Redis.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (and creates) the store at path. ":memory:" gives a
// private in-process database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := ":memory:"
	if path != dsn {
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes
	// writers on a file.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(bookingSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply booking schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, ErrInvalidSession
	}
	var payload []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT payload FROM booking_sessions WHERE session_id = ?`, id,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load booking record: %w", err)
	}
	return decodeRecord(payload)
}

func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO booking_sessions (session_id, state, payload, version, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	state = excluded.state,
	payload = excluded.payload,
	version = excluded.version,
	updated_at = excluded.updated_at`,
		rec.SessionID, string(rec.State), payload, rec.Version, rec.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save booking record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return ErrInvalidSession
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM booking_sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete booking record: %w", err)
	}
	return nil
}

// Failed lists sessions parked in Failed, oldest first, so an operator
// can resume them.
func (s *SQLiteStore) Failed(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-olderThan).UTC().UnixMilli()
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT session_id FROM booking_sessions WHERE state = ? AND updated_at <= ? ORDER BY updated_at`,
		string(StateFailed), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list failed bookings: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan failed booking: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

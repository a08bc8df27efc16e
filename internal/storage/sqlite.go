package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/moodflow/backend/internal/mirror"
	"github.com/moodflow/backend/internal/mood"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteMirror keeps mood records in a local SQLite file. Times are stored
// as unix milliseconds.
type SQLiteMirror struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteMirror, error) {
	if path == "" {
		return nil, errors.New("sqlite mirror: path is required")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteMirror{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteMirror) Close() error {
	return s.db.Close()
}

// Save stores or replaces the record for key.
func (s *SQLiteMirror) Save(ctx context.Context, key string, rec mood.Record) error {
	if !rec.Mood.Valid() {
		return fmt.Errorf("sqlite mirror save: %w", mood.ErrInvalidMood)
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO mood_records (session_id, mood, selected_at, expires_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(session_id) DO UPDATE SET mood=excluded.mood,
            selected_at=excluded.selected_at,
            expires_at=excluded.expires_at,
            updated_at=excluded.updated_at
    `, key, string(rec.Mood), rec.SelectedAt.UnixMilli(), rec.ExpiresAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert mood record: %w", err)
	}
	return nil
}

// Load returns the record for key.
func (s *SQLiteMirror) Load(ctx context.Context, key string) (mood.Record, error) {
	var (
		value                 string
		selectedAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT mood, selected_at, expires_at
        FROM mood_records WHERE session_id = ?`, key,
	).Scan(&value, &selectedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return mood.Record{}, mirror.ErrNotFound
	}
	if err != nil {
		return mood.Record{}, fmt.Errorf("select mood record: %w", err)
	}

	return mood.Record{
		Mood:       mood.Value(value),
		SelectedAt: time.UnixMilli(selectedAt).UTC(),
		ExpiresAt:  time.UnixMilli(expiresAt).UTC(),
	}, nil
}

// Delete removes the record for key.
func (s *SQLiteMirror) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mood_records WHERE session_id = ?`, key)
	if err != nil {
		return fmt.Errorf("delete mood record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return mirror.ErrNotFound
	}
	return nil
}

// PurgeExpired deletes records whose expiry is at or before now.
func (s *SQLiteMirror) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mood_records WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge expired mood records: %w", err)
	}
	return res.RowsAffected()
}

var (
	_ mirror.Mirror = (*SQLiteMirror)(nil)
	_ mirror.Purger = (*SQLiteMirror)(nil)
)

package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/moodflow/backend/internal/db"
	"github.com/moodflow/backend/internal/mirror"
	"github.com/moodflow/backend/internal/mood"
)

// PostgresMoodMirror mirrors mood records into PostgreSQL.
type PostgresMoodMirror struct {
	pool db.Pool
}

// NewPostgresMoodMirror constructs a mood mirror backed by PostgreSQL.
func NewPostgresMoodMirror(pool db.Pool) *PostgresMoodMirror {
	return &PostgresMoodMirror{pool: pool}
}

// Save stores or replaces the record for a session.
func (m *PostgresMoodMirror) Save(ctx context.Context, key string, rec mood.Record) error {
	if !rec.Mood.Valid() {
		return fmt.Errorf("save mood record: %w", mood.ErrInvalidMood)
	}

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO mood_records (session_id, mood, selected_at, expires_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (session_id)
        DO UPDATE SET mood = EXCLUDED.mood,
                      selected_at = EXCLUDED.selected_at,
                      expires_at = EXCLUDED.expires_at,
                      updated_at = NOW()
    `, key, string(rec.Mood), rec.SelectedAt.UTC(), rec.ExpiresAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return fmt.Errorf("upsert mood record: %w", mood.ErrInvalidMood)
		}
		return fmt.Errorf("upsert mood record: %w", err)
	}

	return nil
}

// Load fetches the record for a session.
func (m *PostgresMoodMirror) Load(ctx context.Context, key string) (mood.Record, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return mood.Record{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT mood, selected_at, expires_at
        FROM mood_records
        WHERE session_id = $1
    `, key)

	var (
		value                 string
		selectedAt, expiresAt time.Time
	)
	if err := row.Scan(&value, &selectedAt, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mood.Record{}, mirror.ErrNotFound
		}
		return mood.Record{}, fmt.Errorf("select mood record: %w", err)
	}

	return mood.Record{
		Mood:       mood.Value(value),
		SelectedAt: selectedAt.UTC(),
		ExpiresAt:  expiresAt.UTC(),
	}, nil
}

// Delete removes the record for a session.
func (m *PostgresMoodMirror) Delete(ctx context.Context, key string) error {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM mood_records
        WHERE session_id = $1
    `, key)
	if err != nil {
		return fmt.Errorf("delete mood record: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return mirror.ErrNotFound
	}

	return nil
}

// PurgeExpired deletes records whose expiry is at or before now.
func (m *PostgresMoodMirror) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM mood_records
        WHERE expires_at <= $1
    `, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired mood records: %w", err)
	}

	return tag.RowsAffected(), nil
}

var _ mirror.Mirror = (*PostgresMoodMirror)(nil)
var _ mirror.Purger = (*PostgresMoodMirror)(nil)

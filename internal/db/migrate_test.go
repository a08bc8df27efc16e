package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestListMigrationsSortsSQLFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.sql", "001_a.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "003_dir.sql"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := ListMigrations(dir)
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(got) != 2 || got[0] != "001_a.sql" || got[1] != "002_b.sql" {
		t.Fatalf("unexpected migrations: %v", got)
	}

	if _, err := ListMigrations(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestListMigrationsFindsRepositoryMigrations(t *testing.T) {
	got, err := ListMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(got) == 0 || got[0] != "001_mood_records.sql" {
		t.Fatalf("expected mood records migration first, got %v", got)
	}
}

func TestShouldRetryMigration(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: fmt.Errorf("exec: %w", context.DeadlineExceeded), want: true},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "40P01"}), want: true},
		{name: "syntax", err: &pgconn.PgError{Code: "42601"}, want: false},
		{name: "tx closed", err: pgx.ErrTxClosed, want: true},
		{name: "other", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetryMigration(tt.err); got != tt.want {
				t.Fatalf("shouldRetryMigration(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMigrationBackoffIsCapped(t *testing.T) {
	if got := migrationBackoff(1); got != migrationBaseBackoff {
		t.Fatalf("first retry backoff = %v", got)
	}
	if got := migrationBackoff(2); got != 2*migrationBaseBackoff {
		t.Fatalf("second retry backoff = %v", got)
	}
	if got := migrationBackoff(20); got != migrationMaxBackoff {
		t.Fatalf("expected cap %v, got %v", migrationMaxBackoff, got)
	}
}

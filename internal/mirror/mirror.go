// Package mirror copies mood records to external storage so a session can
// pick its mood back up after a restart.
package mirror

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/moodflow/backend/internal/mood"
)

// ErrNotFound indicates no record is mirrored under the key.
var ErrNotFound = errors.New("mirrored mood not found")

// Mirror persists one mood record per session key.
type Mirror interface {
	Save(ctx context.Context, key string, rec mood.Record) error
	Load(ctx context.Context, key string) (mood.Record, error)
	Delete(ctx context.Context, key string) error
}

// Purger is implemented by mirrors that can drop expired records in bulk.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// NewMemory returns a Mirror backed by an in-memory map.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]mood.Record)}
}

// Memory implements Mirror for tests and local development.
type Memory struct {
	mu      sync.RWMutex
	records map[string]mood.Record
}

// Save stores rec under key.
func (m *Memory) Save(_ context.Context, key string, rec mood.Record) error {
	m.mu.Lock()
	m.records[key] = rec
	m.mu.Unlock()
	return nil
}

// Load returns the record stored under key.
func (m *Memory) Load(_ context.Context, key string) (mood.Record, error) {
	m.mu.RLock()
	rec, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return mood.Record{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes the record stored under key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

// PurgeExpired drops every record that has expired at now.
func (m *Memory) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, rec := range m.records {
		if rec.ExpiredAt(now) {
			delete(m.records, key)
			n++
		}
	}
	return n, nil
}

// Has reports whether key is present. Useful for tests.
func (m *Memory) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[key]
	return ok
}

var (
	_ Mirror = (*Memory)(nil)
	_ Purger = (*Memory)(nil)
)

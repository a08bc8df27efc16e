package mood

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Listener is notified after every change to a store's record.
type Listener func(Record)

// Store owns one Record. All writes go through its mutators; listeners are
// called after the store lock is released, in subscription order.
type Store struct {
	clock clockwork.Clock

	mu        sync.Mutex
	record    Record
	listeners map[uint64]Listener
	order     []uint64
	nextID    uint64
}

// NewStore returns an empty store. A nil clock uses the wall clock.
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:     clock,
		listeners: make(map[uint64]Listener),
	}
}

// Mood returns the stored mood, or Unset.
func (s *Store) Mood() Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Mood
}

// ExpiresAt returns the expiry of the stored mood. ok is false when no mood
// is set.
func (s *Store) ExpiresAt() (t time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.ExpiresAt, s.record.Set()
}

// Snapshot returns a copy of the record.
func (s *Store) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// Remaining returns the time left before the stored mood expires.
func (s *Store) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.RemainingAt(s.clock.Now())
}

// IsExpired reports whether a mood is set and its expiry is at or before now.
func (s *Store) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.ExpiredAt(s.clock.Now())
}

// SetMood stores v with an expiry ttl from now.
func (s *Store) SetMood(v Value, ttl time.Duration) error {
	if !v.Valid() {
		return ErrInvalidMood
	}

	s.mu.Lock()
	now := s.clock.Now()
	s.record = Record{Mood: v, SelectedAt: now, ExpiresAt: now.Add(ttl)}
	rec, notify := s.record, s.listenersLocked()
	s.mu.Unlock()

	broadcast(notify, rec)
	return nil
}

// ClearMood drops the stored mood.
func (s *Store) ClearMood() {
	s.mu.Lock()
	if !s.record.Set() {
		s.mu.Unlock()
		return
	}
	s.record = Record{}
	notify := s.listenersLocked()
	s.mu.Unlock()

	broadcast(notify, Record{})
}

// EnsureValidity clears the record if it has expired. It returns false only
// when it cleared an expired mood; an unset store is reported valid.
func (s *Store) EnsureValidity() bool {
	s.mu.Lock()
	if !s.record.ExpiredAt(s.clock.Now()) {
		s.mu.Unlock()
		return true
	}
	s.record = Record{}
	notify := s.listenersLocked()
	s.mu.Unlock()

	broadcast(notify, Record{})
	return false
}

// ExtendExpiry moves the expiry of the stored mood to ttl from now. It does
// nothing when no mood is set.
func (s *Store) ExtendExpiry(ttl time.Duration) {
	s.mu.Lock()
	if !s.record.Set() {
		s.mu.Unlock()
		return
	}
	s.record.ExpiresAt = s.clock.Now().Add(ttl)
	rec, notify := s.record, s.listenersLocked()
	s.mu.Unlock()

	broadcast(notify, rec)
}

// Restore loads a record read back from a mirror. Records that are expired
// or carry an invalid mood are dropped. It reports whether rec was kept.
func (s *Store) Restore(rec Record) bool {
	if !rec.Mood.Valid() || rec.ExpiresAt.IsZero() {
		return false
	}

	s.mu.Lock()
	if rec.ExpiredAt(s.clock.Now()) {
		s.mu.Unlock()
		return false
	}
	s.record = rec
	notify := s.listenersLocked()
	s.mu.Unlock()

	broadcast(notify, rec)
	return true
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Store) listenersLocked() []Listener {
	out := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.listeners[id])
	}
	return out
}

func broadcast(listeners []Listener, rec Record) {
	for _, fn := range listeners {
		fn(rec)
	}
}

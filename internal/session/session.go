package session

import (
	"sync"
	"time"

	"github.com/moodflow/backend/internal/expiry"
	"github.com/moodflow/backend/internal/flow"
	"github.com/moodflow/backend/internal/mood"
)

// Session is one client's mood store with the flow and tracker bound to it.
type Session struct {
	ID      string
	Store   *mood.Store
	Flow    *flow.Flow
	Tracker *expiry.Tracker

	unsubscribe func()

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

// View is the state a front-end renders.
type View struct {
	ID                    string     `json:"id"`
	FlowState             flow.State `json:"flowState"`
	ShowIngredientsSearch bool       `json:"showIngredientsSearch"`
	Mood                  mood.Value `json:"mood,omitempty"`
	SelectedAt            *time.Time `json:"selectedAt,omitempty"`
	ExpiresAt             *time.Time `json:"expiresAt,omitempty"`
	RemainingMs           int64      `json:"remainingMs"`
	IsExpired             bool       `json:"isExpired"`
}

// View captures the session's current state.
func (s *Session) View() View {
	rec := s.Store.Snapshot()
	state := s.Flow.State()

	v := View{
		ID:                    s.ID,
		FlowState:             state,
		ShowIngredientsSearch: state == flow.ShowingIngredients,
		Mood:                  rec.Mood,
		RemainingMs:           s.Tracker.Remaining().Milliseconds(),
		IsExpired:             s.Tracker.IsExpired(),
	}
	if rec.Set() {
		selectedAt, expiresAt := rec.SelectedAt.UTC(), rec.ExpiresAt.UTC()
		v.SelectedAt = &selectedAt
		v.ExpiresAt = &expiresAt
	}
	return v
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
	s.mu.Unlock()
}

func (s *Session) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Tracker.Stop()
	s.Flow.Close()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

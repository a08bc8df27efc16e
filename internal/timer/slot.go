// Package timer provides a single-occupancy scheduled callback used by the
// mood state machines.
package timer

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Token identifies one arming of a Slot. The zero Token is never issued.
type Token uint64

// Slot holds at most one pending delayed callback.
//
// A Slot is not safe for concurrent use. Its owner serializes every call,
// including the Fire check made from inside the callback, behind its own
// lock.
type Slot struct {
	clock   clockwork.Clock
	seq     uint64
	current Token
	pending clockwork.Timer
}

// NewSlot returns an empty slot scheduling against clock. A nil clock falls
// back to the wall clock.
func NewSlot(clock clockwork.Clock) *Slot {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Slot{clock: clock}
}

// Arm cancels any pending callback and schedules fn to run after delay.
// The callback receives the token returned here and must hand it to Fire
// before acting.
func (s *Slot) Arm(delay time.Duration, fn func(Token)) Token {
	s.Cancel()
	if delay < 0 {
		delay = 0
	}

	s.seq++
	tok := Token(s.seq)
	s.current = tok
	s.pending = s.clock.AfterFunc(delay, func() { fn(tok) })
	return tok
}

// Cancel releases the pending callback, if any. It reports whether one was
// pending.
func (s *Slot) Cancel() bool {
	if s.pending == nil {
		return false
	}
	s.pending.Stop()
	s.pending = nil
	s.current = 0
	return true
}

// Pending reports whether a callback is armed and has not fired yet.
func (s *Slot) Pending() bool {
	return s.pending != nil
}

// Fire consumes tok if it is the currently armed token. A callback whose
// token was cancelled or superseded gets false and must do nothing.
func (s *Slot) Fire(tok Token) bool {
	if tok == 0 || tok != s.current {
		return false
	}
	s.pending = nil
	s.current = 0
	return true
}

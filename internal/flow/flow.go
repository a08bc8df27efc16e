// Package flow sequences the UI from a mood pick to the ingredient search
// reveal, pausing for the typing animation and a fixed delay in between.
package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/moodflow/backend/internal/mood"
	"github.com/moodflow/backend/internal/timer"
)

// State is a step of the selection flow.
type State string

const (
	Idle               State = "idle"
	MoodSelected       State = "mood_selected"
	WaitingTransition  State = "waiting_transition"
	ShowingIngredients State = "showing_ingredients"
)

const (
	// DefaultTransitionDelay is the pause between the end of the typing
	// animation and the ingredient search reveal.
	DefaultTransitionDelay = 2300 * time.Millisecond
	// DefaultMoodTTL is how long a picked mood stays valid.
	DefaultMoodTTL = 30 * time.Minute
)

// MoodStore is the part of the shared mood store the flow writes to.
type MoodStore interface {
	Mood() mood.Value
	SetMood(v mood.Value, ttl time.Duration) error
	ClearMood()
}

// Transition describes one state change.
type Transition struct {
	From State
	To   State
	Mood mood.Value
}

// Observer is called after a transition, outside the flow lock.
type Observer func(Transition)

// Options tunes a Flow. Zero values select the defaults.
type Options struct {
	Clock           clockwork.Clock
	TransitionDelay time.Duration
	MoodTTL         time.Duration
	Logger          *slog.Logger
}

// Flow is the mood selection state machine for one session.
type Flow struct {
	store  MoodStore
	delay  time.Duration
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	slot      *timer.Slot
	closed    bool
	observers []Observer
}

// New returns a flow in the Idle state writing picked moods to store.
func New(store MoodStore, opts Options) *Flow {
	if store == nil {
		panic("flow: mood store must not be nil")
	}
	if opts.TransitionDelay <= 0 {
		opts.TransitionDelay = DefaultTransitionDelay
	}
	if opts.MoodTTL <= 0 {
		opts.MoodTTL = DefaultMoodTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Flow{
		store:  store,
		delay:  opts.TransitionDelay,
		ttl:    opts.MoodTTL,
		logger: opts.Logger,
		state:  Idle,
		slot:   timer.NewSlot(opts.Clock),
	}
}

// OnTransition registers an observer for state changes.
func (f *Flow) OnTransition(obs Observer) {
	if obs == nil {
		return
	}
	f.mu.Lock()
	f.observers = append(f.observers, obs)
	f.mu.Unlock()
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ShowIngredientsSearch reports whether the ingredient search is revealed.
func (f *Flow) ShowIngredientsSearch() bool {
	return f.State() == ShowingIngredients
}

// Mood returns the mood held by the backing store.
func (f *Flow) Mood() mood.Value {
	return f.store.Mood()
}

// Pending reports whether the delayed reveal is armed.
func (f *Flow) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slot.Pending()
}

// Select handles a tap on a mood icon.
//
// Tapping the placeholder or the mood that is already stored deselects:
// the pending reveal is cancelled, the mood cleared and the flow returns to
// Idle. Tapping another mood stores it and moves to MoodSelected, passing
// through Idle when the flow was further along. Values that are neither a
// mood nor the placeholder are ignored.
func (f *Flow) Select(v mood.Value) {
	if v != mood.Placeholder && !v.Valid() {
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}

	var changes []Transition
	current := f.store.Mood()

	switch {
	case v == mood.Placeholder || v == current:
		if f.state == Idle && current == mood.Unset {
			f.mu.Unlock()
			return
		}
		f.slot.Cancel()
		f.store.ClearMood()
		changes = f.moveLocked(changes, Idle, mood.Unset)
	default:
		f.slot.Cancel()
		changes = f.moveLocked(changes, Idle, current)
		if err := f.store.SetMood(v, f.ttl); err != nil {
			f.logger.Warn("store mood", "mood", v, "error", err)
			obs := f.observers
			f.mu.Unlock()
			notify(obs, changes)
			return
		}
		changes = f.moveLocked(changes, MoodSelected, v)
	}

	obs := f.observers
	f.mu.Unlock()
	notify(obs, changes)
}

// TypingComplete signals that the mood's typing animation has finished.
// Only MoodSelected reacts: it arms the delayed reveal and moves to
// WaitingTransition. While a reveal is pending, or in any other state, the
// call is a no-op.
func (f *Flow) TypingComplete() {
	f.mu.Lock()
	if f.closed || f.state != MoodSelected || f.slot.Pending() {
		f.mu.Unlock()
		return
	}

	f.slot.Arm(f.delay, f.reveal)
	changes := f.moveLocked(nil, WaitingTransition, f.store.Mood())
	obs := f.observers
	f.mu.Unlock()
	notify(obs, changes)
}

// Back returns to Idle from any state and cancels the pending reveal. The
// stored mood is kept so reopening does not replay the animation.
func (f *Flow) Back() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}

	f.slot.Cancel()
	changes := f.moveLocked(nil, Idle, f.store.Mood())
	obs := f.observers
	f.mu.Unlock()
	notify(obs, changes)
}

// Reset is an explicit deselection: the pending reveal is cancelled, the
// mood cleared and the flow returns to Idle.
func (f *Flow) Reset() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}

	f.slot.Cancel()
	f.store.ClearMood()
	changes := f.moveLocked(nil, Idle, mood.Unset)
	obs := f.observers
	f.mu.Unlock()
	notify(obs, changes)
}

// Close cancels the pending reveal. Every later call is a no-op.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slot.Cancel()
	f.closed = true
}

func (f *Flow) reveal(tok timer.Token) {
	f.mu.Lock()
	if f.closed || !f.slot.Fire(tok) || f.state != WaitingTransition {
		f.mu.Unlock()
		return
	}

	changes := f.moveLocked(nil, ShowingIngredients, f.store.Mood())
	obs := f.observers
	f.mu.Unlock()
	notify(obs, changes)
}

func (f *Flow) moveLocked(changes []Transition, to State, v mood.Value) []Transition {
	if f.state == to {
		return changes
	}
	t := Transition{From: f.state, To: to, Mood: v}
	f.state = to
	f.logger.Debug("mood flow transition", "from", t.From, "to", t.To, "mood", v)
	return append(changes, t)
}

func notify(observers []Observer, changes []Transition) {
	for _, t := range changes {
		for _, obs := range observers {
			obs(t)
		}
	}
}

// Package expiry invalidates a stored mood once its time-to-live runs out
// and, optionally, keeps it alive while the user is active.
package expiry

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/moodflow/backend/internal/mood"
	"github.com/moodflow/backend/internal/timer"
)

// DefaultThrottle is the minimum spacing between two activity refreshes.
const DefaultThrottle = time.Minute

// Store is the part of the shared mood store the tracker reads and writes.
type Store interface {
	Snapshot() mood.Record
	EnsureValidity() bool
	ExtendExpiry(ttl time.Duration)
	Subscribe(fn mood.Listener) (unsubscribe func())
}

// Activity is a user-activity signal that may refresh the expiry.
type Activity string

const (
	KeyDown     Activity = "keydown"
	PointerMove Activity = "pointermove"
	PointerDown Activity = "pointerdown"
	TouchStart  Activity = "touchstart"
	Visible     Activity = "visible"
)

// ErrUnknownActivity is returned by ParseActivity for unsupported signals.
var ErrUnknownActivity = errors.New("unknown activity kind")

// ParseActivity maps a signal name onto an Activity.
func ParseActivity(raw string) (Activity, error) {
	a := Activity(strings.ToLower(strings.TrimSpace(raw)))
	if !a.Valid() {
		return "", ErrUnknownActivity
	}
	return a, nil
}

// Valid reports whether a is a supported signal.
func (a Activity) Valid() bool {
	switch a {
	case KeyDown, PointerMove, PointerDown, TouchStart, Visible:
		return true
	}
	return false
}

// Options tunes a Tracker.
type Options struct {
	Clock clockwork.Clock
	// MoodTTL is the lifetime granted by an activity refresh.
	MoodTTL     time.Duration
	AutoRefresh bool
	Throttle    time.Duration
	// OnExpire runs after the tracker cleared an expired mood.
	OnExpire func()
	Logger   *slog.Logger
}

// Tracker arms a single timer for the expiry of the stored mood and clears
// the mood through the store when it fires.
type Tracker struct {
	store       Store
	clock       clockwork.Clock
	ttl         time.Duration
	autoRefresh bool
	throttle    time.Duration
	onExpire    func()
	logger      *slog.Logger

	// op serializes store mutations made by the tracker against Stop.
	op sync.Mutex

	mu          sync.Mutex
	slot        *timer.Slot
	started     bool
	stopped     bool
	unsubscribe func()
	refreshedAt time.Time
	refreshed   bool
}

// New returns a tracker for store. It does nothing until Start.
func New(store Store, opts Options) *Tracker {
	if store == nil {
		panic("expiry: store must not be nil")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MoodTTL <= 0 {
		opts.MoodTTL = 30 * time.Minute
	}
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Tracker{
		store:       store,
		clock:       opts.Clock,
		ttl:         opts.MoodTTL,
		autoRefresh: opts.AutoRefresh,
		throttle:    opts.Throttle,
		onExpire:    opts.OnExpire,
		logger:      opts.Logger,
		slot:        timer.NewSlot(opts.Clock),
	}
}

// Start subscribes to the store and evaluates the current record. A mood
// that is already expired is cleared before Start returns.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	unsubscribe := t.store.Subscribe(t.onChange)

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		unsubscribe()
		return
	}
	t.unsubscribe = unsubscribe
	t.mu.Unlock()

	if t.evaluate() {
		t.invalidate()
	}
}

// Stop cancels the pending timer and detaches from the store. Once Stop
// returns the tracker makes no further store calls.
func (t *Tracker) Stop() {
	t.op.Lock()
	defer t.op.Unlock()

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.slot.Cancel()
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Activity refreshes the expiry in response to a user-activity signal. It
// does nothing unless auto-refresh is enabled, a live mood is set and the
// throttle interval has passed since the previous refresh. It reports
// whether the expiry was extended.
func (t *Tracker) Activity(kind Activity) bool {
	if !t.autoRefresh || !kind.Valid() {
		return false
	}

	t.op.Lock()
	defer t.op.Unlock()

	t.mu.Lock()
	if !t.started || t.stopped {
		t.mu.Unlock()
		return false
	}
	now := t.clock.Now()
	if t.refreshed && now.Sub(t.refreshedAt) < t.throttle {
		t.mu.Unlock()
		return false
	}
	rec := t.store.Snapshot()
	if !rec.Set() || rec.ExpiredAt(now) {
		t.mu.Unlock()
		return false
	}
	t.refreshed = true
	t.refreshedAt = now
	t.mu.Unlock()

	t.store.ExtendExpiry(t.ttl)
	t.logger.Debug("mood expiry refreshed", "activity", kind)
	return true
}

// VisibilityChanged forwards a visibility change. Only regaining
// visibility counts as activity.
func (t *Tracker) VisibilityChanged(visible bool) bool {
	if !visible {
		return false
	}
	return t.Activity(Visible)
}

// Remaining returns the live time left before the stored mood expires.
func (t *Tracker) Remaining() time.Duration {
	return t.store.Snapshot().RemainingAt(t.clock.Now())
}

// IsExpired reports whether the stored mood is past its expiry.
func (t *Tracker) IsExpired() bool {
	return t.store.Snapshot().ExpiredAt(t.clock.Now())
}

// Pending reports whether an expiry timer is armed.
func (t *Tracker) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slot.Pending()
}

func (t *Tracker) onChange(mood.Record) {
	if t.evaluate() {
		// Listeners may run inside a store call made by this tracker, so an
		// already expired record is handed to the timer instead of being
		// invalidated inline.
		t.mu.Lock()
		if !t.stopped {
			t.slot.Arm(0, t.fire)
		}
		t.mu.Unlock()
	}
}

// evaluate re-arms the timer for the current record. It reports whether
// the record is already expired and needs invalidating.
func (t *Tracker) evaluate() (expired bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started || t.stopped {
		return false
	}

	rec := t.store.Snapshot()
	if !rec.Set() {
		t.slot.Cancel()
		return false
	}

	now := t.clock.Now()
	if rec.ExpiredAt(now) {
		t.slot.Cancel()
		return true
	}

	t.slot.Arm(rec.ExpiresAt.Sub(now), t.fire)
	return false
}

func (t *Tracker) fire(tok timer.Token) {
	t.mu.Lock()
	ok := !t.stopped && t.slot.Fire(tok)
	t.mu.Unlock()
	if ok {
		t.invalidate()
	}
}

func (t *Tracker) invalidate() {
	t.op.Lock()
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		t.op.Unlock()
		return
	}
	valid := t.store.EnsureValidity()
	t.op.Unlock()

	if valid {
		return
	}

	t.logger.Info("mood expired")
	if t.onExpire != nil {
		t.onExpire()
	}
}

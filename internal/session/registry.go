// Package session keeps one mood store, selection flow and expiry tracker
// per client and ties them to the mood mirror.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/moodflow/backend/internal/expiry"
	"github.com/moodflow/backend/internal/flow"
	"github.com/moodflow/backend/internal/mirror"
	"github.com/moodflow/backend/internal/mood"
)

// ErrNotFound indicates the session is not open.
var ErrNotFound = errors.New("session not found")

const enqueueTimeout = time.Second

// Options configures a Registry.
type Options struct {
	Clock           clockwork.Clock
	MoodTTL         time.Duration
	TransitionDelay time.Duration
	AutoRefresh     bool
	RefreshThrottle time.Duration
	IdleTTL         time.Duration

	// Mirror is read when a session opens. Writer receives every record
	// change. Either may be nil.
	Mirror mirror.Mirror
	Writer *mirror.Writer
	Logger *slog.Logger
}

// ExpireHook runs after a session's mood expired and its flow was reset.
type ExpireHook func(s *Session)

// OpenHook runs once for every session the registry creates, before Open
// returns it.
type OpenHook func(s *Session)

// Registry owns the open sessions.
type Registry struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
	hooks    []ExpireHook
	opens    []OpenHook
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MoodTTL <= 0 {
		opts.MoodTTL = flow.DefaultMoodTTL
	}
	if opts.TransitionDelay <= 0 {
		opts.TransitionDelay = flow.DefaultTransitionDelay
	}
	if opts.RefreshThrottle <= 0 {
		opts.RefreshThrottle = expiry.DefaultThrottle
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 2 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// OnExpire registers a hook called whenever a session's mood expires.
func (r *Registry) OnExpire(h ExpireHook) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.hooks = append(r.hooks, h)
	r.mu.Unlock()
}

// OnOpen registers a hook called for each newly created session.
func (r *Registry) OnOpen(h OpenHook) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.opens = append(r.opens, h)
	r.mu.Unlock()
}

// Open returns the session for id, creating it when needed. A new session
// restores its mood from the mirror.
func (r *Registry) Open(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id must be provided")
	}
	if s, err := r.Get(id); err == nil {
		return s, nil
	}

	rec, found := r.load(ctx, id)
	s := r.build(id)
	if found && !s.Store.Restore(rec) {
		r.forget(id)
	}

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		s.teardown()
		existing.touch(r.opts.Clock.Now())
		return existing, nil
	}
	r.sessions[id] = s
	opens := append([]OpenHook(nil), r.opens...)
	r.mu.Unlock()

	for _, h := range opens {
		h(s)
	}
	s.Tracker.Start()

	r.opts.Logger.Debug("session opened", "session_id", id, "restored", found)
	return s, nil
}

// Get returns an open session and marks it as used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(r.opts.Clock.Now())
	return s, nil
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close tears a session down. Its mirrored mood is kept so a later Open
// picks it back up.
func (r *Registry) Close(id string) error {
	s, ok := r.remove(id)
	if !ok {
		return ErrNotFound
	}
	s.teardown()
	return nil
}

// Logout clears the session's mood, deletes its mirrored record and tears
// it down.
func (r *Registry) Logout(id string) error {
	s, ok := r.remove(id)
	if !ok {
		return ErrNotFound
	}
	s.Flow.Reset()
	s.teardown()
	r.forget(id)
	return nil
}

// Sweep closes sessions unused for longer than the idle TTL and returns
// how many were closed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if now.Sub(s.LastSeen()) >= r.opts.IdleTTL {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.teardown()
	}
	return len(idle)
}

// Shutdown tears down every open session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.teardown()
	}
}

func (r *Registry) remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

func (r *Registry) build(id string) *Session {
	clock := r.opts.Clock
	logger := r.opts.Logger.With(slog.String("session_id", id))
	store := mood.NewStore(clock)

	s := &Session{ID: id, Store: store, lastSeen: clock.Now()}
	s.Flow = flow.New(store, flow.Options{
		Clock:           clock,
		TransitionDelay: r.opts.TransitionDelay,
		MoodTTL:         r.opts.MoodTTL,
		Logger:          logger,
	})
	s.Tracker = expiry.New(store, expiry.Options{
		Clock:       clock,
		MoodTTL:     r.opts.MoodTTL,
		AutoRefresh: r.opts.AutoRefresh,
		Throttle:    r.opts.RefreshThrottle,
		OnExpire:    func() { r.expired(s) },
		Logger:      logger,
	})

	if w := r.opts.Writer; w != nil {
		// Subscribers run while the flow holds its lock, so never wait here.
		s.unsubscribe = store.Subscribe(func(rec mood.Record) {
			if err := w.TrySave(id, rec); err != nil {
				logger.Warn("mirror mood change", "error", err)
			}
		})
	}
	return s
}

func (r *Registry) load(ctx context.Context, id string) (mood.Record, bool) {
	if r.opts.Mirror == nil {
		return mood.Record{}, false
	}
	rec, err := r.opts.Mirror.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, mirror.ErrNotFound) {
			r.opts.Logger.Warn("load mirrored mood", "session_id", id, "error", err)
		}
		return mood.Record{}, false
	}
	return rec, true
}

func (r *Registry) forget(id string) {
	if r.opts.Writer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	if err := r.opts.Writer.Delete(ctx, id); err != nil {
		r.opts.Logger.Warn("forget mirrored mood", "session_id", id, "error", err)
	}
}

func (r *Registry) expired(s *Session) {
	r.opts.Logger.Info("session mood expired", "session_id", s.ID)
	s.Flow.Reset()

	r.mu.Lock()
	hooks := append([]ExpireHook(nil), r.hooks...)
	r.mu.Unlock()
	for _, h := range hooks {
		h(s)
	}
}

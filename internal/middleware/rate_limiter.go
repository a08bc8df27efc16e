package middleware

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/moodflow/backend/internal/config"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter controls how frequently a caller may perform an action.
type RateLimiter interface {
	Allow(key string) bool
}

// KeyedLimiter keeps a token bucket per key (client address plus scope).
// Buckets unused for longer than the ttl are dropped.
type KeyedLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	clock    clockwork.Clock
}

// NewKeyedLimiter allows cfg.Requests events per cfg.Window with cfg.Burst
// extra capacity for each key.
func NewKeyedLimiter(cfg config.RateLimitConfig, ttl time.Duration, clock clockwork.Clock) *KeyedLimiter {
	requests, window, burst := cfg.Requests, cfg.Window, cfg.Burst
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &KeyedLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    burst,
		ttl:      ttl,
		clock:    clock,
	}
}

// Allow reports whether key may act now and consumes a token if so.
func (l *KeyedLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}

	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	v := l.visitorLocked(key, now)
	l.gcLocked(now)
	return v.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *KeyedLimiter) visitorLocked(key string, now time.Time) *visitor {
	if v, ok := l.visitors[key]; ok {
		v.lastSeen = now
		return v
	}

	v := &visitor{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.visitors[key] = v
	return v
}

func (l *KeyedLimiter) gcLocked(now time.Time) {
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, key)
		}
	}
}

var _ RateLimiter = (*KeyedLimiter)(nil)

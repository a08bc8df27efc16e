package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/moodflow/backend/internal/mirror"
)

const purgeTimeout = 30 * time.Second

// StartSweeper runs Sweep every interval until the returned scheduler is
// shut down. When the mirror supports it, expired mirrored records are
// purged on the same schedule.
func (r *Registry) StartSweeper(interval time.Duration) (gocron.Scheduler, error) {
	if interval <= 0 {
		interval = time.Minute
	}

	s, err := gocron.NewScheduler(gocron.WithClock(r.opts.Clock))
	if err != nil {
		return nil, fmt.Errorf("create sweeper: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.sweepOnce),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("register sweep job: %w", err)
	}

	s.Start()
	return s, nil
}

func (r *Registry) sweepOnce() {
	now := r.opts.Clock.Now()
	if n := r.Sweep(now); n > 0 {
		r.opts.Logger.Info("closed idle sessions", "count", n, "open", r.Len())
	}

	p, ok := r.opts.Mirror.(mirror.Purger)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()
	n, err := p.PurgeExpired(ctx, now)
	if err != nil {
		r.opts.Logger.Warn("purge expired mirrored moods", "count", n, "error", err)
		return
	}
	if n > 0 {
		r.opts.Logger.Info("purged expired mirrored moods", "count", n)
	}
}

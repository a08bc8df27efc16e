package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/moodflow/backend/internal/config"
	"github.com/moodflow/backend/internal/db"
	"github.com/moodflow/backend/internal/handlers"
	"github.com/moodflow/backend/internal/middleware"
	"github.com/moodflow/backend/internal/mirror"
	"github.com/moodflow/backend/internal/repositories"
	"github.com/moodflow/backend/internal/session"
	"github.com/moodflow/backend/internal/storage"
)

const limiterIdleTTL = 10 * time.Minute

// dependencies holds the long-lived collaborators shared by the HTTP server,
// the Telegram bot and the sweeper.
type dependencies struct {
	Clock    clockwork.Clock
	Mirror   mirror.Mirror
	Writer   *mirror.Writer
	Registry *session.Registry
	Handlers handlers.Dependencies

	closeMirror func() error
}

// buildDependencies wires the configured mirror backend, the mirror writer
// and the session registry.
func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (*dependencies, error) {
	clock := clockwork.NewRealClock()

	m, closeMirror, err := buildMirror(ctx, cfg)
	if err != nil {
		return nil, err
	}

	writer := mirror.NewWriter(m, mirror.WriterConfig{
		QueueSize: cfg.Mirror.QueueSize,
		Workers:   cfg.Mirror.Workers,
	}, logger.With(slog.String("component", "mirror")))

	registry := session.NewRegistry(session.Options{
		Clock:           clock,
		MoodTTL:         cfg.Mood.TTL,
		TransitionDelay: cfg.Mood.TransitionDelay,
		AutoRefresh:     cfg.Mood.AutoRefresh,
		RefreshThrottle: cfg.Mood.RefreshThrottle,
		IdleTTL:         cfg.Sessions.IdleTTL,
		Mirror:          m,
		Writer:          writer,
		Logger:          logger,
	})

	return &dependencies{
		Clock:    clock,
		Mirror:   m,
		Writer:   writer,
		Registry: registry,
		Handlers: handlers.Dependencies{
			Sessions:        registry,
			ActivityLimiter: middleware.NewKeyedLimiter(cfg.RateLimit, limiterIdleTTL, clock),
		},
		closeMirror: closeMirror,
	}, nil
}

// Close tears down every session, drains pending mirror writes and closes
// the mirror backend.
func (d *dependencies) Close(ctx context.Context) error {
	d.Registry.Shutdown()
	var errs []error
	if err := d.Writer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain mirror writer: %w", err))
	}
	if d.closeMirror != nil {
		if err := d.closeMirror(); err != nil {
			errs = append(errs, fmt.Errorf("close mirror: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildMirror(ctx context.Context, cfg config.Config) (mirror.Mirror, func() error, error) {
	switch cfg.Mirror.Backend {
	case "", "memory":
		return mirror.NewMemory(), nil, nil
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return repositories.NewPostgresMoodMirror(pool), func() error { pool.Close(); return nil }, nil
	case "sqlite":
		m, err := storage.OpenSQLite(ctx, cfg.Mirror.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	case "s3":
		m, err := storage.NewS3Mirror(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, nil, err
		}
		return m, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown mirror backend %q", cfg.Mirror.Backend)
	}
}

package handlers

import (
	"context"

	"github.com/moodflow/backend/internal/session"
)

// SessionRegistry captures the session operations the HTTP surface needs.
type SessionRegistry interface {
	Open(ctx context.Context, id string) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Logout(id string) error
	Len() int
}

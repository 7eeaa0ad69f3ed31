package repository

import (
	"context"

	"github.com/dropDatabas3/authbroker/internal/domain"
)

// SessionStore is the durable, shared Session Store (§4.3). FindAndDelete
// must be a single atomic operation: concurrent finishes for the same state
// must observe at most one success (§5, §8 property 2).
type SessionStore interface {
	Create(ctx context.Context, session domain.OAuthSession) error

	// FindAndDelete atomically retrieves and removes the session keyed by
	// id. Returns (nil, nil) if the session does not exist — callers must
	// not distinguish "never existed" from "already consumed"; both surface
	// as invalid_state per §7.
	FindAndDelete(ctx context.Context, id string) (*domain.OAuthSession, error)

	// SweepExpired removes all sessions whose ExpiresAt has passed.
	// Idempotent: calling it with nothing to sweep is a no-op.
	SweepExpired(ctx context.Context) (removed int, err error)
}

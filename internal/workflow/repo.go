package workflow

import (
	"context"
	"time"
)

// Repo persists session state with optimistic versioning.
type Repo interface {
	// Get returns ErrNotFound for unknown or expired sessions.
	Get(ctx context.Context, sessionID string) (State, error)
	// Save stores st if the stored version equals expectedVersion (0 for a
	// new session) and returns it with the bumped version. A mismatch
	// returns ErrConflict.
	Save(ctx context.Context, sessionID string, st State, expectedVersion int64) (State, error)
	// Delete removes the session if the stored version equals
	// expectedVersion. Deleting a missing session at version 0 is a no-op.
	Delete(ctx context.Context, sessionID string, expectedVersion int64) error
}

// Sweeper is implemented by repos that must evict expired sessions themselves.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

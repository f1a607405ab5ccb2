package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB  *sql.DB
	TTL time.Duration
	Now func() time.Time
}

// NewPGRepo constructs a PGRepo.
func NewPGRepo(db *sql.DB, ttl time.Duration) *PGRepo {
	return &PGRepo{DB: db, TTL: ttl}
}

func (r *PGRepo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Get returns the session state.
func (r *PGRepo) Get(ctx context.Context, sessionID string) (State, error) {
	const query = `
SELECT state, version
FROM workflow_sessions
WHERE id = $1 AND expires_at > $2
LIMIT 1`
	var (
		raw     []byte
		version int64
	)
	err := r.DB.QueryRowContext(ctx, query, sessionID, r.now()).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("select session: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode session state: %w", err)
	}
	st.Version = version
	return st, nil
}

// Save inserts or updates the session if the version matches.
func (r *PGRepo) Save(ctx context.Context, sessionID string, st State, expectedVersion int64) (State, error) {
	now := r.now()
	st.Version = expectedVersion + 1
	st.UpdatedAt = now
	payload, err := json.Marshal(st)
	if err != nil {
		return State{}, fmt.Errorf("encode session state: %w", err)
	}
	expiresAt := now.Add(r.TTL)

	var res sql.Result
	if expectedVersion == 0 {
		// an expired row with the same id may be reclaimed
		const insert = `
INSERT INTO workflow_sessions (id, state, version, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET state = EXCLUDED.state, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
WHERE workflow_sessions.expires_at <= EXCLUDED.updated_at`
		res, err = r.DB.ExecContext(ctx, insert, sessionID, payload, st.Version, now, expiresAt)
	} else {
		const update = `
UPDATE workflow_sessions
SET state = $2, version = $3, updated_at = $4, expires_at = $5
WHERE id = $1 AND version = $6 AND expires_at > $4`
		res, err = r.DB.ExecContext(ctx, update, sessionID, payload, st.Version, now, expiresAt, expectedVersion)
	}
	if err != nil {
		return State{}, fmt.Errorf("save session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return State{}, fmt.Errorf("save session: %w", err)
	}
	if rows == 0 {
		return State{}, ErrConflict
	}
	return st, nil
}

// Delete removes the session row if the version matches. Expired rows are
// left to Sweep.
func (r *PGRepo) Delete(ctx context.Context, sessionID string, expectedVersion int64) error {
	if expectedVersion == 0 {
		return nil
	}
	const query = `
DELETE FROM workflow_sessions
WHERE id = $1 AND version = $2 AND expires_at > $3`
	res, err := r.DB.ExecContext(ctx, query, sessionID, expectedVersion, r.now())
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

// Sweep deletes expired rows.
func (r *PGRepo) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM workflow_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

var (
	_ Repo    = (*PGRepo)(nil)
	_ Sweeper = (*PGRepo)(nil)
)

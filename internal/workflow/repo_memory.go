package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	version   int64
	expiresAt time.Time
}

// MemoryRepo stores sessions in memory and is safe for concurrent use.
// States are kept serialized so callers never share pointers with the store.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]memoryEntry
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo whose sessions expire ttl after their last save.
func NewMemoryRepo(ttl time.Duration) *MemoryRepo {
	return &MemoryRepo{
		byID: make(map[string]memoryEntry),
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the session state.
func (r *MemoryRepo) Get(ctx context.Context, sessionID string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	r.mu.RLock()
	entry, ok := r.byID[sessionID]
	r.mu.RUnlock()
	if !ok || r.expired(entry, r.now()) {
		return State{}, ErrNotFound
	}
	var st State
	if err := json.Unmarshal(entry.data, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Save stores the state if the version matches.
func (r *MemoryRepo) Save(ctx context.Context, sessionID string, st State, expectedVersion int64) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	current := int64(0)
	if entry, ok := r.byID[sessionID]; ok && !r.expired(entry, now) {
		current = entry.version
	}
	if current != expectedVersion {
		return State{}, ErrConflict
	}

	st.Version = expectedVersion + 1
	st.UpdatedAt = now
	data, err := json.Marshal(st)
	if err != nil {
		return State{}, err
	}
	r.byID[sessionID] = memoryEntry{data: data, version: st.Version, expiresAt: now.Add(r.ttl)}
	return st, nil
}

// Delete removes the session if the version matches.
func (r *MemoryRepo) Delete(ctx context.Context, sessionID string, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := int64(0)
	if entry, ok := r.byID[sessionID]; ok && !r.expired(entry, r.now()) {
		current = entry.version
	}
	if current != expectedVersion {
		return ErrConflict
	}
	delete(r.byID, sessionID)
	return nil
}

// Sweep evicts expired sessions.
func (r *MemoryRepo) Sweep(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, entry := range r.byID {
		if r.expired(entry, now) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) expired(entry memoryEntry, now time.Time) bool {
	return r.ttl > 0 && !now.Before(entry.expiresAt)
}

var (
	_ Repo    = (*MemoryRepo)(nil)
	_ Sweeper = (*MemoryRepo)(nil)
)

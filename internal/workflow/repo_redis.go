package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "workflow:session:"

// RedisRepo implements Repo on Redis. Versions are checked under WATCH and
// expiry is delegated to key TTLs.
type RedisRepo struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisRepo constructs a RedisRepo.
func NewRedisRepo(client redis.UniversalClient, ttl time.Duration) *RedisRepo {
	return &RedisRepo{
		client: client,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

// Get returns the session state.
func (r *RedisRepo) Get(ctx context.Context, sessionID string) (State, error) {
	raw, err := r.client.Get(ctx, redisKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("redis get session: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode session state: %w", err)
	}
	return st, nil
}

// Save writes the state if the stored version matches.
func (r *RedisRepo) Save(ctx context.Context, sessionID string, st State, expectedVersion int64) (State, error) {
	key := redisKey(sessionID)
	var saved State

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := r.storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return ErrConflict
		}

		next := st
		next.Version = expectedVersion + 1
		next.UpdatedAt = r.now()
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session state: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, r.ttl)
			return nil
		}); err != nil {
			return err
		}
		saved = next
		return nil
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrConflict):
		return State{}, ErrConflict
	case err != nil:
		return State{}, fmt.Errorf("redis save session: %w", err)
	}
	return saved, nil
}

// Delete removes the session key if the version matches.
func (r *RedisRepo) Delete(ctx context.Context, sessionID string, expectedVersion int64) error {
	key := redisKey(sessionID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := r.storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return ErrConflict
		}
		if current == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrConflict):
		return ErrConflict
	case err != nil:
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (r *RedisRepo) storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var stored State
	if err := json.Unmarshal(raw, &stored); err != nil {
		return 0, fmt.Errorf("decode session state: %w", err)
	}
	return stored.Version, nil
}

var _ Repo = (*RedisRepo)(nil)

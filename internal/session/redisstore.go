package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/coachbuilder/model"
)

// RedisClient is the subset of *redis.Client RedisStore needs.
type RedisClient interface {
	redis.Cmdable
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
}

// RedisStore is a Redis-backed Store. Sessions live under "session:{id}" and
// expire through the key TTL, which every update refreshes.
type RedisStore struct {
	client RedisClient
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed session store. A zero ttl keeps
// sessions until they are deleted.
func NewRedisStore(client RedisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// FormatSessionKey builds the Redis key of a session.
func FormatSessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Create stores a new session unless its key already exists.
func (s *RedisStore) Create(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	key := FormatSessionKey(sess.ID)
	ok, err := s.client.SetNX(ctx, key, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %q: %w", key, err)
	}
	if !ok {
		return model.NewConflictError(fmt.Sprintf("session %q already exists", sess.ID))
	}
	return nil
}

// Get retrieves a session by id, scoped to tenant.
func (s *RedisStore) Get(ctx context.Context, tenantID, sessionID string) (Session, error) {
	sess, err := s.read(ctx, s.client, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.TenantID != tenantID {
		return Session{}, model.NewNotFoundError(fmt.Sprintf("session %q not found", sessionID))
	}
	return sess, nil
}

// Update writes sess inside a WATCH transaction so a concurrent writer
// turns into a version conflict.
func (s *RedisStore) Update(ctx context.Context, sess Session) (Session, error) {
	key := FormatSessionKey(sess.ID)
	var updated Session

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := s.read(ctx, tx, sess.ID)
		if err != nil {
			return err
		}
		if existing.TenantID != sess.TenantID {
			return model.NewNotFoundError(fmt.Sprintf("session %q not found", sess.ID))
		}
		if existing.Version != sess.Version {
			return model.NewConflictError(
				fmt.Sprintf("session %q version conflict (expected %d, got %d)", sess.ID, sess.Version, existing.Version),
			)
		}

		updated = sess
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return Session{}, model.NewConflictError(fmt.Sprintf("session %q was modified concurrently", sess.ID))
	}
	if err != nil {
		return Session{}, err
	}
	return updated, nil
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, tenantID, sessionID string) error {
	if _, err := s.Get(ctx, tenantID, sessionID); err != nil {
		return err
	}
	key := FormatSessionKey(sessionID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// FindExpired returns nothing: Redis drops expired sessions itself.
func (s *RedisStore) FindExpired(context.Context, time.Time) ([]Session, error) {
	return nil, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, c getter, sessionID string) (Session, error) {
	key := FormatSessionKey(sessionID)
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, model.NewNotFoundError(fmt.Sprintf("session %q not found", sessionID))
	}
	if err != nil {
		return Session{}, fmt.Errorf("redis get %q: %w", key, err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("unmarshal session %q: %w", key, err)
	}
	return sess, nil
}

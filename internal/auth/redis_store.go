package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "gigmarket:session:"
	pendingKeyPrefix = "gigmarket:login:"
)

// RedisStore keeps sessions and pending logins in Redis with TTLs
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SaveSession(ctx context.Context, session Session, ttl time.Duration) error {
	if session.ID == "" {
		return errors.New("session id cannot be empty")
	}
	return s.setJSON(ctx, sessionKeyPrefix+session.ID, session, ttl)
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (Session, error) {
	var session Session
	raw, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return session, ErrSessionNotFound
		}
		return session, fmt.Errorf("redis get: %w", err)
	}

	if err := json.Unmarshal(raw, &session); err != nil {
		return session, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) SavePending(ctx context.Context, pending PendingLogin, ttl time.Duration) error {
	if pending.State == "" {
		return errors.New("login state cannot be empty")
	}
	return s.setJSON(ctx, pendingKeyPrefix+pending.State, pending, ttl)
}

// TakePending returns and deletes the pending login, so a state is usable once
func (s *RedisStore) TakePending(ctx context.Context, state string) (PendingLogin, error) {
	var pending PendingLogin
	raw, err := s.client.GetDel(ctx, pendingKeyPrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return pending, ErrInvalidState
		}
		return pending, fmt.Errorf("redis getdel: %w", err)
	}

	if err := json.Unmarshal(raw, &pending); err != nil {
		return pending, fmt.Errorf("decode pending login: %w", err)
	}
	return pending, nil
}

func (s *RedisStore) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	platformredis "examtrack/internal/platform/redis"
	id "examtrack/pkg/domain"
	"examtrack/pkg/platform/sentinel"
)

// RedisCodeStore backs verification codes with Redis so a session can be
// verified by any instance. TTLs delegate expiry to Redis.
type RedisCodeStore struct {
	client *platformredis.Client
}

func NewRedisCodeStore(client *platformredis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

func codeKey(sessionID id.SessionID) string {
	return fmt.Sprintf("registration:code:%s", sessionID)
}

func cooldownKey(sessionID id.SessionID) string {
	return fmt.Sprintf("registration:code:cooldown:%s", sessionID)
}

func attemptsKey(sessionID id.SessionID) string {
	return fmt.Sprintf("registration:code:attempts:%s", sessionID)
}

func (s *RedisCodeStore) Save(ctx context.Context, sessionID id.SessionID, codeHash string, ttl, cooldown time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, codeKey(sessionID), codeHash, ttl)
	pipe.Set(ctx, cooldownKey(sessionID), "1", cooldown)
	pipe.Del(ctx, attemptsKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save verification code: %w", err)
	}
	return nil
}

func (s *RedisCodeStore) Lookup(ctx context.Context, sessionID id.SessionID) (string, error) {
	hash, err := s.client.Get(ctx, codeKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup verification code: %w", err)
	}
	return hash, nil
}

func (s *RedisCodeStore) InCooldown(ctx context.Context, sessionID id.SessionID) (bool, error) {
	n, err := s.client.Exists(ctx, cooldownKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("check verification cooldown: %w", err)
	}
	return n > 0, nil
}

func (s *RedisCodeStore) RecordAttempt(ctx context.Context, sessionID id.SessionID) (int, error) {
	key := attemptsKey(sessionID)
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("record verification attempt: %w", err)
	}
	if n == 1 {
		// Attempts live no longer than the code they guard.
		ttl, err := s.client.TTL(ctx, codeKey(sessionID)).Result()
		if err == nil && ttl > 0 {
			_ = s.client.Expire(ctx, key, ttl).Err()
		}
	}
	return int(n), nil
}

func (s *RedisCodeStore) Clear(ctx context.Context, sessionID id.SessionID) error {
	if err := s.client.Del(ctx, codeKey(sessionID), cooldownKey(sessionID), attemptsKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear verification code: %w", err)
	}
	return nil
}

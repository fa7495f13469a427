package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces token keys in a shared Redis.
const KeyPrefix = "codelink:token:"

const (
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
)

// RedisStore is a Store backed by Redis. Expiry uses Redis key TTLs and Pop uses GETDEL,
// so a token is delivered at most once across every server instance.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis at addr and pings it.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: KeyPrefix}
}

// Set stores value under key with ttl. Transient connection errors are retried with backoff;
// SET is idempotent so a retried write cannot duplicate anything.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := retryRedisOperation(ctx, func() (struct{}, error) {
		return struct{}{}, s.client.Set(ctx, s.prefix+key, value, ttl).Err()
	})
	return err
}

// Pop runs GETDEL on key. It is not retried: a reply lost after the delete would turn a retry
// into a miss, which is the safe outcome, but a retry could never recover the token either.
func (s *RedisStore) Pop(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.GetDel(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Ping checks connectivity. Used by the health checker.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// retryRedisOperation runs operation up to maxRetries times with exponential backoff
// (100ms, 200ms). It stops early when ctx is done.
func retryRedisOperation[T any](ctx context.Context, operation func() (T, error)) (T, error) {
	var lastErr error
	var zero T

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := initialBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := operation()
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	return zero, fmt.Errorf("redis operation failed after %d retries: %w", maxRetries, lastErr)
}

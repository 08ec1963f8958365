package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindowBackend implements WindowBackend against Redis, so counters
// survive a process restart on the same host. This is a local persistence
// backend, not a distributed coordinator: the core remains single-host per
// spec non-goals. Grounded on goadesign/goa-ai's registry.ResultStreamManager,
// which uses *redis.Client as the source of truth for cross-call state with
// a local in-memory fast path.
type RedisWindowBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisWindowBackend wraps an existing *redis.Client. prefix namespaces
// keys so the rate limiter can share a Redis instance with other subsystems.
func NewRedisWindowBackend(client *redis.Client, prefix string) *RedisWindowBackend {
	if prefix == "" {
		prefix = "atlas:ratelimit:"
	}
	return &RedisWindowBackend{client: client, prefix: prefix}
}

func (b *RedisWindowBackend) redisKey(key string) string {
	return b.prefix + key
}

func (b *RedisWindowBackend) Consume(ctx context.Context, key string, amount, limit int64, window time.Duration) (bool, time.Duration, error) {
	rk := b.redisKey(key)

	count, err := b.client.IncrBy(ctx, rk, amount).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit redis consume: %w", err)
	}
	if count == amount {
		// First writer for this window: start the TTL.
		if err := b.client.Expire(ctx, rk, window).Err(); err != nil {
			return false, 0, fmt.Errorf("ratelimit redis expire: %w", err)
		}
	}
	if count > limit {
		// Roll back the over-limit increment and report the remaining TTL.
		b.client.DecrBy(ctx, rk, amount)
		ttl, err := b.client.TTL(ctx, rk).Result()
		if err != nil || ttl < 0 {
			ttl = window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}

func (b *RedisWindowBackend) Adjust(ctx context.Context, key string, delta int64, window time.Duration) error {
	rk := b.redisKey(key)
	count, err := b.client.IncrBy(ctx, rk, delta).Result()
	if err != nil {
		return fmt.Errorf("ratelimit redis adjust: %w", err)
	}
	if count < 0 {
		b.client.Set(ctx, rk, 0, window)
	}
	return nil
}

func (b *RedisWindowBackend) Reset(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("ratelimit redis reset: %w", err)
	}
	return nil
}

package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a Counter backed by Redis, sharing in-flight counts
// across processes and hosts. Counts live under <prefix>rl:<key> and carry
// a TTL so slots held by a crashed process age out.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

var _ Counter = (*RedisCounter)(nil)

// NewRedisCounter creates a RedisCounter. prefix is optional but
// recommended (e.g. "orchestra:").
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "orchestra:"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) key(key string) string {
	return c.prefix + "rl:" + key
}

func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := c.key(key)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	if ttl > 0 {
		pipe.Expire(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCounter) Decr(ctx context.Context, key string) error {
	k := c.key(key)
	n, err := c.client.Decr(ctx, k).Result()
	if err != nil {
		return err
	}
	// Releases racing a TTL expiry can underflow; clamp back to zero.
	if n < 0 {
		return c.client.Set(ctx, k, 0, redis.KeepTTL).Err()
	}
	return nil
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Get(ctx, c.key(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

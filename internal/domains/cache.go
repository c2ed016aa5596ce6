package domains

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "mx:"

// Cache stores definitive MX answers per domain.
type Cache interface {
	Get(ctx context.Context, domain string) (hasMX bool, found bool, err error)
	Set(ctx context.Context, domain string, hasMX bool, ttl time.Duration) error
}

// RedisCache keeps MX answers in Redis under mx:{domain}.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the cached answer for domain.
func (c *RedisCache) Get(ctx context.Context, domain string) (bool, bool, error) {
	v, err := c.client.Get(ctx, cacheKeyPrefix+domain).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v == "1", true, nil
}

// Set stores the answer for domain with ttl.
func (c *RedisCache) Set(ctx context.Context, domain string, hasMX bool, ttl time.Duration) error {
	v := "0"
	if hasMX {
		v = "1"
	}
	return c.client.Set(ctx, cacheKeyPrefix+domain, v, ttl).Err()
}

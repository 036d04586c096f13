// Package cache provides a short-TTL, non-authoritative read cache for
// list/lookup acceleration. It is never consulted for authorization
// decisions; a miss or an unavailable backend simply means the caller reads
// from the database.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache wraps a redis client with tenant-prefixed keys and a fixed TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New connects to redis at redisURL. A connection failure is logged and a
// nil Cache is returned; all Cache methods are nil-safe so callers need no
// branching when the cache is absent.
func New(ctx context.Context, redisURL string, ttl time.Duration, logger zerolog.Logger) *Cache {
	if redisURL == "" {
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid redis url, cache disabled")
		return nil
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis not available, cache disabled")
		return nil
	}

	return &Cache{client: client, ttl: ttl, logger: logger}
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func key(tenant, k string) string {
	return tenant + ":" + k
}

// GetJSON unmarshals the cached value for the key into dest and reports
// whether it was present. Backend errors are treated as misses.
func (c *Cache) GetJSON(ctx context.Context, tenant, k string, dest interface{}) bool {
	if c == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key(tenant, k)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug().Err(err).Str("key", k).Msg("cache get failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false
	}
	return true
}

// SetJSON stores the value under the key with the cache's TTL, best effort.
func (c *Cache) SetJSON(ctx context.Context, tenant, k string, value interface{}) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(tenant, k), raw, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", k).Msg("cache set failed")
	}
}

// Invalidate removes keys matching the prefix for the tenant. Mutations call
// this so stale list pages do not outlive the TTL.
func (c *Cache) Invalidate(ctx context.Context, tenant, prefix string) {
	if c == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, key(tenant, prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Debug().Err(err).Msg("cache invalidate failed")
			return
		}
	}
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

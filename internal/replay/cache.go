// Package replay provides a best-effort anti-replay cache keyed on nonces
// and quote timestamps, grounded on the SET NX nonce-dedup idiom the
// teacher's auth middleware used for request replay protection. This is
// hardening only: the structural checks in §3/§4.6 of the relayer's design
// (timestamp windows, signature recovery) are the real defense, and a cache
// miss here never substitutes for them.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache claims a key for a bounded TTL; a second Claim of the same key
// before it expires reports false.
type Cache interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisCache backs Claim with SET key val NX EX ttl.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache wraps an existing redis client.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "replay:"+key, 1, ttl).Result()
}

// MemoryCache is the fallback used when REDIS_ADDR is unset: a single
// process has no need for a shared store, just mutex-guarded expiry.
type MemoryCache struct {
	mu      sync.Mutex
	claims  map[string]time.Time
}

// NewMemoryCache returns an empty in-process Cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{claims: make(map[string]time.Time)}
}

func (c *MemoryCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.claims[key]; ok && now.Before(expiry) {
		return false, nil
	}
	c.claims[key] = now.Add(ttl)
	c.sweepLocked(now)
	return true, nil
}

// sweepLocked drops expired entries opportunistically so MemoryCache does
// not grow unbounded under sustained traffic. Caller must hold c.mu.
func (c *MemoryCache) sweepLocked(now time.Time) {
	for key, expiry := range c.claims {
		if now.After(expiry) {
			delete(c.claims, key)
		}
	}
}

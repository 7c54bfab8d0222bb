package cache

import (
	"context"
	"path"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// memoryEntry wraps a value with its own deadline. The LRU's bucket TTL is
// an upper bound; per-key TTLs passed to Set are enforced on read and by
// Sweep.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache implements Service with a process-local expirable LRU. It is
// interchangeable with RedisCache for single-node deployments and tests.
type MemoryCache struct {
	cache *lru.LRU[string, memoryEntry]
}

// NewMemoryCache creates a memory cache holding at most maxEntries values,
// none of which outlives maxTTL.
func NewMemoryCache(maxEntries int, maxTTL time.Duration) *MemoryCache {
	if maxEntries < 16 {
		maxEntries = 16
	}
	return &MemoryCache{
		cache: lru.NewLRU[string, memoryEntry](maxEntries, nil, maxTTL),
	}
}

// Get returns the value stored under key, or ErrMiss.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	entry, ok := c.cache.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return nil, ErrMiss
	}
	return entry.value, nil
}

// Set stores value under key with the given TTL.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.cache.Add(key, entry)
	return nil
}

// Exists reports whether key currently holds a live value.
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Get(ctx, key)
	if err == ErrMiss {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes the given keys. Absent keys are ignored.
func (c *MemoryCache) Remove(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		c.cache.Remove(key)
	}
	return nil
}

// RemoveByPattern deletes every key matching the glob-style pattern.
func (c *MemoryCache) RemoveByPattern(ctx context.Context, pattern string) error {
	for _, key := range c.cache.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			c.cache.Remove(key)
		}
	}
	return nil
}

// Ping always succeeds for the in-process backend.
func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// Close purges all entries.
func (c *MemoryCache) Close() error {
	c.cache.Purge()
	return nil
}

// Sweep drops entries whose per-key deadline has passed. The LRU already
// expires whole buckets at maxTTL; Sweep keeps shorter per-key TTLs from
// lingering as dead weight between reads. Run it from a maintenance job.
func (c *MemoryCache) Sweep() int {
	now := time.Now()
	removed := 0
	for _, key := range c.cache.Keys() {
		entry, ok := c.cache.Peek(key)
		if !ok {
			continue
		}
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			c.cache.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries, for metrics.
func (c *MemoryCache) Len() int {
	return c.cache.Len()
}

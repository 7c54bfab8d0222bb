// Package cache provides the key/value cache abstraction used by the access
// evaluator. Backends are interchangeable: a networked Redis cache and a
// process-local LRU implement the same Service interface. The cache is an
// optimization, never a correctness dependency; callers treat any backend
// error as a miss.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Service is the cache contract consumed by the access core. Values are
// opaque bytes; writes are whole-value overwrites with a TTL. Removing an
// absent key is a no-op.
type Service interface {
	// Get returns the value stored under key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Exists reports whether key currently holds a value.
	Exists(ctx context.Context, key string) (bool, error)

	// Remove deletes the given keys. Absent keys are ignored.
	Remove(ctx context.Context, keys ...string) error

	// RemoveByPattern deletes every key matching the glob-style pattern
	// (e.g. "membership:role:user-1:*").
	RemoveByPattern(ctx context.Context, pattern string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

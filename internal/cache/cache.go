package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheUnavailable indicates the cache backend is unavailable
	ErrCacheUnavailable = errors.New("cache: backend unavailable")

	// ErrInvalidValue indicates the cached value cannot be parsed
	ErrInvalidValue = errors.New("cache: invalid value")
)

// Cache is a TTL key-value cache for ephemeral payloads such as widget
// snapshots. T is the stored value type.
type Cache[T any] interface {
	// Get retrieves a value. Returns ErrCacheMiss if the key does not
	// exist or has expired.
	Get(ctx context.Context, key string) (T, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Close releases the backend connection.
	Close() error

	// Health checks if the backend is reachable.
	Health(ctx context.Context) error
}

// GetWithFetch is a cache-aside helper: on miss it calls fetchFunc, stores
// the result with ttl, and returns it. Fetch errors are returned without
// touching the cache; Set failures are ignored so a degraded cache never
// blocks a successful fetch.
func GetWithFetch[T any](
	ctx context.Context,
	c Cache[T],
	key string,
	ttl time.Duration,
	fetchFunc func(ctx context.Context, key string) (T, error),
) (T, error) {
	if value, err := c.Get(ctx, key); err == nil {
		return value, nil
	}

	value, err := fetchFunc(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}

	_ = c.Set(ctx, key, value, ttl)
	return value, nil
}

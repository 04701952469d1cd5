package cache

import (
	"context"
)

// Cache stores catalog responses by request key. The generic type T is the
// cached value, typically a raw JSON document.
type Cache[T any] interface {
	// Get retrieves a value from the cache.
	// Returns the value, whether it was found, and any error.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores a value in the cache.
	Set(ctx context.Context, key string, value T) error

	// Invalidate removes a value from the cache.
	Invalidate(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}

// HitRatioer is implemented by caches that track their own hit statistics.
type HitRatioer interface {
	HitRatio() float64
}

// Package cache provides the scope-keyed TTL cache used for derived,
// recomputable values such as dashboard metrics.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache stores opaque byte values under a key for a bounded time.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key joins a namespace and a scope into a cache key.
func Key(namespace, scope string) string {
	return "vanguard:" + namespace + ":" + scope
}

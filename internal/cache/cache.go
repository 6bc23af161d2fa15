// Package cache stores rendered question payloads with a TTL. Writers flush
// the whole namespace; there is no per-key invalidation.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented key/value cache.
type Store interface {
	// Get returns the value and true on a live hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Clear drops every key owned by the store.
	Clear(ctx context.Context) error
}

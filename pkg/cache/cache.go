// Package cache is a TTL key-value cache. It is never the source of truth: every caller must be able to recompute a
// value on a miss.
package cache

import (
	"context"
	"time"
)

// Store is implemented by cache backends. Values are copied in and out; a Store never hands out references to its
// own storage. A ttl of zero or less means the entry does not expire.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Remove(ctx context.Context, key string) error
	// ClearPattern removes every key that starts with prefix.
	ClearPattern(ctx context.Context, prefix string) error
}

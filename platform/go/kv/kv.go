// Package kv provides the key-value store abstraction used for caching and
// ACL-membership memoization. Implementations must be safe for concurrent use.
package kv

import (
	"context"
	"time"
)

// Store is a TTL-aware key-value store. Values are opaque byte slices; callers
// are responsible for serialization.
type Store interface {
	// Get returns the value for key. The second return value reports whether
	// the key was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key with the given TTL. A non-positive TTL means
	// the entry does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Package kv abstracts the shared key-value store backing the security
// core (counters, block records, event trails). The interface is the
// minimal surface the security components need; the Redis implementation
// is the production backend and the memory implementation backs tests.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned on a key miss.
var ErrNotFound = errors.New("kv: key not found")

// Store is the key-value contract consumed by the security core.
// Incr must be atomic: two concurrent callers must observe distinct
// post-increment values.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// Incr increments the integer at key (creating it at 0) and returns
	// the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of a key, or a negative
	// duration if the key has no expiry or does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Append pushes an entry onto the list at key and refreshes its TTL.
	Append(ctx context.Context, key, value string, ttl time.Duration) error

	// Range returns list entries between start and stop (inclusive,
	// negative indexes count from the end, Redis LRANGE semantics).
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
}

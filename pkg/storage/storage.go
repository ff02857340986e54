// Package storage provides the key-value abstraction the session store,
// token vault, and approval store are built on. Two backends are
// provided: an in-process map for single-instance deployments and a
// Redis-backed one for anything that needs to share state across
// replicas.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrConnection wraps any network or transport failure reported by a
// backend. A missing key is never an error; see Get/GetAndExtend.
var ErrConnection = errors.New("storage: connection error")

// SetOptions controls the write semantics of Adapter.Set.
type SetOptions struct {
	TTL time.Duration // zero means no expiry

	// IfNotExists makes Set a no-op (returning ErrConditionFailed) when
	// the key already exists. Mutually exclusive with IfExists.
	IfNotExists bool

	// IfExists makes Set a no-op (returning ErrConditionFailed) when the
	// key does not already exist. Mutually exclusive with IfNotExists.
	IfExists bool
}

// ErrConditionFailed is returned by Set when IfNotExists/IfExists was
// requested and the key's existence did not match.
var ErrConditionFailed = errors.New("storage: condition failed")

// Value is one result entry from MGet.
type Value struct {
	Key   string
	Value []byte
	OK    bool
}

// Adapter is the storage contract every backend implements. Backends
// must be safe for concurrent use.
type Adapter interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, opts SetOptions) error
	Delete(ctx context.Context, key string) (existed bool, err error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, amount int64) (int64, error)

	MGet(ctx context.Context, keys []string) ([]Value, error)
	MDelete(ctx context.Context, keys []string) (int, error)

	// Scan returns a lazy iterator over keys matching pattern. Calling
	// iter repeatedly yields (key, true) until exhaustion, then
	// ("", false). Backends may interpret pattern as a glob (memory) or
	// a native SCAN MATCH pattern (redis) - both use '*'/'?' globbing.
	Scan(ctx context.Context, pattern string) (iter func() (string, bool), err error)

	// GetAndExtend atomically reads a key and resets its TTL in a
	// single round trip. Callers holding an application-level expiry
	// (e.g. the session store's expiresAt) should prefer this over a
	// separate Get+Expire pair.
	GetAndExtend(ctx context.Context, key string, ttl time.Duration) (value []byte, ok bool, err error)

	// Close releases any underlying connections. Safe to call more than
	// once.
	Close() error
}

// PubSub is an optional capability. Backends that support it implement
// this interface in addition to Adapter; callers type-assert for it.
type PubSub interface {
	Publish(ctx context.Context, channel string, msg []byte) (subscribers int, err error)
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)
}

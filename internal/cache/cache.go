// Package cache is the soft, time-bounded key/value layer in front of
// provider calls. A miss is always recoverable by calling the provider and a
// store error is logged and treated as a miss.
package cache

import (
	"context"
	"time"
)

// NoExpiry is returned by TTL for keys stored without expiry.
const NoExpiry time.Duration = -1

// Store is the raw key/value contract implemented by MemoryStore and RedisStore.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value; ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes keys matching a glob and returns how many were removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining lifetime; ok is false when key is missing.
	TTL(ctx context.Context, key string) (ttl time.Duration, ok bool, err error)
	Close() error
}

// Namespace groups keys that share a freshness window.
type Namespace struct {
	Name string
	TTL  time.Duration
}

var (
	Trends    = Namespace{Name: "trends", TTL: time.Hour}
	Search    = Namespace{Name: "search", TTL: time.Hour}
	Videos    = Namespace{Name: "videos", TTL: time.Hour}
	Channels  = Namespace{Name: "channels", TTL: 24 * time.Hour}
	Analytics = Namespace{Name: "analytics", TTL: 24 * time.Hour}
	Seen      = Namespace{Name: "seen", TTL: 48 * time.Hour}
)

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

// Layer wraps a Store with miss-on-error semantics and deduplicated loads.
type Layer struct {
	store  Store
	logger *logger.Logger
	group  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

func NewLayer(store Store, log *logger.Logger) *Layer {
	if log == nil {
		log = logger.Discard()
	}
	return &Layer{store: store, logger: log}
}

// Key builds "<namespace>:<hash of params>". Params are JSON encoded, so map
// keys are ordered and equal parameter sets hash equally.
func Key(ns Namespace, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode cache params: %w", err)
	}
	sum := sha256.Sum256(raw)
	return ns.Name + ":" + hex.EncodeToString(sum[:8]), nil
}

// Get returns the stored bytes. Store errors are logged and reported as a miss.
func (l *Layer) Get(ctx context.Context, key string) ([]byte, bool) {
	b, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.errors.Add(1)
		l.logger.WarnCtx(ctx, "cache get failed, treating as miss", logger.String("key", key), logger.Any("error", err))
		return nil, false
	}
	if !ok {
		l.misses.Add(1)
		return nil, false
	}
	l.hits.Add(1)
	return b, true
}

// Set stores value; failures are logged only.
func (l *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := l.store.Set(ctx, key, value, ttl); err != nil {
		l.errors.Add(1)
		l.logger.WarnCtx(ctx, "cache set failed", logger.String("key", key), logger.Any("error", err))
	}
}

// Exists reports key presence; failures count as absent.
func (l *Layer) Exists(ctx context.Context, key string) bool {
	ok, err := l.store.Exists(ctx, key)
	if err != nil {
		l.errors.Add(1)
		l.logger.WarnCtx(ctx, "cache exists failed, treating as miss", logger.String("key", key), logger.Any("error", err))
		return false
	}
	return ok
}

func (l *Layer) Delete(ctx context.Context, keys ...string) error {
	return l.store.Delete(ctx, keys...)
}

// Invalidate drops every key in ns.
func (l *Layer) Invalidate(ctx context.Context, ns Namespace) (int, error) {
	return l.store.DeletePattern(ctx, ns.Name+":*")
}

func (l *Layer) DeletePattern(ctx context.Context, pattern string) (int, error) {
	return l.store.DeletePattern(ctx, pattern)
}

func (l *Layer) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return l.store.Increment(ctx, key, delta)
}

func (l *Layer) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	return l.store.TTL(ctx, key)
}

// Stats returns hit, miss and error counts.
func (l *Layer) Stats() (hits, misses, errs int64) {
	return l.hits.Load(), l.misses.Load(), l.errors.Load()
}

func (l *Layer) Close() error {
	return l.store.Close()
}

// GetOrLoad returns the cached value for (ns, params) or calls load, stores
// its result for ns.TTL and returns it. Concurrent loads of one key share a
// single call. Load errors are returned and nothing is stored.
func GetOrLoad[T any](ctx context.Context, l *Layer, ns Namespace, params any, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if l == nil {
		return load(ctx)
	}

	key, err := Key(ns, params)
	if err != nil {
		return zero, err
	}

	if raw, ok := l.Get(ctx, key); ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		l.logger.WarnCtx(ctx, "cache entry undecodable, reloading", logger.String("key", key))
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		fresh, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(fresh); err == nil {
			l.Set(ctx, key, raw, ns.TTL)
		}
		return fresh, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

package cache

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store. Expiry is evaluated lazily on access.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	clock   clock.Clock
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryStore{entries: make(map[string]memEntry), clock: clk}
}

func (m *MemoryStore) lookup(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok || e.expired(m.clock.Now()) {
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryStore) DeletePattern(_ context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for k, e := range m.entries {
		ok, _ := path.Match(pattern, k)
		if !ok {
			continue
		}
		delete(m.entries, k)
		if !e.expired(now) {
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Increment(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	var n int64
	if ok {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %q is not an integer", key)
		}
		n = parsed
	}
	n += delta
	e.value = []byte(strconv.FormatInt(n, 10))
	m.entries[key] = e
	return n, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.lookup(key)
	if !ok {
		return 0, false, nil
	}
	if e.expiresAt.IsZero() {
		return NoExpiry, true, nil
	}
	return e.expiresAt.Sub(m.clock.Now()), true, nil
}

func (m *MemoryStore) Close() error { return nil }

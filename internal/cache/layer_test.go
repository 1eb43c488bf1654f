package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

type brokenStore struct{ MemoryStore }

var errDown = errors.New("cache down")

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (brokenStore) Exists(context.Context, string) (bool, error) { return false, errDown }

type channelStats struct {
	Subscribers int64 `json:"subscribers"`
}

func TestKey_StableForEqualParams(t *testing.T) {
	a, err := Key(Channels, map[string]any{"id": "UC1", "part": "statistics"})
	require.NoError(t, err)
	b, err := Key(Channels, map[string]any{"part": "statistics", "id": "UC1"})
	require.NoError(t, err)
	c, err := Key(Channels, map[string]any{"id": "UC2", "part": "statistics"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "channels:")
}

func TestGetOrLoad_CachesWithinTTL(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	l := NewLayer(NewMemoryStore(clk), logger.Discard())
	ctx := context.Background()

	var loads int
	load := func(context.Context) (channelStats, error) {
		loads++
		return channelStats{Subscribers: int64(1000 * loads)}, nil
	}

	v, err := GetOrLoad(ctx, l, Channels, "UC1", load)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, v.Subscribers)

	v, err = GetOrLoad(ctx, l, Channels, "UC1", load)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, v.Subscribers)
	assert.Equal(t, 1, loads)

	clk.Advance(Channels.TTL)
	v, err = GetOrLoad(ctx, l, Channels, "UC1", load)
	require.NoError(t, err)
	assert.EqualValues(t, 2000, v.Subscribers)

	hits, misses, _ := l.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 2, misses)
}

func TestGetOrLoad_LoadErrorNotCached(t *testing.T) {
	l := NewLayer(NewMemoryStore(nil), logger.Discard())
	ctx := context.Background()

	_, err := GetOrLoad(ctx, l, Search, "q", func(context.Context) (int, error) { return 0, errors.New("upstream") })
	assert.Error(t, err)

	v, err := GetOrLoad(ctx, l, Search, "q", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGetOrLoad_StoreErrorIsMiss(t *testing.T) {
	l := NewLayer(&brokenStore{}, logger.Discard())
	ctx := context.Background()

	calls := 0
	for range 2 {
		v, err := GetOrLoad(ctx, l, Trends, "anime", func(context.Context) (string, error) {
			calls++
			return "fresh", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "fresh", v)
	}
	assert.Equal(t, 2, calls)
	assert.False(t, l.Exists(ctx, "anything"))

	_, _, errs := l.Stats()
	assert.GreaterOrEqual(t, errs, int64(4))
}

func TestGetOrLoad_ConcurrentLoadsShared(t *testing.T) {
	l := NewLayer(NewMemoryStore(nil), logger.Discard())
	ctx := context.Background()

	var loads atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := GetOrLoad(ctx, l, Videos, "ids", func(context.Context) (int, error) {
				loads.Add(1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, loads.Load(), int32(2))
	for _, r := range results {
		assert.Equal(t, 42, r)
	}
}

func TestLayer_Invalidate(t *testing.T) {
	l := NewLayer(NewMemoryStore(nil), nil)
	ctx := context.Background()

	_, err := GetOrLoad(ctx, l, Trends, "a", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	_, err = GetOrLoad(ctx, l, Trends, "b", func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)

	n, err := l.Invalidate(ctx, Trends)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

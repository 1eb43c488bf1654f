package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify/notifytest"
)

const yt = "youtube"

type memCounters struct {
	mu   sync.Mutex
	used map[string]int64
	err  error
}

func newMemCounters() *memCounters { return &memCounters{used: map[string]int64{}} }

func (m *memCounters) LoadUsage(_ context.Context, provider, day string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.used[provider+"/"+day]
	return v, ok, nil
}

func (m *memCounters) SaveUsage(_ context.Context, provider, day string, used, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.used[provider+"/"+day] = used
	return nil
}

type memState struct {
	mu    sync.Mutex
	fired map[string]bool
}

func (s *memState) MarkFired(_ context.Context, ruleID, day string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired == nil {
		s.fired = map[string]bool{}
	}
	if s.fired[ruleID+day] {
		return false, nil
	}
	s.fired[ruleID+day] = true
	return true, nil
}

// 10:00 JST on 2026-06-01 is 17:00 UTC-8 on 2026-05-31.
var tokyoMorning = time.Date(2026, 6, 1, 1, 0, 0, 0, time.UTC)

func newBroker(t *testing.T, opts ...Option) (*Broker, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(tokyoMorning)
	opts = append([]Option{WithClock(clk), WithLogger(logger.Discard())}, opts...)
	return NewBroker(map[string]Limits{yt: SearchPlatformLimits()}, opts...), clk
}

func TestBroker_ReserveCommitRollback(t *testing.T) {
	b, _ := newBroker(t)
	ctx := context.Background()

	r, err := b.Reserve(ctx, yt, 100)
	require.NoError(t, err)
	assert.Equal(t, Allow, r.Decision)
	r.Rollback()

	u, err := b.Usage(ctx, yt)
	require.NoError(t, err)
	assert.Zero(t, u.Used)
	assert.Zero(t, u.Reserved)

	r, err = b.Reserve(ctx, yt, 100)
	require.NoError(t, err)
	require.NoError(t, b.Commit(ctx, r))
	require.NoError(t, r.Commit(ctx), "double commit is a no-op")
	b.Rollback(r)

	u, err = b.Usage(ctx, yt)
	require.NoError(t, err)
	assert.EqualValues(t, 100, u.Used)
	assert.Zero(t, u.Reserved)
	assert.EqualValues(t, 10_000, u.Limit)
}

func TestBroker_UnmeteredProviderAlwaysAllows(t *testing.T) {
	b, _ := newBroker(t)
	r, err := b.Reserve(context.Background(), "llm_a", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, Allow, r.Decision)
	require.NoError(t, r.Commit(context.Background()))
	assert.False(t, b.Metered("llm_a"))

	_, err = b.Usage(context.Background(), "llm_a")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestBroker_WarnExactlyOncePerDay(t *testing.T) {
	counters := newMemCounters()
	rec := notifytest.NewRecorder()
	n := notify.New(notify.Config{}, logger.Discard(), rec)
	warner := NewNotifyWarner(n, notify.NewCoalescer(&memState{}, nil, nil))
	b, _ := newBroker(t, WithStore(counters), WithWarner(warner))
	ctx := context.Background()

	day := b.Day(yt, tokyoMorning)
	require.NoError(t, counters.SaveUsage(ctx, yt, day, 7900, 10_000))

	r, err := b.Reserve(ctx, yt, 99)
	require.NoError(t, err)
	assert.Equal(t, Allow, r.Decision, "7999 stays below the warn line")
	r.Rollback()

	for range 3 {
		r, err := b.Reserve(ctx, yt, 100)
		require.NoError(t, err)
		assert.Equal(t, Warn, r.Decision)
		require.NoError(t, r.Commit(ctx))
	}

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, n.Close(closeCtx))

	warns := rec.ByLevel(notify.LevelWarn)
	require.Len(t, warns, 1)
	assert.Equal(t, "8000", warns[0].Fields["used"])
	assert.Equal(t, day, warns[0].Fields["day"])
}

func TestBroker_StopRatioDenies(t *testing.T) {
	counters := newMemCounters()
	b, _ := newBroker(t, WithStore(counters))
	ctx := context.Background()
	require.NoError(t, counters.SaveUsage(ctx, yt, b.Day(yt, tokyoMorning), 9500, 10_000))

	r, err := b.Reserve(ctx, yt, 1)
	assert.True(t, apperr.Is(err, apperr.QuotaExhausted))
	assert.Equal(t, Deny, r.Decision)
}

func TestBroker_HardLimitDenies(t *testing.T) {
	counters := newMemCounters()
	b, _ := newBroker(t, WithStore(counters))
	ctx := context.Background()
	require.NoError(t, counters.SaveUsage(ctx, yt, b.Day(yt, tokyoMorning), 9400, 10_000))

	_, err := b.Reserve(ctx, yt, 601)
	assert.True(t, apperr.Is(err, apperr.QuotaExhausted))

	r, err := b.Reserve(ctx, yt, 600)
	require.NoError(t, err)
	require.NoError(t, r.Commit(ctx))

	u, _ := b.Usage(ctx, yt)
	assert.EqualValues(t, 10_000, u.Used)
}

func TestBroker_ConcurrentReservationsNeverExceedLimit(t *testing.T) {
	b, _ := newBroker(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		denied  int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := b.Reserve(ctx, yt, 1100)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				denied++
				return
			}
			allowed++
			assert.NoError(t, r.Commit(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, allowed)
	assert.Equal(t, 1, denied)
	u, err := b.Usage(ctx, yt)
	require.NoError(t, err)
	assert.EqualValues(t, 9900, u.Used)
	assert.LessOrEqual(t, u.Used, u.Limit)
}

func TestBroker_DayFollowsResetZone(t *testing.T) {
	b, clk := newBroker(t)
	tokyo, err := clock.LoadZone("Asia/Tokyo")
	require.NoError(t, err)

	beforeReset := time.Date(2026, 6, 1, 16, 59, 59, 0, tokyo)
	atReset := time.Date(2026, 6, 1, 17, 0, 0, 0, tokyo)
	assert.Equal(t, "2026-05-31", b.Day(yt, beforeReset))
	assert.Equal(t, "2026-06-01", b.Day(yt, atReset))
	assert.True(t, b.NextReset(yt, beforeReset).Equal(atReset))

	ctx := context.Background()
	clk.Set(beforeReset)
	r, err := b.Reserve(ctx, yt, 500)
	require.NoError(t, err)
	require.NoError(t, r.Commit(ctx))

	clk.Set(atReset)
	u, err := b.Usage(ctx, yt)
	require.NoError(t, err)
	assert.Zero(t, u.Used)
	assert.Equal(t, "2026-06-01", u.Day)
}

func TestBroker_RunResetLoop(t *testing.T) {
	counters := newMemCounters()
	b, clk := newBroker(t, WithStore(counters))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		b.RunResetLoop(ctx)
		close(done)
	}()

	require.True(t, clk.BlockUntil(1, time.Second))
	next := b.NextReset(yt, clk.Now())
	clk.Set(next)
	require.True(t, clk.BlockUntil(1, time.Second))

	used, found, err := counters.LoadUsage(ctx, yt, b.Day(yt, next))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Zero(t, used)

	cancel()
	<-done
}

func TestBroker_ResetKeepsUsageChargedAfterRollover(t *testing.T) {
	counters := newMemCounters()
	b, clk := newBroker(t, WithStore(counters))
	ctx := context.Background()

	r, err := b.Reserve(ctx, yt, 5)
	require.NoError(t, err)
	require.NoError(t, r.Commit(ctx))
	yesterday := b.Day(yt, clk.Now())

	// A run charges the new day before the reset timer wakes up.
	next := b.NextReset(yt, clk.Now())
	clk.Set(next.Add(time.Second))
	r, err = b.Reserve(ctx, yt, 7)
	require.NoError(t, err)
	require.NoError(t, r.Commit(ctx))

	today := b.Day(yt, next)
	require.NoError(t, b.Reset(ctx, yt, today))

	u, err := b.Usage(ctx, yt)
	require.NoError(t, err)
	assert.EqualValues(t, 7, u.Used)

	used, found, err := counters.LoadUsage(ctx, yt, today)
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 7, used)

	used, _, err = counters.LoadUsage(ctx, yt, yesterday)
	require.NoError(t, err)
	assert.EqualValues(t, 5, used, "finished day left as recorded")
}

func TestBroker_CommitPersistFailure(t *testing.T) {
	counters := newMemCounters()
	b, _ := newBroker(t, WithStore(counters))
	ctx := context.Background()

	r, err := b.Reserve(ctx, yt, 1)
	require.NoError(t, err)
	counters.err = errors.New("db down")
	err = r.Commit(ctx)
	assert.True(t, apperr.Is(err, apperr.Database))

	u, _ := b.Usage(ctx, yt)
	assert.EqualValues(t, 1, u.Used, "in-memory counter still charged")
}

func TestPlan_WithinDailyAllocation(t *testing.T) {
	assert.LessOrEqual(t, DefaultPlan.Daily(), int64(3000))
	assert.GreaterOrEqual(t, SearchPlatformLimits().DailyLimit-DefaultPlan.Daily(), int64(7000))

	assert.EqualValues(t, 500, DefaultPlan.RunBudget(model.TrendMonitor, ""))
	assert.EqualValues(t, 300, DefaultPlan.RunBudget(model.CommentResponder, ""))
	assert.EqualValues(t, 200, DefaultPlan.RunBudget(model.CompetitorAnalyzer, "weekly"))
	assert.EqualValues(t, 1, DefaultPlan.RunBudget(model.CompetitorAnalyzer, "daily"))
	assert.EqualValues(t, 1, DefaultPlan.RunBudget(model.CompetitorAnalyzer, "other"))
	assert.Zero(t, DefaultPlan.RunBudget(model.AgentKind("nope"), ""))

	for _, k := range model.AgentKinds() {
		found := false
		for _, e := range DefaultPlan {
			found = found || e.Kind == k
		}
		assert.True(t, found, "plan covers %s", k)
	}
}

func TestBudget(t *testing.T) {
	b := NewBudget(300)
	assert.True(t, b.Take(100))
	assert.True(t, b.Take(200))
	assert.False(t, b.Take(1))
	b.Refund(50)
	assert.EqualValues(t, 50, b.Remaining())
	assert.EqualValues(t, 250, b.Spent())

	var nilBudget *Budget
	assert.True(t, nilBudget.Take(1_000_000))
	assert.EqualValues(t, -1, nilBudget.Remaining())

	ctx := WithBudget(context.Background(), b)
	assert.Same(t, b, BudgetFrom(ctx))
	assert.Nil(t, BudgetFrom(context.Background()))
}

func TestSpend_CommitsOnSuccessAndRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(map[string]Limits{"youtube": SearchPlatformLimits()})
	budget := NewBudget(150)
	ctx = WithBudget(ctx, budget)

	require.NoError(t, b.Spend(ctx, "youtube", "search_videos", 100, func(context.Context) error { return nil }))

	failure := apperr.New(apperr.Unavailable, "youtube", "list_videos", "boom")
	err := b.Spend(ctx, "youtube", "list_videos", 1, func(context.Context) error { return failure })
	assert.ErrorIs(t, err, failure)

	err = b.Spend(ctx, "youtube", "search_videos", 100, func(context.Context) error {
		t.Fatal("call must not run past the run budget")
		return nil
	})
	assert.True(t, apperr.Is(err, apperr.QuotaExhausted))

	u, err := b.Usage(ctx, "youtube")
	require.NoError(t, err)
	assert.EqualValues(t, 100, u.Used)
	assert.EqualValues(t, 0, u.Reserved)
	assert.EqualValues(t, 100, budget.Spent())
}

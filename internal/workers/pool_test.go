package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *recordingObserver) ObservePoolTask(_, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}

func (o *recordingObserver) SetPoolQueueDepth(int) {}

func (o *recordingObserver) count(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}

func TestNewPool(t *testing.T) {
	tests := []struct {
		name       string
		workers    int
		bufferSize int
		wantCount  int
	}{
		{name: "explicit", workers: 3, bufferSize: 10, wantCount: 3},
		{name: "defaults", workers: 0, bufferSize: 0, wantCount: DefaultPoolSize},
		{name: "negative", workers: -1, bufferSize: -5, wantCount: DefaultPoolSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(tt.workers, tt.bufferSize, logger.Discard())
			assert.Equal(t, tt.wantCount, pool.WorkerCount())
			assert.Zero(t, pool.QueueSize())
		})
	}
}

func TestPool_RunsSubmittedTasks(t *testing.T) {
	var results sync.WaitGroup
	results.Add(2)
	obs := &recordingObserver{}
	pool := NewPool(2, 10, logger.Discard(), WithObserver(obs), WithResultHook(func(Result) { results.Done() }))
	pool.Start()

	var ran atomic.Int32
	require.NoError(t, pool.Submit(Task{ID: "a", Kind: "trend_monitor", Run: func(context.Context) error {
		ran.Add(1)
		return nil
	}}))
	require.NoError(t, pool.Submit(Task{ID: "b", Kind: "qa_checker", Run: func(context.Context) error {
		ran.Add(1)
		return errors.New("boom")
	}}))

	results.Wait()
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.EqualValues(t, 2, ran.Load())
	m := pool.Metrics()
	assert.EqualValues(t, 2, m.TasksSubmitted)
	assert.EqualValues(t, 1, m.TasksCompleted)
	assert.EqualValues(t, 1, m.TasksFailed)
	assert.Equal(t, 1, obs.count(OutcomeOK))
	assert.Equal(t, 1, obs.count(OutcomeError))
}

func TestPool_ParallelismIsBounded(t *testing.T) {
	pool := NewPool(DefaultPoolSize, 20, logger.Discard())
	pool.Start()

	var (
		current atomic.Int32
		peak    atomic.Int32
	)
	for i := 0; i < 12; i++ {
		require.NoError(t, pool.Submit(Task{ID: "t", Run: func(context.Context) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return nil
		}}))
	}

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(DefaultPoolSize))
	assert.EqualValues(t, 12, pool.Metrics().TasksCompleted)
}

func TestPool_SubmitNeverBlocks(t *testing.T) {
	pool := NewPool(1, 1, logger.Discard())
	release := make(chan struct{})
	started := make(chan struct{})
	pool.Start()

	require.NoError(t, pool.Submit(Task{ID: "busy", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	require.NoError(t, pool.Submit(Task{ID: "queued", Run: func(context.Context) error { return nil }}))

	done := make(chan error, 1)
	go func() { done <- pool.Submit(Task{ID: "overflow", Run: func(context.Context) error { return nil }}) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.EqualValues(t, 1, pool.Metrics().TasksRejected)
}

func TestPool_PanicIsRecovered(t *testing.T) {
	var got Result
	var wg sync.WaitGroup
	wg.Add(1)
	obs := &recordingObserver{}
	pool := NewPool(1, 1, logger.Discard(), WithObserver(obs), WithResultHook(func(r Result) {
		got = r
		wg.Done()
	}))
	pool.Start()

	require.NoError(t, pool.Submit(Task{ID: "p", Run: func(context.Context) error { panic("kaboom") }}))
	wg.Wait()
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, apperr.Internal, apperr.KindOf(got.Err))
	assert.Contains(t, got.Err.Error(), "kaboom")
	assert.Equal(t, 1, obs.count(OutcomePanic))
}

func TestPool_ShutdownWaitsForInFlight(t *testing.T) {
	pool := NewPool(2, 4, logger.Discard())
	pool.Start()

	var finished atomic.Bool
	started := make(chan struct{})
	require.NoError(t, pool.Submit(Task{ID: "slow", Run: func(context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}}))
	<-started

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.True(t, finished.Load())

	assert.ErrorIs(t, pool.Submit(Task{ID: "late", Run: func(context.Context) error { return nil }}), ErrStopped)
	assert.NoError(t, pool.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestPool_ShutdownDeadlineCancelsTasks(t *testing.T) {
	pool := NewPool(1, 4, logger.Discard())
	pool.Start()

	started := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, pool.Submit(Task{ID: "stuck", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}}))
	var queuedRan atomic.Bool
	skipped := make(chan error, 1)
	require.NoError(t, pool.Submit(Task{
		ID: "queued",
		Run: func(context.Context) error {
			queuedRan.Store(true)
			return nil
		},
		OnSkip: func(err error) { skipped <- err },
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := pool.Shutdown(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, cancelled.Load())
	assert.False(t, queuedRan.Load(), "queued tasks are skipped once the pool is cancelled")
	assert.EqualValues(t, 2, pool.Metrics().TasksFailed)
	select {
	case err := <-skipped:
		assert.ErrorIs(t, err, context.Canceled)
	default:
		t.Fatal("skip hook of the queued task was not called")
	}
}

func TestPool_ShutdownBeforeStart(t *testing.T) {
	pool := NewPool(1, 2, logger.Discard())
	var skipped []string
	require.NoError(t, pool.Submit(Task{ID: "a", OnSkip: func(error) { skipped = append(skipped, "a") }}))
	require.NoError(t, pool.Submit(Task{ID: "b"}))

	assert.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, []string{"a"}, skipped)
	assert.ErrorIs(t, pool.Submit(Task{ID: "x"}), ErrStopped)
}

func TestPool_NilBody(t *testing.T) {
	var got Result
	var wg sync.WaitGroup
	wg.Add(1)
	pool := NewPool(1, 1, logger.Discard(), WithResultHook(func(r Result) {
		got = r
		wg.Done()
	}))
	pool.Start()
	require.NoError(t, pool.Submit(Task{ID: "empty"}))
	wg.Wait()
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(got.Err))
}

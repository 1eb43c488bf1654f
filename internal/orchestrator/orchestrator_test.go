package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agents"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/breaker"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cache"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify/notifytest"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/analytics"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/httpx"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/llm"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store/memstore"
)

var start = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

type funcAgent struct {
	kind    model.AgentKind
	fn      func(ctx context.Context, input map[string]any) (agent.Result, error)
	summary string
}

func (f funcAgent) Kind() model.AgentKind { return f.kind }

func (f funcAgent) Execute(ctx context.Context, _ map[string]any, _ model.AgentTask, input map[string]any) (agent.Result, error) {
	return f.fn(ctx, input)
}

func (f funcAgent) Summarize(agent.Result) string { return f.summary }

type harness struct {
	orch     *Orchestrator
	store    *memstore.Store
	recorder *notifytest.Recorder
	notifier *notify.Notifier
}

func newHarness(t *testing.T, clk clock.Clock, cfg Config, as ...agent.Agent) *harness {
	t.Helper()
	reg := agent.NewRegistry()
	for _, a := range as {
		require.NoError(t, reg.Register(a))
	}
	st := memstore.New()
	rec := notifytest.NewRecorder()
	n := notify.New(notify.Config{Clock: clk}, logger.Discard(), rec)
	t.Cleanup(func() { _ = n.Close(context.Background()) })
	if cfg.Retry.Jitter == nil {
		cfg.Retry.Jitter = retry.NoJitter
	}
	o := New(cfg, Deps{
		Registry:  reg,
		Store:     st,
		Notifier:  n,
		Coalescer: notify.NewCoalescer(st, clk, logger.Discard()),
		Clock:     clk,
	})
	return &harness{orch: o, store: st, recorder: rec, notifier: n}
}

func async(fn func() (model.AgentTask, error)) <-chan model.AgentTask {
	ch := make(chan model.AgentTask, 1)
	go func() {
		task, _ := fn()
		ch <- task
	}()
	return ch
}

func await(t *testing.T, ch <-chan model.AgentTask) model.AgentTask {
	t.Helper()
	select {
	case task := <-ch:
		return task
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
		return model.AgentTask{}
	}
}

func TestExecute_Success(t *testing.T) {
	clk := clock.NewFake(start)
	h := newHarness(t, clk, Config{}, funcAgent{
		kind:    model.TrendMonitor,
		summary: "アラート: 2件",
		fn: func(ctx context.Context, _ map[string]any) (agent.Result, error) {
			agent.Note(ctx, "info", "searching")
			return agent.Result{agent.KeyItemsProcessed: 2, agent.KeyItemsSucceeded: 2, agents.KeyAlertsCreated: 2}, nil
		},
	})

	task, err := h.orch.Execute(context.Background(), Request{Kind: model.TrendMonitor, Trigger: model.TriggerScheduled})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, task.Status)
	assert.Equal(t, 1, task.Attempt)
	assert.EqualValues(t, 2, task.Result[agents.KeyAlertsCreated])

	stored, err := h.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, stored.Status)
	require.NotNil(t, stored.FinishedAt)

	logs, err := h.store.ListLogs(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "searching", logs[0].Message)

	require.True(t, h.recorder.WaitFor(1, time.Second))
	e := h.recorder.Events()[0]
	assert.Equal(t, notify.LevelInfo, e.Level)
	assert.Contains(t, e.Title, "trend_monitor")
	assert.True(t, strings.HasSuffix(e.Message, "アラート: 2件"), e.Message)
	assert.Equal(t, 0, h.orch.InFlight())
}

func TestExecute_UnknownAndDisabled(t *testing.T) {
	h := newHarness(t, clock.NewFake(start), Config{}, funcAgent{kind: model.QAChecker})

	_, err := h.orch.Execute(context.Background(), Request{Kind: model.KeywordResearcher})
	assert.True(t, apperr.Is(err, apperr.UnknownAgent))

	require.NoError(t, h.store.SeedAgent(context.Background(), model.AgentDefinition{Kind: model.QAChecker, Enabled: false}))
	_, err = h.orch.Execute(context.Background(), Request{Kind: model.QAChecker})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

// LLM-A times out twice, then answers; waits are 1s and 2s plus jitter.
func TestExecute_RetryThenSuccess(t *testing.T) {
	clk := clock.NewFake(start)
	scorer := llm.NewScriptedCompleter(
		llm.Step{Err: apperr.New(apperr.Timeout, "anthropic", "complete", "deadline exceeded")},
		llm.Step{Err: apperr.New(apperr.Timeout, "anthropic", "complete", "deadline exceeded")},
		llm.Step{Content: `{"hook":20,"structure":20,"target":20,"cta":20,"feedback":"ok"}`},
	)
	qa := agents.NewQAChecker(agents.Deps{Store: memstore.New(), LLMA: scorer, Clock: clk})
	jitter := 250 * time.Millisecond
	h := newHarness(t, clk, Config{Retry: retry.Policy{Jitter: func() time.Duration { return jitter }}}, qa)

	done := async(func() (model.AgentTask, error) {
		return h.orch.Execute(context.Background(), Request{Kind: model.QAChecker, Input: map[string]any{"script": "台本"}})
	})

	// The deadline timer plus one backoff wait.
	require.True(t, clk.BlockUntil(2, time.Second))
	clk.Advance(time.Second + jitter)
	require.True(t, clk.BlockUntil(2, time.Second))
	clk.Advance(2*time.Second + jitter)

	task := await(t, done)
	assert.Equal(t, model.StatusSucceeded, task.Status)
	assert.Equal(t, 3, task.Attempt)
	assert.Equal(t, 3*time.Second+2*jitter, task.Duration())
	assert.Equal(t, 3, scorer.Calls())
	assert.EqualValues(t, 80, task.Result[agents.KeyOverallScore])
}

// The body sleeps 15s against a 10s deadline.
func TestExecute_Timeout(t *testing.T) {
	clk := clock.NewFake(start)
	h := newHarness(t, clk, Config{Deadline: 10 * time.Second}, funcAgent{
		kind: model.PerformanceTracker,
		fn: func(ctx context.Context, _ map[string]any) (agent.Result, error) {
			if err := clock.Sleep(ctx, clk, 15*time.Second); err != nil {
				return nil, err
			}
			return agent.Result{}, nil
		},
	})

	done := async(func() (model.AgentTask, error) {
		return h.orch.Execute(context.Background(), Request{Kind: model.PerformanceTracker})
	})
	require.True(t, clk.BlockUntil(2, time.Second))
	clk.Advance(10 * time.Second)

	task := await(t, done)
	assert.Equal(t, model.StatusTimedOut, task.Status)
	assert.Equal(t, 10*time.Second, task.Duration())
	assert.EqualValues(t, 10_000, task.DurationMS)
	assert.Equal(t, apperr.Timeout.String(), task.ErrorKind)

	require.True(t, h.recorder.WaitFor(1, time.Second))
	assert.Equal(t, notify.LevelError, h.recorder.Events()[0].Level)
}

func TestExecute_TimeoutIgnoredByBody(t *testing.T) {
	clk := clock.NewFake(start)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h := newHarness(t, clk, Config{Deadline: time.Minute}, funcAgent{
		kind: model.ContentScheduler,
		fn: func(context.Context, map[string]any) (agent.Result, error) {
			<-release
			return agent.Result{}, nil
		},
	})

	done := async(func() (model.AgentTask, error) {
		return h.orch.Execute(context.Background(), Request{Kind: model.ContentScheduler})
	})
	require.True(t, clk.BlockUntil(1, time.Second))
	clk.Advance(time.Minute)

	task := await(t, done)
	assert.Equal(t, model.StatusTimedOut, task.Status)
}

// The analytics provider answers 503 on every attempt; the comparison is
// written from fallback data and the run succeeds with a warn.
func TestExecute_DegradedAnalytics(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	providerClock := clock.NewAutoFake(start)
	// A breaker threshold above the six attempts keeps every call on the wire.
	br := breaker.New(analytics.Provider, 10, time.Minute, providerClock)
	an := analytics.New(analytics.Config{APIKey: "k", BaseURL: srv.URL}, httpx.Deps{Clock: providerClock, Breaker: br},
		cache.NewLayer(cache.NewMemoryStore(providerClock), logger.Discard()))

	h := newHarness(t, clock.Real{}, Config{})
	ca := agents.NewCompetitorAnalyzer(agents.Deps{Store: h.store, Platform: nil, Analytics: an})
	require.NoError(t, h.orch.registry.Register(ca))
	require.NoError(t, h.store.SeedAgent(context.Background(), model.AgentDefinition{
		Kind: model.CompetitorAnalyzer, Enabled: true, Config: map[string]any{"channels": []any{"UC1"}},
	}))

	task, err := h.orch.Execute(context.Background(), Request{Kind: model.CompetitorAnalyzer})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, task.Status)
	assert.EqualValues(t, 6, calls.Load(), "stats and history each tried three times")

	recs := h.store.CompetitorRecords()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsFallback)
	assert.Equal(t, analytics.MockStats("UC1").Subscribers, recs[0].Subscribers)

	require.True(t, h.recorder.WaitFor(1, time.Second))
	e := h.recorder.Events()[0]
	assert.Equal(t, notify.LevelWarn, e.Level)
	assert.Equal(t, "true", e.Fields["is_fallback"])
}

func TestExecute_NonRetryableFailsOnce(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, clock.NewFake(start), Config{}, funcAgent{
		kind: model.KeywordResearcher,
		fn: func(context.Context, map[string]any) (agent.Result, error) {
			calls.Add(1)
			return nil, apperr.New(apperr.InvalidInput, "", "keyword", "no seeds")
		},
	})

	task, err := h.orch.Execute(context.Background(), Request{Kind: model.KeywordResearcher})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Equal(t, apperr.InvalidInput.String(), task.ErrorKind)
	assert.EqualValues(t, 1, calls.Load())
	require.True(t, h.recorder.WaitFor(1, time.Second))
	assert.Equal(t, notify.LevelError, h.recorder.Events()[0].Level)
}

func TestExecute_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, clock.NewAutoFake(start), Config{Deadline: time.Hour}, funcAgent{
		kind: model.KeywordResearcher,
		fn: func(context.Context, map[string]any) (agent.Result, error) {
			calls.Add(1)
			return nil, apperr.New(apperr.Unavailable, "youtube", "search", "503")
		},
	})

	task, err := h.orch.Execute(context.Background(), Request{Kind: model.KeywordResearcher})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Equal(t, 3, task.Attempt)
	assert.EqualValues(t, 3, calls.Load())
}

func TestExecute_CriticalSuspendsKind(t *testing.T) {
	h := newHarness(t, clock.NewFake(start), Config{}, funcAgent{
		kind: model.CommentResponder,
		fn: func(context.Context, map[string]any) (agent.Result, error) {
			return nil, apperr.New(apperr.Unauthorized, "youtube", "list_comment_threads", "invalid credentials")
		},
	})

	task, err := h.orch.Execute(context.Background(), Request{Kind: model.CommentResponder})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, task.Status)
	require.True(t, h.recorder.WaitFor(1, time.Second))
	assert.Equal(t, notify.LevelCritical, h.recorder.Events()[0].Level)

	_, suspended := h.orch.Suspended(model.CommentResponder)
	assert.True(t, suspended)
	assert.Contains(t, h.orch.SuspendedKinds(), model.CommentResponder)
	assert.True(t, h.orch.Resume(model.CommentResponder))
	_, suspended = h.orch.Suspended(model.CommentResponder)
	assert.False(t, suspended)
	assert.False(t, h.orch.Resume(model.CommentResponder))
}

func TestCancel_InFlight(t *testing.T) {
	clk := clock.NewFake(start)
	h := newHarness(t, clk, Config{}, funcAgent{
		kind: model.TrendMonitor,
		fn: func(ctx context.Context, _ map[string]any) (agent.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	task, err := h.orch.Prepare(context.Background(), Request{Kind: model.TrendMonitor})
	require.NoError(t, err)

	done := async(func() (model.AgentTask, error) { return h.orch.Run(context.Background(), task) })
	require.Eventually(t, func() bool { return h.orch.InFlight() == 1 }, time.Second, time.Millisecond)

	_, err = h.orch.Run(context.Background(), task)
	assert.Error(t, err, "a pending copy of a running task is rejected")

	require.NoError(t, h.orch.Cancel(context.Background(), task.ID))
	final := await(t, done)
	assert.Equal(t, model.StatusCancelled, final.Status)
	assert.Equal(t, apperr.Cancelled.String(), final.ErrorKind)
}

func TestCancel_Pending(t *testing.T) {
	h := newHarness(t, clock.NewFake(start), Config{}, funcAgent{kind: model.TrendMonitor})
	ctx := context.Background()
	task, err := h.orch.Prepare(ctx, Request{Kind: model.TrendMonitor})
	require.NoError(t, err)

	require.NoError(t, h.orch.Cancel(ctx, task.ID))
	stored, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, stored.Status)

	assert.Error(t, h.orch.Cancel(ctx, task.ID), "terminal tasks stay terminal")
	assert.True(t, apperr.Is(h.orch.Cancel(ctx, uuid.New()), apperr.NotFound))
}

func TestAbandon_QueuedTask(t *testing.T) {
	h := newHarness(t, clock.NewFake(start), Config{}, funcAgent{kind: model.ContentScheduler})
	ctx := context.Background()
	task, err := h.orch.Prepare(ctx, Request{Kind: model.ContentScheduler})
	require.NoError(t, err)

	require.NoError(t, h.orch.Abandon(ctx, task.ID, errors.New("dropped at shutdown")))
	stored, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, stored.Status)
	assert.Equal(t, "dropped at shutdown", stored.ErrorMessage)
	require.NotNil(t, stored.FinishedAt)

	require.True(t, h.recorder.WaitFor(1, time.Second))
	e := h.recorder.Events()[0]
	assert.Equal(t, notify.LevelError, e.Level)
	assert.Equal(t, task.ID.String(), e.Fields["task_id"])

	assert.Error(t, h.orch.Abandon(ctx, task.ID, errors.New("again")), "terminal tasks stay terminal")
}

func TestExecute_PanicIsInternalFailure(t *testing.T) {
	h := newHarness(t, clock.NewFake(start), Config{}, funcAgent{
		kind: model.QAChecker,
		fn: func(context.Context, map[string]any) (agent.Result, error) {
			panic("boom")
		},
	})
	task, err := h.orch.Execute(context.Background(), Request{Kind: model.QAChecker})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Equal(t, apperr.Internal.String(), task.ErrorKind)
}

func TestExecute_FailureGuardWarnsOncePerDay(t *testing.T) {
	h := newHarness(t, clock.NewFake(start), Config{}, funcAgent{
		kind: model.ContentScheduler,
		fn: func(context.Context, map[string]any) (agent.Result, error) {
			return nil, apperr.New(apperr.InvalidInput, "", "content", "bad")
		},
	})
	for range 4 {
		_, err := h.orch.Execute(context.Background(), Request{Kind: model.ContentScheduler})
		require.NoError(t, err)
	}
	require.True(t, h.recorder.WaitFor(5, time.Second))
	time.Sleep(20 * time.Millisecond)
	warns := h.recorder.ByLevel(notify.LevelWarn)
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Title, "repeated failures")
	assert.Len(t, h.recorder.ByLevel(notify.LevelError), 4)
}

func TestExecute_RunBudgetFromPlan(t *testing.T) {
	var remaining atomic.Int64
	h := newHarness(t, clock.NewFake(start), Config{Plan: quota.DefaultPlan}, funcAgent{
		kind: model.CompetitorAnalyzer,
		fn: func(ctx context.Context, _ map[string]any) (agent.Result, error) {
			remaining.Store(quota.BudgetFrom(ctx).Remaining())
			return agent.Result{}, nil
		},
	})

	_, err := h.orch.Execute(context.Background(), Request{Kind: model.CompetitorAnalyzer, Input: map[string]any{"mode": "weekly"}})
	require.NoError(t, err)
	assert.EqualValues(t, 200, remaining.Load())
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cron"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/orchestrator"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store/memstore"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/workers"
)

type stubAgent struct {
	kind model.AgentKind
	fn   func(ctx context.Context) (agent.Result, error)
}

func (s stubAgent) Kind() model.AgentKind { return s.kind }

func (s stubAgent) Execute(ctx context.Context, _ map[string]any, _ model.AgentTask, _ map[string]any) (agent.Result, error) {
	return s.fn(ctx)
}

type rejectingPool struct{}

func (rejectingPool) Submit(workers.Task) error { return workers.ErrQueueFull }

type staticSchedules []cron.Fire

func (s staticSchedules) Upcoming(n int) []cron.Fire {
	return s[:min(n, len(s))]
}

type fixture struct {
	srv     *httptest.Server
	store   *memstore.Store
	release chan struct{}
}

func newFixture(t *testing.T, mutate func(d *Deps)) *fixture {
	t.Helper()
	release := make(chan struct{})
	reg := agent.NewRegistry()
	reg.MustRegister(
		stubAgent{kind: model.TrendMonitor, fn: func(context.Context) (agent.Result, error) {
			return agent.Result{"alerts": 2}, nil
		}},
		stubAgent{kind: model.QAChecker, fn: func(ctx context.Context) (agent.Result, error) {
			select {
			case <-release:
				return agent.Result{}, nil
			case <-ctx.Done():
				return nil, context.Cause(ctx)
			}
		}},
	)
	st := memstore.New()
	orch := orchestrator.New(orchestrator.Config{
		Retry: retry.Policy{MaxAttempts: 1, Jitter: retry.NoJitter},
	}, orchestrator.Deps{Registry: reg, Store: st})

	pool := workers.NewPool(2, 10, logger.Discard())
	pool.Start()
	t.Cleanup(func() {
		close(release)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	deps := Deps{
		Orchestrator: orch,
		Pool:         pool,
		Runs:         st,
		Quota:        quota.NewBroker(map[string]quota.Limits{"youtube": quota.SearchPlatformLimits()}),
		Schedules: staticSchedules{
			{Name: "content_scheduler", Kind: model.ContentScheduler, Expr: "0 8 * * *", At: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)},
			{Name: "trend_monitor", Kind: model.TrendMonitor, Expr: "0 9,15,21 * * *", At: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
		},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ytagent_up 1\n"))
		}),
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: st, release: release}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decodeTask(t *testing.T, body []byte) model.AgentTask {
	t.Helper()
	var task model.AgentTask
	require.NoError(t, json.Unmarshal(body, &task), string(body))
	return task
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newFixture(t, func(d *Deps) {
		d.Health = func(context.Context) error { return errors.New("database unreachable") }
	})
	resp, body := down.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "database unreachable")
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ytagent_up 1")
}

func TestCreateTask_Wait(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodPost, "/api/v1/tasks?wait=true", map[string]any{
		"agent_kind": "trend_monitor",
		"input_data": map[string]any{"keywords": []string{"ai"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	task := decodeTask(t, body)
	assert.Equal(t, model.StatusSucceeded, task.Status)
	assert.Equal(t, model.TriggerManual, task.Trigger)
	assert.EqualValues(t, 2, task.Result["alerts"])

	resp, body = f.do(t, http.MethodGet, "/api/v1/agents/trend_monitor/latest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, task.ID, decodeTask(t, body).ID)

	resp, body = f.do(t, http.MethodGet, "/api/v1/agents/trend_monitor/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []model.AgentTask
	require.NoError(t, json.Unmarshal(body, &runs))
	assert.Len(t, runs, 1)
}

func TestCreateTask_AsyncAndCancel(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodPost, "/api/v1/tasks", map[string]any{"agent_kind": "qa_checker"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	task := decodeTask(t, body)
	assert.Equal(t, model.StatusPending, task.Status)

	require.Eventually(t, func() bool {
		got, err := f.store.GetTask(context.Background(), task.ID)
		return err == nil && got.Status == model.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		got, err := f.store.GetTask(context.Background(), task.ID)
		return err == nil && got.Status == model.StatusCancelled
	}, 5*time.Second, 10*time.Millisecond)

	resp, body = f.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StatusCancelled, decodeTask(t, body).Status)

	// A finished task cannot be cancelled again.
	resp, _ = f.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateTask_QueueFull(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Pool = rejectingPool{} })
	resp, body := f.do(t, http.MethodPost, "/api/v1/tasks", map[string]any{"agent_kind": "trend_monitor"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "queue")

	runs, err := f.store.ListRuns(context.Background(), storeFilter(model.TrendMonitor))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.StatusCancelled, runs[0].Status)
}

func TestCreateTask_BadRequests(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"unknown kind", map[string]any{"agent_kind": "video_editor"}, http.StatusBadRequest},
		{"missing kind", map[string]any{}, http.StatusBadRequest},
		{"bad knowledge id", map[string]any{"agent_kind": "trend_monitor", "knowledge_id": "nope"}, http.StatusBadRequest},
		{"unregistered kind", map[string]any{"agent_kind": "keyword_researcher"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/api/v1/tasks", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, string(body))
		})
	}
}

func TestTaskLookups(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/tasks/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/tasks/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/agents/comment_responder/latest", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/agents/video_editor/runs", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/agents/trend_monitor/runs?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResumeAndSuspended(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/api/v1/agents/trend_monitor/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"agent_kind":"trend_monitor","resumed":false}`, string(body))

	resp, body = f.do(t, http.MethodGet, "/api/v1/agents/suspended", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{}`, string(body))
}

func TestQuotaUsage(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/api/v1/quota/youtube", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var usage model.QuotaCounter
	require.NoError(t, json.Unmarshal(body, &usage))
	assert.Equal(t, "youtube", usage.Provider)
	assert.Equal(t, int64(10_000), usage.Limit)
	assert.Zero(t, usage.Used)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/quota/serp", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpcomingSchedules(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/api/v1/schedules?count=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fires []cron.Fire
	require.NoError(t, json.Unmarshal(body, &fires))
	require.Len(t, fires, 1)
	assert.Equal(t, "content_scheduler", fires[0].Name)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/schedules?count=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProviderStatus(t *testing.T) {
	f := newFixture(t, nil)
	resp, _ := f.do(t, http.MethodGet, "/api/v1/providers", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f = newFixture(t, func(d *Deps) {
		d.Providers = func() any {
			return []map[string]any{{"name": "youtube", "configured": true, "breaker": "closed"}}
		}
	})
	resp, body := f.do(t, http.MethodGet, "/api/v1/providers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"name":"youtube","configured":true,"breaker":"closed"}]`, string(body))
}

func storeFilter(kind model.AgentKind) store.RunFilter {
	return store.RunFilter{Kind: kind}
}

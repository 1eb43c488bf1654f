package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agents"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/config"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify/notifytest"
)

var categories = []string{"gaming", "music", "education", "vtuber", "cooking"}

const itemsPerCategory = 2

// platformFixture serves the search platform and the trends engine.
type platformFixture struct {
	youtube  *httptest.Server
	serp     *httptest.Server
	searches atomic.Int64
}

func newPlatformFixture(t *testing.T) *platformFixture {
	t.Helper()
	f := &platformFixture{}
	f.youtube = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("key") == "" {
			http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
			return
		}
		f.searches.Add(1)
		q := r.URL.Query().Get("q")
		items := make([]map[string]any, 0, itemsPerCategory)
		for i := range itemsPerCategory {
			items = append(items, map[string]any{
				"id": map[string]string{"videoId": fmt.Sprintf("%s-%d", strings.ReplaceAll(q, " ", "-"), i)},
				"snippet": map[string]string{
					"title":        fmt.Sprintf("%s video %d", q, i),
					"channelId":    "UC" + q,
					"channelTitle": q + " channel",
					"publishedAt":  "2026-03-09T12:00:00Z",
				},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}))
	t.Cleanup(f.youtube.Close)

	f.serp = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"related_queries": map[string]any{
				"rising": []map[string]any{{"query": q + " 2026", "extracted_value": 350}},
			},
		})
	}))
	t.Cleanup(f.serp.Close)
	return f
}

// testConfig runs only the trend monitor at 09:00 against the fixture.
func testConfig(t *testing.T, f *platformFixture) *config.Config {
	t.Helper()
	dir := t.TempDir()
	agentsFile := filepath.Join(dir, "agents.yaml")
	content := "agents:\n  trend_monitor:\n    config:\n      categories: [" + strings.Join(categories, ", ") + "]\n"
	require.NoError(t, os.WriteFile(agentsFile, []byte(content), 0o600))

	cfg := config.Default()
	cfg.App.AgentsFile = agentsFile
	cfg.App.Environment = "test"
	cfg.Schedules = map[string]string{
		"trend_monitor":              "0 9 * * *",
		"competitor_analyzer":        "off",
		"competitor_analyzer_weekly": "off",
		"comment_responder":          "off",
		"content_scheduler":          "off",
		"performance_tracker":        "off",
		"keyword_researcher":         "off",
		"daily_report":               "off",
	}
	if f != nil {
		cfg.Providers.YouTube.APIKey = "yt-test-key-0001"
		cfg.Providers.YouTube.BaseURL = f.youtube.URL
		cfg.Providers.Serp.APIKey = "serp-test-key-0001"
		cfg.Providers.Serp.BaseURL = f.serp.URL
		cfg.Providers.Serp.RatePerSecond = 100
		cfg.Providers.Serp.Burst = 10
	}
	require.Empty(t, cfg.Validate())
	return cfg
}

func tokyo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := clock.LoadZone("Asia/Tokyo")
	require.NoError(t, err)
	return loc
}

func waitForEvent(t *testing.T, rec *notifytest.Recorder, match func(notify.Event) bool) notify.Event {
	t.Helper()
	var found notify.Event
	require.Eventually(t, func() bool {
		for _, e := range rec.Events() {
			if match(e) {
				found = e
				return true
			}
		}
		return false
	}, 10*time.Second, 10*time.Millisecond)
	return found
}

func deployEvent(status string) func(notify.Event) bool {
	return func(e notify.Event) bool {
		return e.Kind == notify.KindDeploy && e.Fields["status"] == status
	}
}

func TestApp_ScheduledTrendMonitor(t *testing.T) {
	f := newPlatformFixture(t)
	cfg := testConfig(t, f)
	start := time.Date(2026, 3, 10, 8, 59, 59, 500_000_000, tokyo(t))
	clk := clock.NewFake(start)
	rec := notifytest.NewRecorder()

	a := New(cfg, logger.Discard(), WithClock(clk), WithSinks(rec), WithoutServer())
	require.NoError(t, a.Initialize(context.Background()))
	require.NoError(t, a.Start())
	t.Cleanup(a.Close)

	waitForEvent(t, rec, deployEvent("started"))

	// The quota reset loop and the scheduler both wait on the clock.
	require.True(t, clk.BlockUntil(2, 5*time.Second))
	clk.Advance(500 * time.Millisecond)

	alert := waitForEvent(t, rec, func(e notify.Event) bool {
		return e.Kind == notify.KindAlert && e.Fields["agent_kind"] == string(model.TrendMonitor)
	})
	want := len(categories) * itemsPerCategory
	assert.Equal(t, notify.LevelInfo, alert.Level)
	assert.Contains(t, alert.Title, "trend_monitor")
	assert.True(t, strings.HasSuffix(alert.Message, fmt.Sprintf("アラート: %d件", want)), alert.Message)

	ctx := context.Background()
	task, err := a.Store().LatestByKind(ctx, model.TrendMonitor)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, task.Status)
	assert.Equal(t, model.TriggerScheduled, task.Trigger)
	require.NotNil(t, task.StartedAt)
	assert.WithinDuration(t, time.Date(2026, 3, 10, 9, 0, 0, 0, tokyo(t)), *task.StartedAt, time.Second)
	assert.Equal(t, int64(want), agent.Result(task.Result).Int(agents.KeyAlertsCreated))

	usage, err := a.Quota().Usage(ctx, "youtube")
	require.NoError(t, err)
	assert.Equal(t, int64(500), usage.Used)
	assert.Equal(t, int64(len(categories)), f.searches.Load())

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(sctx))
	ev := waitForEvent(t, rec, deployEvent("stopped"))
	assert.Equal(t, "test", ev.Fields["environment"])
}

func TestApp_RunOnce(t *testing.T) {
	f := newPlatformFixture(t)
	cfg := testConfig(t, f)
	rec := notifytest.NewRecorder()

	a := New(cfg, logger.Discard(), WithSinks(rec), WithoutServer())
	require.NoError(t, a.Initialize(context.Background()))
	t.Cleanup(a.Close)

	task, err := a.RunOnce(context.Background(), model.TrendMonitor, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, task.Status)
	assert.Equal(t, model.TriggerManual, task.Trigger)
	assert.Equal(t, 1, task.Attempt)

	// A second run finds nothing new within the novelty window and hits the cache.
	task, err = a.RunOnce(context.Background(), model.TrendMonitor, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), agent.Result(task.Result).Int(agents.KeyAlertsCreated))
	assert.Equal(t, int64(len(categories)), f.searches.Load())
}

func TestApp_UnconfiguredProviderSuspendsKind(t *testing.T) {
	cfg := testConfig(t, nil)
	a := New(cfg, logger.Discard(), WithoutServer())
	require.NoError(t, a.Initialize(context.Background()))
	t.Cleanup(a.Close)

	task, err := a.RunOnce(context.Background(), model.TrendMonitor, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, task.Status)
	assert.Equal(t, "misconfigured", task.ErrorKind)

	reason, suspended := a.Orchestrator().Suspended(model.TrendMonitor)
	assert.True(t, suspended)
	assert.NotEmpty(t, reason)
}

func TestApp_HTTPSurface(t *testing.T) {
	f := newPlatformFixture(t)
	cfg := testConfig(t, f)
	a := New(cfg, logger.Discard(), WithoutServer())
	require.NoError(t, a.Initialize(context.Background()))
	t.Cleanup(a.Close)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/providers")
	require.NoError(t, err)
	var status []struct {
		Name       string `json:"name"`
		Configured bool   `json:"configured"`
		Breaker    string `json:"breaker"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	require.Len(t, status, 8)
	assert.Equal(t, "youtube", status[0].Name)
	assert.True(t, status[0].Configured)

	resp, err = http.Get(srv.URL + "/api/v1/schedules?count=2")
	require.NoError(t, err)
	var fires []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fires))
	resp.Body.Close()
	require.Len(t, fires, 2)
	assert.Equal(t, "trend_monitor", fires[0]["name"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApp_InitializeErrors(t *testing.T) {
	t.Run("unknown zone", func(t *testing.T) {
		cfg := testConfig(t, nil)
		cfg.App.Zone = "Mars/Olympus"
		a := New(cfg, logger.Discard(), WithoutServer())
		assert.Error(t, a.Initialize(context.Background()))
		a.Close()
	})

	t.Run("unknown agent in agents file", func(t *testing.T) {
		cfg := testConfig(t, nil)
		require.NoError(t, os.WriteFile(cfg.App.AgentsFile, []byte("agents:\n  video_editor: {}\n"), 0o600))
		a := New(cfg, logger.Discard(), WithoutServer())
		assert.ErrorContains(t, a.Initialize(context.Background()), "video_editor")
		a.Close()
	})

	t.Run("twice", func(t *testing.T) {
		a := New(testConfig(t, nil), logger.Discard(), WithoutServer())
		require.NoError(t, a.Initialize(context.Background()))
		t.Cleanup(a.Close)
		assert.Error(t, a.Initialize(context.Background()))
	})
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.Server.Addr = "127.0.0.1:0"
	rec := notifytest.NewRecorder()
	a := New(cfg, logger.Discard(), WithSinks(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitForEvent(t, rec, deployEvent("started"))
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	waitForEvent(t, rec, deployEvent("stopped"))
}

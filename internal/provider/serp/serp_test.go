package serp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cache"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/httpx"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
)

func newClient(t *testing.T, apiKey string, h http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	layer := cache.NewLayer(cache.NewMemoryStore(clock.Real{}), logger.Discard())
	deps := httpx.Deps{Clock: clock.NewAutoFake(clock.Real{}.Now())}
	return New(Config{APIKey: apiKey, BaseURL: srv.URL, Retry: retry.Policy{Jitter: retry.NoJitter}}, deps, layer), &calls
}

func TestTrends_DecodesAndCaches(t *testing.T) {
	c, calls := newClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "google_trends", r.URL.Query().Get("engine"))
		assert.Equal(t, "JP", r.URL.Query().Get("geo"))
		assert.Equal(t, "k", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"related_queries":{
			"rising":[{"query":"ゲーム 実況","extracted_value":350},{"query":"switch 2","extracted_value":120}],
			"top":[{"query":"ゲーム 実況","extracted_value":100},{"query":"minecraft","extracted_value":80}]}}`))
	})

	tr, err := c.Trends(context.Background(), "ゲーム", "JP")
	require.NoError(t, err)
	assert.Equal(t, []string{"ゲーム 実況", "switch 2", "minecraft"}, tr.Terms())
	assert.EqualValues(t, 350, tr.Rising[0].Value)

	_, err = c.Trends(context.Background(), "ゲーム", "JP")
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestTrends_RetriesTwiceThenFails(t *testing.T) {
	c, calls := newClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Trends(context.Background(), "x", "")
	assert.True(t, apperr.Is(err, apperr.Unavailable))
	assert.EqualValues(t, 3, calls.Load())
}

func TestErrorFieldMapping(t *testing.T) {
	tests := []struct {
		body string
		want apperr.Kind
	}{
		{`{"error":"Your account has run out of searches."}`, apperr.QuotaExhausted},
		{`{"error":"Invalid API key. Your API key should be here"}`, apperr.Unauthorized},
		{`{"error":"Google hasn't returned any results for this query."}`, apperr.NotFound},
	}
	for _, tt := range tests {
		c, _ := newClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(tt.body))
		})
		_, err := c.WebSearch(context.Background(), "q")
		assert.True(t, apperr.Is(err, tt.want), tt.body)
	}
}

func TestNewsAndBooks(t *testing.T) {
	c, _ := newClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("engine") {
		case "google_news":
			_, _ = w.Write([]byte(`{"news_results":[{"title":"n1","link":"l","date":"today","source":{"name":"NHK"}}]}`))
		default:
			assert.Equal(t, "bks", r.URL.Query().Get("tbm"))
			_, _ = w.Write([]byte(`{"organic_results":[{"title":"b1","link":"l","snippet":"s"}]}`))
		}
	})

	news, err := c.News(context.Background(), "youtube")
	require.NoError(t, err)
	assert.Equal(t, "NHK", news[0].Source)

	books, err := c.Books(context.Background(), "youtube")
	require.NoError(t, err)
	assert.Equal(t, "b1", books[0].Title)
}

func TestUnconfigured(t *testing.T) {
	c, calls := newClient(t, "", func(w http.ResponseWriter, r *http.Request) {})
	_, err := c.Trends(context.Background(), "x", "JP")
	assert.True(t, apperr.Is(err, apperr.Misconfigured))
	assert.False(t, c.Configured())
	assert.Zero(t, calls.Load())
}

package youtube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cache"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/httpx"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
)

const searchBody = `{"items":[
	{"id":{"videoId":"v1"},"snippet":{"title":"First","channelId":"UC1","channelTitle":"One","publishedAt":"2026-10-14T01:00:00Z"}},
	{"id":{"kind":"youtube#channel"},"snippet":{"title":"not a video"}},
	{"id":{"videoId":"v2"},"snippet":{"title":"Second","channelId":"UC2","channelTitle":"Two","publishedAt":"2026-10-14T02:00:00Z"}}
]}`

type fixture struct {
	client *Client
	broker *quota.Broker
	calls  atomic.Int32
}

func newFixture(t *testing.T, apiKey string, h http.HandlerFunc) *fixture {
	t.Helper()
	f := &fixture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	f.broker = quota.NewBroker(map[string]quota.Limits{Provider: quota.SearchPlatformLimits()})
	layer := cache.NewLayer(cache.NewMemoryStore(clock.Real{}), logger.Discard())
	f.client = New(Config{APIKey: apiKey, BaseURL: srv.URL, Retry: retry.Policy{MaxAttempts: 1}}, httpx.Deps{}, f.broker, layer)
	return f
}

func (f *fixture) used(t *testing.T) int64 {
	u, err := f.broker.Usage(context.Background(), Provider)
	require.NoError(t, err)
	return u.Used
}

func TestSearchVideos_ChargesOnceAndCaches(t *testing.T) {
	f := newFixture(t, "key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "gaming", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(searchBody))
	})
	ctx := context.Background()

	got, err := f.client.SearchVideos(ctx, SearchParams{Query: "gaming", MaxResults: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v1", got[0].VideoID)
	assert.Equal(t, "UC2", got[1].ChannelID)
	assert.Equal(t, time.Date(2026, 10, 14, 2, 0, 0, 0, time.UTC), got[1].PublishedAt)
	assert.EqualValues(t, CostSearch, f.used(t))

	_, err = f.client.SearchVideos(ctx, SearchParams{Query: "gaming", MaxResults: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.calls.Load())
	assert.EqualValues(t, CostSearch, f.used(t))
}

func TestListVideos_DecodesStringCounts(t *testing.T) {
	f := newFixture(t, "key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a,b", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(`{"items":[
			{"id":"a","snippet":{"title":"A"},"statistics":{"viewCount":"1200","likeCount":"30","commentCount":"4"}},
			{"id":"b","snippet":{"title":"B"},"statistics":{"viewCount":"7"}}
		]}`))
	})

	got, err := f.client.ListVideos(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 1200, got[0].Views)
	assert.EqualValues(t, 30, got[0].Likes)
	assert.EqualValues(t, 0, got[1].Likes)
	assert.EqualValues(t, CostRead, f.used(t))
}

func TestListVideos_RejectsOversizedBatch(t *testing.T) {
	f := newFixture(t, "key", func(w http.ResponseWriter, r *http.Request) {})
	ids := make([]string, MaxIDsPerCall+1)
	_, err := f.client.ListVideos(context.Background(), ids)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
	assert.Zero(t, f.calls.Load())
}

func TestInsertComment_CostsFiftyUnits(t *testing.T) {
	f := newFixture(t, "key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"id":"reply-1"}`))
	})

	id, err := f.client.InsertComment(context.Background(), "thread-1", "thank you!")
	require.NoError(t, err)
	assert.Equal(t, "reply-1", id)
	assert.EqualValues(t, CostWrite, f.used(t))
}

func TestFailedCallIsRolledBack(t *testing.T) {
	f := newFixture(t, "key", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded"}]}}`))
	})

	_, err := f.client.SearchVideos(context.Background(), SearchParams{Query: "x"})
	assert.True(t, apperr.Is(err, apperr.QuotaExhausted))
	assert.Zero(t, f.used(t))
}

func TestCommentsDisabledIsNotFound(t *testing.T) {
	f := newFixture(t, "key", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"errors":[{"reason":"commentsDisabled"}]}}`))
	})

	_, err := f.client.ListCommentThreads(context.Background(), "v1", 20)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestUnconfiguredClientSpendsNothing(t *testing.T) {
	f := newFixture(t, "", func(w http.ResponseWriter, r *http.Request) {})

	_, err := f.client.ListChannels(context.Background(), []string{"UC1"})
	assert.True(t, apperr.Is(err, apperr.Misconfigured))
	assert.Zero(t, f.calls.Load())
	assert.Zero(t, f.used(t))
}

func TestRunBudgetStopsCalls(t *testing.T) {
	f := newFixture(t, "key", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(searchBody))
	})
	ctx := quota.WithBudget(context.Background(), quota.NewBudget(150))

	_, err := f.client.SearchVideos(ctx, SearchParams{Query: "a"})
	require.NoError(t, err)
	_, err = f.client.SearchVideos(ctx, SearchParams{Query: "b"})
	assert.True(t, apperr.Is(err, apperr.QuotaExhausted))
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestCommentThreads(t *testing.T) {
	f := newFixture(t, "key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v9", r.URL.Query().Get("videoId"))
		_, _ = w.Write([]byte(`{"items":[{"id":"t1","snippet":{"videoId":"v9","totalReplyCount":2,
			"topLevelComment":{"id":"c1","snippet":{"authorDisplayName":"fan","textDisplay":"<b>love</b> it","textOriginal":"love it","likeCount":3}}}}]}`))
	})

	threads, err := f.client.ListCommentThreads(context.Background(), "v9", 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "fan", threads[0].Author)
	assert.Equal(t, "<b>love</b> it", threads[0].TextDisplay)
	assert.EqualValues(t, 2, threads[0].ReplyCount)
}

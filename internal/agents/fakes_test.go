package agents

import (
	"context"
	"sync"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/analytics"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/serp"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/youtube"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store/memstore"
)

var tokyo = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		panic(err)
	}
	return loc
}()

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, tokyo)

type fakePlatform struct {
	mu         sync.Mutex
	configured bool
	results    map[string][]youtube.SearchResult
	searchErr  error
	videos     map[string]youtube.Video
	channels   map[string]youtube.Channel
	threads    map[string][]youtube.CommentThread
	insertErr  error

	searches []youtube.SearchParams
	inserted []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		configured: true,
		results:    make(map[string][]youtube.SearchResult),
		videos:     make(map[string]youtube.Video),
		channels:   make(map[string]youtube.Channel),
		threads:    make(map[string][]youtube.CommentThread),
	}
}

func (f *fakePlatform) Configured() bool { return f.configured }

func (f *fakePlatform) SearchVideos(_ context.Context, p youtube.SearchParams) ([]youtube.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, p)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	key := p.Query
	if p.ChannelID != "" {
		key = p.ChannelID
	}
	return f.results[key], nil
}

func (f *fakePlatform) ListVideos(_ context.Context, ids []string) ([]youtube.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []youtube.Video
	for _, id := range ids {
		if v, ok := f.videos[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakePlatform) ListChannels(_ context.Context, ids []string) ([]youtube.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []youtube.Channel
	for _, id := range ids {
		if c, ok := f.channels[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakePlatform) ListCommentThreads(_ context.Context, videoID string, _ int) ([]youtube.CommentThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	th, ok := f.threads[videoID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, youtube.Provider, "list_comment_threads", "comments disabled")
	}
	return th, nil
}

func (f *fakePlatform) InsertComment(_ context.Context, parentID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.inserted = append(f.inserted, parentID)
	return "reply-" + parentID, nil
}

func (f *fakePlatform) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searches)
}

type fakeTrends struct {
	configured bool
	trends     map[string]serp.Trends
	err        error
}

func (f *fakeTrends) Configured() bool { return f.configured }

func (f *fakeTrends) Trends(_ context.Context, query, _ string) (serp.Trends, error) {
	if f.err != nil {
		return serp.Trends{}, f.err
	}
	return f.trends[query], nil
}

func rising(terms ...string) serp.Trends {
	var t serp.Trends
	for _, q := range terms {
		t.Rising = append(t.Rising, serp.Term{Query: q, Value: 100})
	}
	return t
}

type fakeAnalytics struct {
	stats map[string]analytics.Stats
	err   error
}

func (f *fakeAnalytics) ChannelStats(_ context.Context, id string) (analytics.Stats, error) {
	if f.err != nil {
		return analytics.Stats{}, f.err
	}
	s, ok := f.stats[id]
	if !ok {
		return analytics.MockStats(id), nil
	}
	return s, nil
}

func (f *fakeAnalytics) Projections(_ context.Context, id string) (analytics.Projection, error) {
	if f.err != nil {
		return analytics.Projection{}, f.err
	}
	s, ok := f.stats[id]
	if !ok {
		return analytics.Projection{Subscribers30d: 1, IsFallback: true}, nil
	}
	return analytics.Projection{Subscribers30d: s.Subscribers + 1000, IsFallback: s.IsFallback}, nil
}

type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Configured() bool { return true }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

type alertCall struct {
	level notify.Level
	title string
}

type fakeAlerter struct {
	mu    sync.Mutex
	calls []alertCall
}

func (f *fakeAlerter) Alert(level notify.Level, title, _ string, _ map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, alertCall{level: level, title: title})
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testDeps(st *memstore.Store, p *fakePlatform) Deps {
	return Deps{
		Store:    st,
		Platform: p,
		Clock:    clock.NewFake(testNow),
		Zone:     tokyo,
	}
}

// flakyAlertStore fails the first trend alert save.
type flakyAlertStore struct {
	*memstore.Store
	failed bool
}

func (s *flakyAlertStore) SaveTrendAlerts(ctx context.Context, alerts []model.TrendAlert) error {
	if !s.failed {
		s.failed = true
		return apperr.New(apperr.Database, "postgres", "save_trend_alerts", "connection reset")
	}
	return s.Store.SaveTrendAlerts(ctx, alerts)
}

// Package analytics is the channel ranking and statistics client. It never
// leaves a caller empty-handed: when the provider is unconfigured or keeps
// failing, it answers with deterministic mock data flagged IsFallback.
package analytics

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cache"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/httpx"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
)

const (
	Provider       = "analytics"
	DefaultBaseURL = "https://matrix.sbapi.dev"
	defaultTimeout = 15 * time.Second
	maxHistoryDays = 30
)

// Stats is the current standing of a channel.
type Stats struct {
	ChannelID   string `json:"channel_id"`
	Title       string `json:"title"`
	Subscribers int64  `json:"subscribers"`
	Views       int64  `json:"views"`
	Videos      int64  `json:"videos"`
	Rank        int    `json:"rank"`
	Grade       string `json:"grade"`
	IsFallback  bool   `json:"is_fallback"`
}

// Point is one day of history.
type Point struct {
	Date        string `json:"date"`
	Subscribers int64  `json:"subscribers"`
	Views       int64  `json:"views"`
}

type History struct {
	ChannelID  string  `json:"channel_id"`
	Points     []Point `json:"points"`
	IsFallback bool    `json:"is_fallback"`
}

// Projection extrapolates the average daily gain of the history window.
type Projection struct {
	ChannelID       string `json:"channel_id"`
	Subscribers30d  int64  `json:"subscribers_30d"`
	Subscribers90d  int64  `json:"subscribers_90d"`
	Subscribers365d int64  `json:"subscribers_365d"`
	Views30d        int64  `json:"views_30d"`
	IsFallback      bool   `json:"is_fallback"`
}

type Config struct {
	ClientID string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Retry    retry.Policy
}

type Client struct {
	http   *httpx.Client
	cache  *cache.Layer
	clock  clock.Clock
	log    *logger.Logger
	apiKey string
}

func New(cfg Config, deps httpx.Deps, layer *cache.Layer) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	clientID, apiKey := cfg.ClientID, cfg.APIKey
	return &Client{
		cache:  layer,
		clock:  deps.Clock,
		log:    deps.Logger.With(logger.String("provider", Provider)),
		apiKey: apiKey,
		http: httpx.New(httpx.Config{
			Provider: Provider,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
			Retry:    cfg.Retry,
			Authorize: func(r *http.Request) {
				r.Header.Set("clientid", clientID)
				r.Header.Set("token", apiKey)
			},
		}, deps),
	}
}

func (c *Client) Configured() bool { return c.apiKey != "" }

type statisticsResponse struct {
	Status struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	} `json:"status"`
	Data struct {
		ID struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"id"`
		Statistics struct {
			Total struct {
				Uploads     int64 `json:"uploads"`
				Subscribers int64 `json:"subscribers"`
				Views       int64 `json:"views"`
			} `json:"total"`
		} `json:"statistics"`
		Ranks struct {
			SBRank int `json:"sbrank"`
		} `json:"ranks"`
		Misc struct {
			Grade struct {
				Grade string `json:"grade"`
			} `json:"grade"`
		} `json:"misc"`
		Daily []Point `json:"daily"`
	} `json:"data"`
}

func (c *Client) statistics(ctx context.Context, op, channelID string) (statisticsResponse, error) {
	return cache.GetOrLoad(ctx, c.cache, cache.Analytics, map[string]string{"channel": channelID},
		func(ctx context.Context) (statisticsResponse, error) {
			var resp statisticsResponse
			err := c.http.Do(ctx, httpx.Request{
				Op:    op,
				Path:  "/youtube/statistics",
				Query: url.Values{"query": {channelID}, "history": {"default"}},
			}, &resp)
			if err != nil {
				return resp, err
			}
			if !resp.Status.Success {
				return resp, apperr.New(apperr.NotFound, Provider, op, resp.Status.Error)
			}
			return resp, nil
		})
}

// degraded reports whether err should be answered with mock data.
func degraded(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.Unavailable, apperr.Timeout, apperr.RateLimited:
		return true
	}
	return false
}

func (c *Client) fallback(ctx context.Context, op, channelID string, err error) bool {
	if !c.Configured() {
		c.log.DebugCtx(ctx, "analytics not configured, using mock data",
			logger.String("op", op), logger.String("channel_id", channelID))
		return true
	}
	if degraded(err) {
		c.log.WarnCtx(ctx, "analytics unavailable, using mock data",
			logger.String("op", op), logger.String("channel_id", channelID), logger.Err(err))
		return true
	}
	return false
}

// ChannelStats returns the current statistics of channelID.
func (c *Client) ChannelStats(ctx context.Context, channelID string) (Stats, error) {
	const op = "channel_stats"
	if !c.Configured() {
		c.fallback(ctx, op, channelID, nil)
		return MockStats(channelID), nil
	}
	resp, err := c.statistics(ctx, op, channelID)
	if err != nil {
		if c.fallback(ctx, op, channelID, err) {
			return MockStats(channelID), nil
		}
		return Stats{}, err
	}
	d := resp.Data
	return Stats{
		ChannelID:   channelID,
		Title:       d.ID.DisplayName,
		Subscribers: d.Statistics.Total.Subscribers,
		Views:       d.Statistics.Total.Views,
		Videos:      d.Statistics.Total.Uploads,
		Rank:        d.Ranks.SBRank,
		Grade:       d.Misc.Grade.Grade,
	}, nil
}

// History returns up to days daily points, oldest first.
func (c *Client) History(ctx context.Context, channelID string, days int) (History, error) {
	const op = "history"
	if days <= 0 || days > maxHistoryDays {
		days = maxHistoryDays
	}
	if !c.Configured() {
		c.fallback(ctx, op, channelID, nil)
		return MockHistory(channelID, days, c.clock.Now()), nil
	}
	resp, err := c.statistics(ctx, op, channelID)
	if err != nil {
		if c.fallback(ctx, op, channelID, err) {
			return MockHistory(channelID, days, c.clock.Now()), nil
		}
		return History{}, err
	}
	points := resp.Data.Daily
	// The provider lists newest first.
	out := make([]Point, 0, min(days, len(points)))
	for i := min(days, len(points)) - 1; i >= 0; i-- {
		out = append(out, points[i])
	}
	return History{ChannelID: channelID, Points: out}, nil
}

// Projections extrapolates subscriber and view growth from History.
func (c *Client) Projections(ctx context.Context, channelID string) (Projection, error) {
	h, err := c.History(ctx, channelID, maxHistoryDays)
	if err != nil {
		return Projection{}, err
	}
	p := project(h)
	p.ChannelID = channelID
	p.IsFallback = h.IsFallback
	return p, nil
}

func project(h History) Projection {
	n := len(h.Points)
	if n == 0 {
		return Projection{}
	}
	last := h.Points[n-1]
	if n == 1 {
		return Projection{Subscribers30d: last.Subscribers, Subscribers90d: last.Subscribers,
			Subscribers365d: last.Subscribers, Views30d: last.Views}
	}
	first := h.Points[0]
	span := int64(n - 1)
	subsPerDay := (last.Subscribers - first.Subscribers) / span
	viewsPerDay := (last.Views - first.Views) / span
	return Projection{
		Subscribers30d:  last.Subscribers + subsPerDay*30,
		Subscribers90d:  last.Subscribers + subsPerDay*90,
		Subscribers365d: last.Subscribers + subsPerDay*365,
		Views30d:        last.Views + viewsPerDay*30,
	}
}

var grades = []string{"A+", "A", "A-", "B+", "B", "B-", "C+", "C"}

func seeded(channelID string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(channelID))
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed>>1|1))
}

// MockStats is the fallback for ChannelStats. Equal ids give equal values.
func MockStats(channelID string) Stats {
	r := seeded(channelID)
	subs := 1_000 + r.Int64N(999_000)
	return Stats{
		ChannelID:   channelID,
		Title:       "Channel " + channelID,
		Subscribers: subs,
		Views:       subs * (50 + r.Int64N(450)),
		Videos:      20 + r.Int64N(980),
		Rank:        1 + r.IntN(100_000),
		Grade:       grades[r.IntN(len(grades))],
		IsFallback:  true,
	}
}

// MockHistory is the fallback for History, ending on the day of now.
func MockHistory(channelID string, days int, now time.Time) History {
	s := MockStats(channelID)
	r := seeded(channelID + "/history")
	subsGain := 1 + r.Int64N(500)
	viewsGain := subsGain * (20 + r.Int64N(200))
	points := make([]Point, days)
	for i := range days {
		back := int64(days - 1 - i)
		points[i] = Point{
			Date:        now.AddDate(0, 0, -int(back)).Format(time.DateOnly),
			Subscribers: max(0, s.Subscribers-back*subsGain),
			Views:       max(0, s.Views-back*viewsGain),
		}
	}
	return History{ChannelID: channelID, Points: points, IsFallback: true}
}

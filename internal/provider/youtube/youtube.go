// Package youtube is the client of the video search platform. Every call is
// metered against the shared daily quota; read calls are cached so repeated
// lookups within the freshness window cost nothing.
package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cache"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/httpx"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
)

const (
	Provider       = "youtube"
	DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

	// Quota unit costs per operation.
	CostSearch = 100
	CostRead   = 1
	CostWrite  = 50

	// MaxIDsPerCall is the largest id batch list calls accept.
	MaxIDsPerCall = 50
)

type SearchParams struct {
	Query          string    `json:"q,omitempty"`
	ChannelID      string    `json:"channel_id,omitempty"`
	MaxResults     int       `json:"max_results,omitempty"`
	Order          string    `json:"order,omitempty"`
	RegionCode     string    `json:"region_code,omitempty"`
	PublishedAfter time.Time `json:"published_after,omitempty"`
}

type SearchResult struct {
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ChannelID    string    `json:"channel_id"`
	ChannelTitle string    `json:"channel_title"`
	PublishedAt  time.Time `json:"published_at"`
}

type Video struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ChannelID    string    `json:"channel_id"`
	ChannelTitle string    `json:"channel_title"`
	PublishedAt  time.Time `json:"published_at"`
	Views        int64     `json:"views"`
	Likes        int64     `json:"likes"`
	Comments     int64     `json:"comments"`
}

type Channel struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Subscribers int64  `json:"subscribers"`
	Views       int64  `json:"views"`
	Videos      int64  `json:"videos"`
}

type CommentThread struct {
	ID          string    `json:"id"`
	VideoID     string    `json:"video_id"`
	Author      string    `json:"author"`
	TextDisplay string    `json:"text_display"`
	Text        string    `json:"text"`
	LikeCount   int64     `json:"like_count"`
	ReplyCount  int64     `json:"reply_count"`
	PublishedAt time.Time `json:"published_at"`
}

type Client struct {
	http   *httpx.Client
	broker *quota.Broker
	cache  *cache.Layer
	apiKey string
}

// Config holds the credentials; an empty APIKey makes every call fail with
// Misconfigured before any quota is spent.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Retry   retry.Policy
}

func New(cfg Config, deps httpx.Deps, broker *quota.Broker, layer *cache.Layer) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	apiKey := cfg.APIKey
	c := &Client{broker: broker, cache: layer, apiKey: apiKey}
	c.http = httpx.New(httpx.Config{
		Provider:  Provider,
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		RateClass: Provider,
		Retry:     cfg.Retry,
		Authorize: func(r *http.Request) {
			q := r.URL.Query()
			q.Set("key", apiKey)
			r.URL.RawQuery = q.Encode()
		},
		Classify: classify,
	}, deps)
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

func (c *Client) call(ctx context.Context, op string, cost int64, req httpx.Request, out any) error {
	if c.apiKey == "" {
		return apperr.New(apperr.Misconfigured, Provider, op, "api key not configured")
	}
	req.Op = op
	return c.broker.Spend(ctx, Provider, op, cost, func(ctx context.Context) error {
		return c.http.Do(ctx, req, out)
	})
}

// SearchVideos costs 100 units per uncached call.
func (c *Client) SearchVideos(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	return cache.GetOrLoad(ctx, c.cache, cache.Search, p, func(ctx context.Context) ([]SearchResult, error) {
		q := url.Values{
			"part": {"snippet"},
			"type": {"video"},
		}
		if p.Query != "" {
			q.Set("q", p.Query)
		}
		if p.ChannelID != "" {
			q.Set("channelId", p.ChannelID)
		}
		if p.MaxResults > 0 {
			q.Set("maxResults", strconv.Itoa(p.MaxResults))
		}
		if p.Order != "" {
			q.Set("order", p.Order)
		}
		if p.RegionCode != "" {
			q.Set("regionCode", p.RegionCode)
		}
		if !p.PublishedAfter.IsZero() {
			q.Set("publishedAfter", p.PublishedAfter.UTC().Format(time.RFC3339))
		}

		var resp searchResponse
		if err := c.call(ctx, "search_videos", CostSearch, httpx.Request{Path: "/search", Query: q}, &resp); err != nil {
			return nil, err
		}
		out := make([]SearchResult, 0, len(resp.Items))
		for _, it := range resp.Items {
			if it.ID.VideoID == "" {
				continue
			}
			out = append(out, SearchResult{
				VideoID:      it.ID.VideoID,
				Title:        it.Snippet.Title,
				Description:  it.Snippet.Description,
				ChannelID:    it.Snippet.ChannelID,
				ChannelTitle: it.Snippet.ChannelTitle,
				PublishedAt:  it.Snippet.PublishedAt,
			})
		}
		return out, nil
	})
}

// ListVideos fetches statistics for up to 50 ids in one 1-unit call.
func (c *Client) ListVideos(ctx context.Context, ids []string) ([]Video, error) {
	if err := checkBatch("list_videos", ids); err != nil {
		return nil, err
	}
	return cache.GetOrLoad(ctx, c.cache, cache.Videos, ids, func(ctx context.Context) ([]Video, error) {
		q := url.Values{"part": {"snippet,statistics"}, "id": {strings.Join(ids, ",")}}
		var resp videosResponse
		if err := c.call(ctx, "list_videos", CostRead, httpx.Request{Path: "/videos", Query: q}, &resp); err != nil {
			return nil, err
		}
		out := make([]Video, 0, len(resp.Items))
		for _, it := range resp.Items {
			out = append(out, Video{
				ID:           it.ID,
				Title:        it.Snippet.Title,
				ChannelID:    it.Snippet.ChannelID,
				ChannelTitle: it.Snippet.ChannelTitle,
				PublishedAt:  it.Snippet.PublishedAt,
				Views:        it.Statistics.ViewCount.Int(),
				Likes:        it.Statistics.LikeCount.Int(),
				Comments:     it.Statistics.CommentCount.Int(),
			})
		}
		return out, nil
	})
}

// ListChannels fetches statistics for up to 50 channels in one 1-unit call.
func (c *Client) ListChannels(ctx context.Context, ids []string) ([]Channel, error) {
	if err := checkBatch("list_channels", ids); err != nil {
		return nil, err
	}
	return cache.GetOrLoad(ctx, c.cache, cache.Channels, ids, func(ctx context.Context) ([]Channel, error) {
		q := url.Values{"part": {"snippet,statistics"}, "id": {strings.Join(ids, ",")}}
		var resp channelsResponse
		if err := c.call(ctx, "list_channels", CostRead, httpx.Request{Path: "/channels", Query: q}, &resp); err != nil {
			return nil, err
		}
		out := make([]Channel, 0, len(resp.Items))
		for _, it := range resp.Items {
			out = append(out, Channel{
				ID:          it.ID,
				Title:       it.Snippet.Title,
				Subscribers: it.Statistics.SubscriberCount.Int(),
				Views:       it.Statistics.ViewCount.Int(),
				Videos:      it.Statistics.VideoCount.Int(),
			})
		}
		return out, nil
	})
}

// ListCommentThreads returns the newest top-level comments of a video. It is
// never cached.
func (c *Client) ListCommentThreads(ctx context.Context, videoID string, maxResults int) ([]CommentThread, error) {
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 100
	}
	q := url.Values{
		"part":       {"snippet"},
		"videoId":    {videoID},
		"order":      {"time"},
		"textFormat": {"html"},
		"maxResults": {strconv.Itoa(maxResults)},
	}
	var resp commentThreadsResponse
	if err := c.call(ctx, "list_comment_threads", CostRead, httpx.Request{Path: "/commentThreads", Query: q}, &resp); err != nil {
		return nil, err
	}
	out := make([]CommentThread, 0, len(resp.Items))
	for _, it := range resp.Items {
		top := it.Snippet.TopLevelComment.Snippet
		out = append(out, CommentThread{
			ID:          it.ID,
			VideoID:     it.Snippet.VideoID,
			Author:      top.AuthorDisplayName,
			TextDisplay: top.TextDisplay,
			Text:        top.TextOriginal,
			LikeCount:   top.LikeCount,
			ReplyCount:  it.Snippet.TotalReplyCount,
			PublishedAt: top.PublishedAt,
		})
	}
	return out, nil
}

// InsertComment posts a reply under a comment thread and returns its id.
func (c *Client) InsertComment(ctx context.Context, parentID, text string) (string, error) {
	body := map[string]any{
		"snippet": map[string]string{"parentId": parentID, "textOriginal": text},
	}
	var resp struct {
		ID string `json:"id"`
	}
	req := httpx.Request{
		Method: http.MethodPost,
		Path:   "/comments",
		Query:  url.Values{"part": {"snippet"}},
		Body:   body,
	}
	if err := c.call(ctx, "insert_comment", CostWrite, req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func checkBatch(op string, ids []string) error {
	if len(ids) == 0 || len(ids) > MaxIDsPerCall {
		return apperr.New(apperr.InvalidInput, Provider, op, "id batch must hold 1 to 50 ids")
	}
	return nil
}

// classify decodes the platform's error reasons: quota exhaustion arrives as
// 403 and must not be mistaken for a credential problem.
func classify(status int, body []byte) *apperr.Error {
	var e errorResponse
	if json.Unmarshal(body, &e) != nil || len(e.Error.Errors) == 0 {
		return nil
	}
	reason := e.Error.Errors[0].Reason
	switch reason {
	case "quotaExceeded", "dailyLimitExceeded":
		return apperr.New(apperr.QuotaExhausted, "", "", e.Error.Message)
	case "rateLimitExceeded", "userRateLimitExceeded":
		return apperr.New(apperr.RateLimited, "", "", e.Error.Message)
	case "commentsDisabled", "videoNotFound", "channelNotFound", "commentNotFound":
		return apperr.New(apperr.NotFound, "", "", reason)
	case "keyInvalid":
		return apperr.New(apperr.Unauthorized, "", "", e.Error.Message)
	}
	return nil
}

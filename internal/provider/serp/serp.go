// Package serp is the client of the trends and web search engine.
package serp

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cache"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/httpx"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
)

const (
	Provider       = "serp"
	DefaultBaseURL = "https://serpapi.com"
	DefaultTimeout = 10 * time.Second
)

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Retry   retry.Policy
}

type Term struct {
	Query string `json:"query"`
	Value int64  `json:"value"`
}

// Trends holds the related queries of a trends lookup.
type Trends struct {
	Rising []Term `json:"rising"`
	Top    []Term `json:"top"`
}

// Terms returns rising terms first, then top terms, without duplicates.
func (t Trends) Terms() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]Term{t.Rising, t.Top} {
		for _, term := range list {
			q := strings.TrimSpace(term.Query)
			if q == "" || seen[q] {
				continue
			}
			seen[q] = true
			out = append(out, q)
		}
	}
	return out
}

type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Source  string `json:"source,omitempty"`
	Date    string `json:"date,omitempty"`
}

type Client struct {
	http   *httpx.Client
	cache  *cache.Layer
	apiKey string
}

// New builds the client. Transport attempts default to three (two retries).
func New(cfg Config, deps httpx.Deps, layer *cache.Layer) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	return &Client{
		http: httpx.New(httpx.Config{
			Provider: Provider,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
			Retry:    cfg.Retry,
		}, deps),
		cache:  layer,
		apiKey: cfg.APIKey,
	}
}

func (c *Client) Configured() bool { return c.apiKey != "" }

type trendsParams struct {
	Query string `json:"q"`
	Geo   string `json:"geo"`
}

// Trends returns related queries for query in geo (e.g. "JP").
func (c *Client) Trends(ctx context.Context, query, geo string) (Trends, error) {
	p := trendsParams{Query: query, Geo: geo}
	return cache.GetOrLoad(ctx, c.cache, cache.Trends, p, func(ctx context.Context) (Trends, error) {
		q := url.Values{
			"engine":    {"google_trends"},
			"q":         {query},
			"data_type": {"RELATED_QUERIES"},
		}
		if geo != "" {
			q.Set("geo", geo)
		}
		var resp trendsResponse
		if err := c.search(ctx, "trends", q, &resp); err != nil {
			return Trends{}, err
		}
		if err := resp.err("trends"); err != nil {
			return Trends{}, err
		}
		return Trends{Rising: resp.Related.Rising.terms(), Top: resp.Related.Top.terms()}, nil
	})
}

// WebSearch returns organic results.
func (c *Client) WebSearch(ctx context.Context, query string) ([]Result, error) {
	return c.organic(ctx, "web_search", url.Values{"engine": {"google"}, "q": {query}})
}

// Books returns book results for query.
func (c *Client) Books(ctx context.Context, query string) ([]Result, error) {
	return c.organic(ctx, "books", url.Values{"engine": {"google"}, "tbm": {"bks"}, "q": {query}})
}

// News returns news articles for query.
func (c *Client) News(ctx context.Context, query string) ([]Result, error) {
	key := map[string]string{"op": "news", "q": query}
	return cache.GetOrLoad(ctx, c.cache, cache.Trends, key, func(ctx context.Context) ([]Result, error) {
		var resp newsResponse
		if err := c.search(ctx, "news", url.Values{"engine": {"google_news"}, "q": {query}}, &resp); err != nil {
			return nil, err
		}
		if err := resp.err("news"); err != nil {
			return nil, err
		}
		out := make([]Result, 0, len(resp.News))
		for _, n := range resp.News {
			out = append(out, Result{Title: n.Title, Link: n.Link, Source: n.Source.Name, Date: n.Date})
		}
		return out, nil
	})
}

func (c *Client) organic(ctx context.Context, op string, q url.Values) ([]Result, error) {
	key := map[string]string{"op": op, "q": q.Encode()}
	return cache.GetOrLoad(ctx, c.cache, cache.Trends, key, func(ctx context.Context) ([]Result, error) {
		var resp organicResponse
		if err := c.search(ctx, op, q, &resp); err != nil {
			return nil, err
		}
		if err := resp.err(op); err != nil {
			return nil, err
		}
		out := make([]Result, 0, len(resp.Organic))
		for _, r := range resp.Organic {
			out = append(out, Result{Title: r.Title, Link: r.Link, Snippet: r.Snippet})
		}
		return out, nil
	})
}

func (c *Client) search(ctx context.Context, op string, q url.Values, out any) error {
	if c.apiKey == "" {
		return apperr.New(apperr.Misconfigured, Provider, op, "api key not configured")
	}
	q.Set("api_key", c.apiKey)
	return c.http.Do(ctx, httpx.Request{Op: op, Path: "/search.json", Query: q}, out)
}

// errorField is embedded in every response; the engine reports some failures
// with a 200 status and an "error" string.
type errorField struct {
	Error string `json:"error"`
}

func (e errorField) err(op string) error {
	msg := e.Error
	if msg == "" {
		return nil
	}
	lower := strings.ToLower(msg)
	kind := apperr.Unavailable
	switch {
	case strings.Contains(lower, "run out of searches"):
		kind = apperr.QuotaExhausted
	case strings.Contains(lower, "invalid api key"):
		kind = apperr.Unauthorized
	case strings.Contains(lower, "hasn't returned any results"):
		kind = apperr.NotFound
	}
	return apperr.New(kind, Provider, op, msg)
}

type termList []struct {
	Query          string `json:"query"`
	ExtractedValue int64  `json:"extracted_value"`
}

func (l termList) terms() []Term {
	out := make([]Term, 0, len(l))
	for _, t := range l {
		out = append(out, Term{Query: t.Query, Value: t.ExtractedValue})
	}
	return out
}

type trendsResponse struct {
	errorField
	Related struct {
		Rising termList `json:"rising"`
		Top    termList `json:"top"`
	} `json:"related_queries"`
}

type organicResponse struct {
	errorField
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

type newsResponse struct {
	errorField
	News []struct {
		Title  string `json:"title"`
		Link   string `json:"link"`
		Date   string `json:"date"`
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"news_results"`
}

// Package embedding turns text into fixed-size vectors for similarity search.
package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/httpx"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
)

const (
	Provider       = "embedding"
	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "text-embedding-3-small"
	// Dimensions must match the keywords.embedding column.
	Dimensions     = 1536
	batchSize      = 100
	defaultTimeout = 30 * time.Second
)

// Embedder is what keyword research depends on.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retry   retry.Policy
}

type Client struct {
	http   *httpx.Client
	model  string
	apiKey string
}

func New(cfg Config, deps httpx.Deps) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	apiKey := cfg.APIKey
	return &Client{
		model:  cfg.Model,
		apiKey: apiKey,
		http: httpx.New(httpx.Config{
			Provider: Provider,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
			Retry:    cfg.Retry,
			Authorize: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+apiKey)
			},
		}, deps),
	}
}

func (c *Client) Configured() bool { return c.apiKey != "" }

type embedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embed"
	if c.apiKey == "" {
		return nil, apperr.New(apperr.Misconfigured, Provider, op, "api key not configured")
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embed"
	var resp embedResponse
	err := c.http.Do(ctx, httpx.Request{
		Op:     op,
		Method: http.MethodPost,
		Path:   "/v1/embeddings",
		Body:   embedRequest{Input: texts, Model: c.model, Dimensions: Dimensions},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, apperr.New(apperr.Unavailable, Provider, op,
			fmt.Sprintf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, apperr.New(apperr.Unavailable, Provider, op, fmt.Sprintf("embedding index %d out of range", d.Index))
		}
		if len(d.Embedding) != Dimensions {
			return nil, apperr.New(apperr.Misconfigured, Provider, op,
				fmt.Sprintf("embedding has %d dimensions, want %d", len(d.Embedding), Dimensions))
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

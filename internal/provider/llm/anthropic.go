package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/httpx"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
)

const (
	AnthropicProvider       = "llm_a"
	AnthropicDefaultBaseURL = "https://api.anthropic.com"
	AnthropicDefaultModel   = "claude-sonnet-4-5"
	anthropicVersion        = "2023-06-01"
	defaultMaxTokens        = 1024
	defaultTimeout          = 60 * time.Second
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Anthropic is LLM-A.
type Anthropic struct {
	http   *httpx.Client
	model  string
	apiKey string
}

func NewAnthropic(cfg Config, deps httpx.Deps) *Anthropic {
	if cfg.BaseURL == "" {
		cfg.BaseURL = AnthropicDefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = AnthropicDefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	apiKey := cfg.APIKey
	return &Anthropic{
		http: httpx.New(httpx.Config{
			Provider: AnthropicProvider,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
			Retry:    retry.Policy{MaxAttempts: 1},
			Authorize: func(r *http.Request) {
				r.Header.Set("x-api-key", apiKey)
				r.Header.Set("anthropic-version", anthropicVersion)
			},
			Classify: classifyAnthropic,
		}, deps),
		model:  cfg.Model,
		apiKey: apiKey,
	}
}

func (a *Anthropic) Name() string { return AnthropicProvider }

func (a *Anthropic) Configured() bool { return a.apiKey != "" }

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	if a.apiKey == "" {
		return Response{}, apperr.New(apperr.Misconfigured, AnthropicProvider, "complete", "api key not configured")
	}
	body := anthropicRequest{
		Model:       firstNonEmpty(req.Model, a.model),
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}

	var resp anthropicResponse
	err := a.http.Do(ctx, httpx.Request{Op: "complete", Method: http.MethodPost, Path: "/v1/messages", Body: body}, &resp)
	if err != nil {
		return Response{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := Response{Content: text.String(), Model: resp.Model, Usage: resp.Usage}
	switch resp.StopReason {
	case "refusal":
		return out, apperr.New(apperr.ContentFiltered, AnthropicProvider, "complete", "completion refused by content filter")
	case "max_tokens":
		out.FinishReason = FinishLength
	default:
		out.FinishReason = FinishStop
	}
	return out, nil
}

// classifyAnthropic maps the overloaded status 529 and typed error bodies.
func classifyAnthropic(status int, body []byte) *apperr.Error {
	if status == 529 {
		return apperr.New(apperr.Unavailable, "", "", "overloaded")
	}
	var e struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return nil
	}
	switch e.Error.Type {
	case "overloaded_error", "api_error":
		return apperr.New(apperr.Unavailable, "", "", e.Error.Message)
	case "authentication_error", "permission_error":
		return apperr.New(apperr.Unauthorized, "", "", e.Error.Message)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

package llm

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/httpx"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
)

const (
	OpenAIProvider       = "llm_b"
	OpenAIDefaultBaseURL = "https://api.openai.com"
	OpenAIDefaultModel   = "gpt-4o-mini"
)

// OpenAI is LLM-B, any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	http   *httpx.Client
	model  string
	apiKey string
}

func NewOpenAI(cfg Config, deps httpx.Deps) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenAIDefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = OpenAIDefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	apiKey := cfg.APIKey
	return &OpenAI{
		http: httpx.New(httpx.Config{
			Provider: OpenAIProvider,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
			Retry:    retry.Policy{MaxAttempts: 1},
			Authorize: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+apiKey)
			},
			Classify: classifyOpenAI,
		}, deps),
		model:  cfg.Model,
		apiKey: apiKey,
	}
}

func (o *OpenAI) Name() string { return OpenAIProvider }

func (o *OpenAI) Configured() bool { return o.apiKey != "" }

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	if o.apiKey == "" {
		return Response{}, apperr.New(apperr.Misconfigured, OpenAIProvider, "complete", "api key not configured")
	}
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body := openAIRequest{
		Model:       firstNonEmpty(req.Model, o.model),
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	var resp openAIResponse
	err := o.http.Do(ctx, httpx.Request{Op: "complete", Method: http.MethodPost, Path: "/v1/chat/completions", Body: body}, &resp)
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, apperr.New(apperr.Unavailable, OpenAIProvider, "complete", "no choices in completion")
	}

	choice := resp.Choices[0]
	out := Response{
		Content:      choice.Message.Content,
		FinishReason: FinishReason(choice.FinishReason),
		Model:        resp.Model,
		Usage:        Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
	if out.FinishReason == FinishContentFilter || choice.Message.Refusal != "" {
		return out, apperr.New(apperr.ContentFiltered, OpenAIProvider, "complete", "completion blocked by content filter")
	}
	return out, nil
}

func classifyOpenAI(status int, body []byte) *apperr.Error {
	var e struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return nil
	}
	switch e.Error.Code {
	case "content_policy_violation", "content_filter":
		return apperr.New(apperr.ContentFiltered, "", "", e.Error.Message)
	case "insufficient_quota":
		return apperr.New(apperr.QuotaExhausted, "", "", e.Error.Message)
	case "invalid_api_key":
		return apperr.New(apperr.Unauthorized, "", "", e.Error.Message)
	}
	return nil
}

// Package llm holds the message-completion clients. LLM-A speaks the
// Anthropic Messages API and LLM-B the OpenAI chat completions API; both
// report content-filter refusals as ContentFiltered so callers can tell them
// apart from transient failures.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Completer is a single-turn completion primitive. Implementations never
// retry: task-level retries belong to the orchestrator.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	System      string
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Prompt builds a request with one user message.
func Prompt(system, user string) Request {
	return Request{System: system, Messages: []Message{{Role: RoleUser, Content: user}}}
}

type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
)

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Response struct {
	Content      string       `json:"content"`
	FinishReason FinishReason `json:"finish_reason"`
	Model        string       `json:"model"`
	Usage        Usage        `json:"usage"`
}

// ExtractJSON decodes the first JSON object found in content into v.
// Models often wrap JSON in prose or code fences.
func ExtractJSON(content string, v any) error {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return errors.New("no JSON object in completion")
	}
	return json.Unmarshal([]byte(content[start:end+1]), v)
}

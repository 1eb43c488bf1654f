package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockMode selects how MockCompleter answers.
type MockMode int

const (
	// MockModeEcho returns the last user message.
	MockModeEcho MockMode = iota
	// MockModeFixtures cycles through Responses.
	MockModeFixtures
	// MockModeScript plays Steps once, in order; the last step repeats.
	MockModeScript
)

// Step is one scripted outcome.
type Step struct {
	Content string
	Err     error
}

type MockConfig struct {
	Mode      MockMode
	Name      string
	Responses []string
	Steps     []Step
}

// MockCompleter is a Completer for tests and for running without credentials.
type MockCompleter struct {
	mu       sync.Mutex
	cfg      MockConfig
	calls    int
	requests []Request
}

func NewMockCompleter(cfg MockConfig) *MockCompleter {
	if cfg.Name == "" {
		cfg.Name = "mock"
	}
	return &MockCompleter{cfg: cfg}
}

// NewFixedCompleter always answers content.
func NewFixedCompleter(content string) *MockCompleter {
	return NewMockCompleter(MockConfig{Mode: MockModeFixtures, Responses: []string{content}})
}

// NewScriptedCompleter plays steps in order.
func NewScriptedCompleter(steps ...Step) *MockCompleter {
	return NewMockCompleter(MockConfig{Mode: MockModeScript, Steps: steps})
}

func (m *MockCompleter) Name() string { return m.cfg.Name }

func (m *MockCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	var content string
	switch m.cfg.Mode {
	case MockModeEcho:
		if n := len(req.Messages); n > 0 {
			content = "Echo: " + req.Messages[n-1].Content
		}
	case MockModeFixtures:
		if len(m.cfg.Responses) == 0 {
			return Response{}, fmt.Errorf("mock completer has no responses")
		}
		content = m.cfg.Responses[idx%len(m.cfg.Responses)]
	case MockModeScript:
		if len(m.cfg.Steps) == 0 {
			return Response{}, fmt.Errorf("mock completer has no steps")
		}
		if idx >= len(m.cfg.Steps) {
			idx = len(m.cfg.Steps) - 1
		}
		step := m.cfg.Steps[idx]
		if step.Err != nil {
			return Response{}, step.Err
		}
		content = step.Content
	}
	return Response{Content: content, FinishReason: FinishStop, Model: "mock-model"}, nil
}

// Calls returns how many completions were requested.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request received.
func (m *MockCompleter) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

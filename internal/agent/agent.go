// Package agent defines the contract every background agent implements and
// the registry the orchestrator resolves agent kinds from.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
)

// Agent is one background workflow.
//
// Execute receives the agent's configuration snapshot, the task record and
// the opaque input payload. It returns a result map carrying the standard
// summary keys, or an error; it never swallows its own failures.
type Agent interface {
	Kind() model.AgentKind
	Execute(ctx context.Context, cfg map[string]any, task model.AgentTask, input map[string]any) (Result, error)
}

// Summarizer is implemented by agents that add a part to the run summary,
// e.g. "アラート: 3件".
type Summarizer interface {
	Summarize(r Result) string
}

// Registry maps agent kinds to their implementation.
type Registry struct {
	mu     sync.RWMutex
	agents map[model.AgentKind]Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[model.AgentKind]Agent)}
}

// Register adds a. Registering a kind twice is an error.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kind := a.Kind()
	if !kind.Valid() {
		return fmt.Errorf("register agent: unknown kind %q", kind)
	}
	if _, exists := r.agents[kind]; exists {
		return fmt.Errorf("register agent: %s already registered", kind)
	}
	r.agents[kind] = a
	return nil
}

// MustRegister is Register for startup wiring.
func (r *Registry) MustRegister(agents ...Agent) {
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

// Get returns the agent for kind or an UnknownAgent error.
func (r *Registry) Get(kind model.AgentKind) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[kind]
	if !ok {
		return nil, apperr.New(apperr.UnknownAgent, "", "lookup", fmt.Sprintf("no agent registered for %q", kind))
	}
	return a, nil
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []model.AgentKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]model.AgentKind, 0, len(r.agents))
	for k := range r.agents {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// DecodeConfig fills v from a configuration snapshot. Unknown keys are ignored.
func DecodeConfig(cfg map[string]any, v any) error {
	if len(cfg) == 0 {
		return nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return apperr.Wrap(apperr.Misconfigured, "", "decode_config", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Wrap(apperr.Misconfigured, "", "decode_config", err)
	}
	return nil
}

// DecodeInput fills v from an input payload. Malformed input is InvalidInput.
func DecodeInput(input map[string]any, v any) error {
	if len(input) == 0 {
		return nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, "", "decode_input", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "", "decode_input", err)
	}
	return nil
}

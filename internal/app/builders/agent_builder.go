package builders

import (
	"fmt"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agents"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cache"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
)

type AgentBuilder struct {
	logger *logger.Logger
	clock  clock.Clock
}

func NewAgentBuilder(log *logger.Logger, clk clock.Clock) *AgentBuilder {
	return &AgentBuilder{logger: log, clock: clk}
}

// Build registers the seven agents against the given collaborators.
func (b *AgentBuilder) Build(st store.Store, p *Providers, layer *cache.Layer, alerter agents.Alerter, zone *time.Location) (*agent.Registry, error) {
	reg := agent.NewRegistry()
	all := agents.All(agents.Deps{
		Store:     st,
		Platform:  p.YouTube,
		Trends:    p.Serp,
		Analytics: p.Analytics,
		LLMA:      p.LLMA,
		LLMB:      p.LLMB,
		Embedder:  p.Embedding,
		Cache:     layer,
		Alerter:   alerter,
		Clock:     b.clock,
		Zone:      zone,
	})
	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return nil, fmt.Errorf("failed to register agent %s: %w", a.Kind(), err)
		}
	}
	b.logger.Info("agents registered", logger.Int("count", reg.Len()))
	return reg, nil
}

package builders

import (
	"net/http"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/breaker"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cache"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/config"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/analytics"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/avatar"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/embedding"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/httpx"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/llm"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/serp"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/tts"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/youtube"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/ratelimit"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// Providers holds every external client plus the shared pacing and breaker
// state they run behind.
type Providers struct {
	YouTube   *youtube.Client
	Serp      *serp.Client
	LLMA      *llm.Anthropic
	LLMB      *llm.OpenAI
	TTS       *tts.Client
	Avatar    *avatar.Client
	Analytics *analytics.Client
	Embedding *embedding.Client

	Limits   *ratelimit.Registry
	Breakers map[string]*breaker.CircuitBreaker
}

// ProviderStatus is one row of the provider overview.
type ProviderStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Breaker    string `json:"breaker"`
}

// Status lists every provider in a stable order.
func (p *Providers) Status() []ProviderStatus {
	rows := []struct {
		name       string
		configured bool
	}{
		{youtube.Provider, p.YouTube.Configured()},
		{serp.Provider, p.Serp.Configured()},
		{llm.AnthropicProvider, p.LLMA.Configured()},
		{llm.OpenAIProvider, p.LLMB.Configured()},
		{tts.Provider, p.TTS.Configured()},
		{avatar.Provider, p.Avatar.Configured()},
		{analytics.Provider, p.Analytics.Configured()},
		{embedding.Provider, p.Embedding.Configured()},
	}
	out := make([]ProviderStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, ProviderStatus{
			Name:       r.name,
			Configured: r.configured,
			Breaker:    p.Breakers[r.name].State().String(),
		})
	}
	return out
}

type ProviderBuilder struct {
	config   *config.Config
	logger   *logger.Logger
	clock    clock.Clock
	observer httpx.Observer
	http     *http.Client
}

func NewProviderBuilder(cfg *config.Config, log *logger.Logger, clk clock.Clock, obs httpx.Observer) *ProviderBuilder {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ProviderBuilder{
		config:   cfg,
		logger:   log,
		clock:    clk,
		observer: obs,
		http:     &http.Client{},
	}
}

// Build creates every client. onBreaker, when set, observes breaker
// transitions of all providers.
func (b *ProviderBuilder) Build(broker *quota.Broker, layer *cache.Layer, onBreaker func(name string, to breaker.State)) *Providers {
	pc := b.config.Providers
	limits := ratelimit.NewRegistry(map[string]ratelimit.Limit{
		youtube.Provider:      rateLimit(pc.YouTube),
		serp.Provider:         rateLimit(pc.Serp),
		llm.AnthropicProvider: rateLimit(pc.Anthropic),
		llm.OpenAIProvider:    rateLimit(pc.OpenAI),
		tts.Provider:          rateLimit(pc.TTS.ProviderConfig),
		avatar.Provider:       rateLimit(pc.Avatar),
		analytics.Provider:    rateLimit(pc.Analytics.ProviderConfig),
		embedding.Provider:    rateLimit(pc.Embedding),
	}, b.clock)

	p := &Providers{Limits: limits, Breakers: make(map[string]*breaker.CircuitBreaker)}
	deps := func(name string) httpx.Deps {
		br := breaker.New(name, breakerThreshold, breakerCooldown, b.clock)
		br.OnStateChange = func(name string, to breaker.State) {
			b.logger.Warn("circuit breaker state changed",
				logger.String("provider", name), logger.String("state", to.String()))
			if onBreaker != nil {
				onBreaker(name, to)
			}
		}
		p.Breakers[name] = br
		return httpx.Deps{
			HTTP:     b.http,
			Limits:   limits,
			Breaker:  br,
			Clock:    b.clock,
			Logger:   b.logger.With(logger.String("provider", name)),
			Observer: b.observer,
		}
	}

	p.YouTube = youtube.New(youtube.Config{
		APIKey:  pc.YouTube.APIKey,
		BaseURL: pc.YouTube.BaseURL,
		Timeout: pc.YouTube.Timeout(),
	}, deps(youtube.Provider), broker, layer)
	p.Serp = serp.New(serp.Config{
		APIKey:  pc.Serp.APIKey,
		BaseURL: pc.Serp.BaseURL,
		Timeout: pc.Serp.Timeout(),
	}, deps(serp.Provider), layer)
	p.LLMA = llm.NewAnthropic(llm.Config{
		APIKey:  pc.Anthropic.APIKey,
		BaseURL: pc.Anthropic.BaseURL,
		Model:   pc.Anthropic.Model,
		Timeout: pc.Anthropic.Timeout(),
	}, deps(llm.AnthropicProvider))
	p.LLMB = llm.NewOpenAI(llm.Config{
		APIKey:  pc.OpenAI.APIKey,
		BaseURL: pc.OpenAI.BaseURL,
		Model:   pc.OpenAI.Model,
		Timeout: pc.OpenAI.Timeout(),
	}, deps(llm.OpenAIProvider))
	p.TTS = tts.New(tts.Config{
		APIKey:       pc.TTS.APIKey,
		BaseURL:      pc.TTS.BaseURL,
		Model:        pc.TTS.Model,
		DefaultVoice: pc.TTS.Voice,
		Timeout:      pc.TTS.Timeout(),
	}, deps(tts.Provider))
	p.Avatar = avatar.New(avatar.Config{
		APIKey:  pc.Avatar.APIKey,
		BaseURL: pc.Avatar.BaseURL,
		Timeout: pc.Avatar.Timeout(),
	}, deps(avatar.Provider))
	p.Analytics = analytics.New(analytics.Config{
		ClientID: pc.Analytics.ClientID,
		APIKey:   pc.Analytics.APIKey,
		BaseURL:  pc.Analytics.BaseURL,
		Timeout:  pc.Analytics.Timeout(),
	}, deps(analytics.Provider), layer)
	p.Embedding = embedding.New(embedding.Config{
		APIKey:  pc.Embedding.APIKey,
		BaseURL: pc.Embedding.BaseURL,
		Model:   pc.Embedding.Model,
		Timeout: pc.Embedding.Timeout(),
	}, deps(embedding.Provider))

	for _, s := range p.Status() {
		if !s.Configured {
			b.logger.Info("provider not configured", logger.String("provider", s.Name))
		}
	}
	return p
}

func rateLimit(p config.ProviderConfig) ratelimit.Limit {
	return ratelimit.Limit{PerSecond: p.RatePerSecond, Burst: p.Burst}
}

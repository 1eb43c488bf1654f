package builders

import (
	"context"
	"fmt"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cache"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/config"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

type CacheBuilder struct {
	config *config.Config
	logger *logger.Logger
	clock  clock.Clock
}

func NewCacheBuilder(cfg *config.Config, log *logger.Logger, clk clock.Clock) *CacheBuilder {
	if clk == nil {
		clk = clock.Real{}
	}
	return &CacheBuilder{config: cfg, logger: log, clock: clk}
}

// Build connects to Redis when a cache URL is configured; otherwise the cache
// lives in process.
func (b *CacheBuilder) Build(ctx context.Context) (*cache.Layer, error) {
	if b.config.Cache.URL == "" {
		b.logger.Info("using in-process cache")
		return cache.NewLayer(cache.NewMemoryStore(b.clock), b.logger), nil
	}
	rs, err := cache.NewRedisStore(ctx, b.config.Cache.URL, b.config.Cache.Prefix+":")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}
	b.logger.Info("redis cache connected", logger.String("prefix", b.config.Cache.Prefix))
	return cache.NewLayer(rs, b.logger), nil
}

package builders

import (
	"fmt"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/config"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cron"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

type CronBuilder struct {
	config *config.Config
	logger *logger.Logger
	clock  clock.Clock
}

func NewCronBuilder(cfg *config.Config, log *logger.Logger, clk clock.Clock) *CronBuilder {
	return &CronBuilder{config: cfg, logger: log, clock: clk}
}

// Table returns the schedule table with the configured overrides applied.
func (b *CronBuilder) Table() ([]cron.Spec, error) {
	specs, err := cron.Override(cron.DefaultTable(), b.config.Schedules)
	if err != nil {
		return nil, fmt.Errorf("failed to apply schedule overrides: %w", err)
	}
	return specs, nil
}

// Build creates the scheduler without starting it.
func (b *CronBuilder) Build(zone *time.Location, d cron.Dispatcher, s cron.Suspender) (*cron.Scheduler, error) {
	specs, err := b.Table()
	if err != nil {
		return nil, err
	}
	sched, err := cron.NewScheduler(cron.Config{Specs: specs, Zone: zone}, cron.Deps{
		Dispatcher: d,
		Suspender:  s,
		Clock:      b.clock,
		Logger:     b.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	for _, spec := range specs {
		b.logger.Debug("schedule registered",
			logger.String("schedule", spec.Name),
			logger.String("cron", spec.Expr),
			logger.String("agent_kind", spec.Kind.String()))
	}
	return sched, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/api"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/app/builders"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/config"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/metrics"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/orchestrator"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/youtube"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/telemetry"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/version"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/workers"
)

// Initialize builds every component. Background loops that belong to the
// infrastructure (quota resets, worker pool) start here; the scheduler and
// the HTTP listener start in Start.
func (a *App) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return errors.New("application already initialized")
	}

	// 1. Application context, detached so shutdown order stays ours
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))

	zone, err := clock.LoadZone(a.config.App.Zone)
	if err != nil {
		return err
	}
	a.zone = zone

	// 2. Tracing and metrics
	a.traces, err = telemetry.Init(ctx, telemetry.Config{
		Endpoint:    a.config.Telemetry.Endpoint,
		Insecure:    a.config.Telemetry.Insecure,
		ServiceName: "ytagent",
		Version:     version.Version,
		SampleRatio: a.config.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.metrics = metrics.New(metrics.DefaultNamespace, nil)

	// 3. Agent definitions and the run store
	defs, err := config.LoadAgents(a.config.App.AgentsFile)
	if err != nil {
		return err
	}
	a.store, err = builders.NewStoreBuilder(a.config, a.logger).Build(ctx, defs)
	if err != nil {
		return err
	}

	// 4. Cache
	a.cache, err = builders.NewCacheBuilder(a.config, a.logger, a.clock).Build(ctx)
	if err != nil {
		return err
	}

	// 5. Notifications
	a.notifier, err = builders.NewNotifyBuilder(a.config, a.logger, a.clock, a.metrics).Build(a.extraSinks...)
	if err != nil {
		return err
	}
	coalescer := notify.NewCoalescer(a.store, a.clock, a.logger)

	// 6. Quota broker
	limits := quota.SearchPlatformLimits()
	limits.DailyLimit = a.config.Quota.DailyLimit
	limits.WarnRatio = a.config.Quota.WarnRatio
	limits.StopRatio = a.config.Quota.StopRatio
	a.broker = quota.NewBroker(map[string]quota.Limits{youtube.Provider: limits},
		quota.WithStore(a.store),
		quota.WithWarner(quota.NewNotifyWarner(a.notifier, coalescer)),
		quota.WithObserver(a.metrics),
		quota.WithClock(a.clock),
		quota.WithLogger(a.logger),
	)
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		a.broker.RunResetLoop(a.ctx)
	}()

	// 7. Providers and agents
	a.providers = builders.NewProviderBuilder(a.config, a.logger, a.clock, a.metrics).
		Build(a.broker, a.cache, a.metrics.ObserveBreaker)
	registry, err := builders.NewAgentBuilder(a.logger, a.clock).
		Build(a.store, a.providers, a.cache, a.notifier, zone)
	if err != nil {
		return err
	}

	// 8. Orchestrator
	oc := a.config.Orchestrator
	a.orchestrator = orchestrator.New(orchestrator.Config{
		Deadline:         oc.Deadline(),
		Retry:            oc.RetryPolicy(),
		Plan:             quota.DefaultPlan,
		FailureThreshold: oc.FailureThreshold,
		FailureWindow:    oc.FailureWindow(),
		Zone:             zone,
	}, orchestrator.Deps{
		Registry:  registry,
		Store:     a.store,
		Notifier:  a.notifier,
		Coalescer: coalescer,
		Clock:     a.clock,
		Logger:    a.logger,
		Observer:  a.metrics,
	})

	// 9. Worker pool and scheduler
	a.workerPool = workers.NewPool(a.config.Workers.PoolSize, a.config.Workers.QueueSize, a.logger,
		workers.WithObserver(a.metrics))
	a.workerPool.Start()

	a.dispatcher = newDispatcher(a.orchestrator, a.workerPool, a.store, a.notifier, zone, a.logger)
	a.scheduler, err = builders.NewCronBuilder(a.config, a.logger, a.clock).Build(zone, a.dispatcher, a.orchestrator)
	if err != nil {
		return err
	}

	// 10. Operator surface
	a.handler = api.NewRouter(api.Deps{
		Orchestrator: a.orchestrator,
		Pool:         a.workerPool,
		Runs:         a.store,
		Quota:        a.broker,
		Schedules:    a.scheduler,
		Metrics:      a.metrics.Handler(),
		Health:       a.store.Ping,
		Providers:    func() any { return a.providers.Status() },
		Logger:       a.logger,
	})
	if a.withServer {
		sc := a.config.Server
		a.server = api.NewServer(sc.Addr, a.handler,
			time.Duration(sc.ReadTimeoutSeconds)*time.Second,
			time.Duration(sc.WriteTimeoutSeconds)*time.Second)
	}

	a.initialized = true
	return nil
}

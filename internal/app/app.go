// Package app is the composition root of ytagent. It builds every component
// from configuration, starts the scheduler, worker pool and operator HTTP
// surface, and stops them in order on shutdown.
package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/app/builders"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cache"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/config"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cron"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/metrics"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/orchestrator"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/telemetry"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/version"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/workers"
)

// App holds every long-lived component and owns their lifecycle.
type App struct {
	// Configuration and core services
	config *config.Config
	logger *logger.Logger
	clock  clock.Clock
	zone   *time.Location

	// Options
	extraSinks []notify.Sink
	withServer bool

	// Infrastructure
	metrics   *metrics.Metrics
	traces    telemetry.Shutdown
	store     store.Store
	cache     *cache.Layer
	notifier  *notify.Notifier
	broker    *quota.Broker
	providers *builders.Providers

	// Execution
	orchestrator *orchestrator.Orchestrator
	workerPool   *workers.WorkerPool
	scheduler    *cron.Scheduler
	dispatcher   *dispatcher

	// Operator surface
	handler  http.Handler
	server   *http.Server
	serveErr chan error

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu          sync.RWMutex
	initialized bool
	started     bool
	closed      bool
}

// Option customizes an App.
type Option func(*App)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithSinks adds notification sinks next to the configured ones.
func WithSinks(sinks ...notify.Sink) Option {
	return func(a *App) { a.extraSinks = append(a.extraSinks, sinks...) }
}

// WithoutServer skips the HTTP listener. The router stays available through
// Handler.
func WithoutServer() Option {
	return func(a *App) { a.withServer = false }
}

// New creates an App. Components are built by Initialize.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) *App {
	a := &App{
		config:     cfg,
		logger:     log,
		clock:      clock.Real{},
		withServer: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run initializes and starts the application, blocks until ctx is cancelled
// and then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		a.Close()
		return err
	}
	if err := a.Start(); err != nil {
		a.Close()
		return err
	}

	a.logger.Info("application is running",
		logger.String("version", version.Version),
		logger.String("zone", a.zone.String()),
		logger.String("addr", a.config.Server.Addr))

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown requested", logger.String("cause", context.Cause(ctx).Error()))
	case err := <-a.serveErr:
		a.logger.Error("http server failed", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.Server.ShutdownTimeout())
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// RunOnce executes one manual run of kind synchronously, outside the
// scheduler and the worker pool. Initialize must have been called.
func (a *App) RunOnce(ctx context.Context, kind model.AgentKind, input map[string]any) (model.AgentTask, error) {
	return a.orchestrator.Execute(ctx, orchestrator.Request{
		Kind:    kind,
		Trigger: model.TriggerManual,
		Input:   input,
	})
}

// Handler returns the operator router.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Orchestrator returns the task executor.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Scheduler returns the schedule loop.
func (a *App) Scheduler() *cron.Scheduler {
	return a.scheduler
}

// Store returns the run store.
func (a *App) Store() store.Store {
	return a.store
}

// Quota returns the quota broker.
func (a *App) Quota() *quota.Broker {
	return a.broker
}

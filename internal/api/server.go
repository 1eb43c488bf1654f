// Package api is the operator HTTP surface: manual task submission, task and
// run inspection, suspension control, quota and schedule views, metrics and
// health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cron"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/orchestrator"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/workers"
)

// Orchestrator is the task surface the handlers drive. *orchestrator.Orchestrator
// satisfies it.
type Orchestrator interface {
	Prepare(ctx context.Context, req orchestrator.Request) (model.AgentTask, error)
	Run(ctx context.Context, task model.AgentTask) (model.AgentTask, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Resume(kind model.AgentKind) bool
	SuspendedKinds() map[model.AgentKind]string
}

// Submitter queues work. *workers.WorkerPool satisfies it.
type Submitter interface {
	Submit(task workers.Task) error
}

type QuotaReader interface {
	Usage(ctx context.Context, provider string) (model.QuotaCounter, error)
}

type ScheduleLister interface {
	Upcoming(n int) []cron.Fire
}

// Deps are the collaborators of the router. Orchestrator, Pool and Runs are
// required; the rest are optional and their routes answer 404 when unset.
type Deps struct {
	Orchestrator Orchestrator
	Pool         Submitter
	Runs         store.RunStore
	Quota        QuotaReader
	Schedules    ScheduleLister
	Metrics      http.Handler
	Health       func(ctx context.Context) error
	Providers    func() any
	Logger       *logger.Logger
}

type handler struct {
	orch      Orchestrator
	pool      Submitter
	runs      store.RunStore
	quota     QuotaReader
	schedules ScheduleLister
	health    func(ctx context.Context) error
	providers func() any
	log       *logger.Logger
}

// NewRouter builds the chi router for the operator surface.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	h := &handler{
		orch:      deps.Orchestrator,
		pool:      deps.Pool,
		runs:      deps.Runs,
		quota:     deps.Quota,
		schedules: deps.Schedules,
		health:    deps.Health,
		providers: deps.Providers,
		log:       deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogging(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.createTask)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getTask)
				r.Get("/logs", h.taskLogs)
				r.Post("/cancel", h.cancelTask)
			})
		})
		r.Route("/agents", func(r chi.Router) {
			r.Get("/suspended", h.suspended)
			r.Route("/{kind}", func(r chi.Router) {
				r.Get("/runs", h.listRuns)
				r.Get("/latest", h.latestRun)
				r.Post("/resume", h.resume)
			})
		})
		r.Get("/quota/{provider}", h.quotaUsage)
		r.Get("/schedules", h.upcoming)
		r.Get("/providers", h.providerStatus)
	})
	return r
}

// NewServer wraps the router in an http.Server with the given timeouts.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}
}

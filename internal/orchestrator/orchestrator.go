// Package orchestrator runs agents as persisted tasks. It owns the task
// lifecycle: deadline, in-process retries, cancellation, suspension of agent
// kinds after credential or configuration failures, and the one notification
// every finished task produces.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
)

const (
	DefaultDeadline         = 10 * time.Minute
	DefaultFailureThreshold = 3
	DefaultFailureWindow    = 24 * time.Hour
)

var (
	errDeadline       = errors.New("task deadline exceeded")
	errOperatorCancel = errors.New("task cancelled by operator")
)

// Emitter is the notification surface. *notify.Notifier satisfies it.
type Emitter interface {
	Emit(e notify.Event)
}

// Observer receives run outcomes for metrics.
type Observer interface {
	ObserveRun(kind, status string, elapsed time.Duration)
	ObserveRetry(kind, errorKind string)
	AddInFlight(kind string, delta int)
}

type nopObserver struct{}

func (nopObserver) ObserveRun(string, string, time.Duration) {}
func (nopObserver) ObserveRetry(string, string)              {}
func (nopObserver) AddInFlight(string, int)                  {}

// Config tunes task execution.
type Config struct {
	// Deadline bounds a whole run, retries and backoff included.
	Deadline time.Duration
	Retry    retry.Policy
	// Plan sizes the per-run search-platform budget. Nil disables budgets.
	Plan quota.Plan

	FailureThreshold int
	FailureWindow    time.Duration
	Zone             *time.Location
}

func (c *Config) applyDefaults() {
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = DefaultFailureWindow
	}
	if c.Zone == nil {
		c.Zone = time.UTC
	}
}

// Deps are the orchestrator's collaborators. Registry and Store are required.
type Deps struct {
	Registry  *agent.Registry
	Store     store.Store
	Notifier  Emitter
	Coalescer *notify.Coalescer
	Clock     clock.Clock
	Logger    *logger.Logger
	Observer  Observer
	Tracer    trace.Tracer
}

// Request asks for one run of an agent kind.
type Request struct {
	Kind        model.AgentKind
	Trigger     model.TriggerKind
	KnowledgeID *uuid.UUID
	Input       map[string]any
}

type inflight struct {
	kind   model.AgentKind
	cancel context.CancelCauseFunc
}

// Orchestrator executes tasks. It is safe for concurrent use across task ids;
// a task id runs at most once at a time.
type Orchestrator struct {
	cfg       Config
	registry  *agent.Registry
	store     store.Store
	notifier  Emitter
	coalescer *notify.Coalescer
	clock     clock.Clock
	log       *logger.Logger
	observer  Observer
	tracer    trace.Tracer

	mu        sync.Mutex
	running   map[uuid.UUID]inflight
	suspended map[model.AgentKind]string
}

func New(cfg Config, deps Deps) *Orchestrator {
	cfg.applyDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/m-kaneko-ai/youtube-avter-system-sub001/orchestrator")
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  deps.Registry,
		store:     deps.Store,
		notifier:  deps.Notifier,
		coalescer: deps.Coalescer,
		clock:     deps.Clock,
		log:       deps.Logger,
		observer:  deps.Observer,
		tracer:    deps.Tracer,
		running:   make(map[uuid.UUID]inflight),
		suspended: make(map[model.AgentKind]string),
	}
}

// Prepare validates req and persists a pending task for it.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (model.AgentTask, error) {
	if _, err := o.registry.Get(req.Kind); err != nil {
		return model.AgentTask{}, err
	}
	if _, err := o.definition(ctx, req.Kind); err != nil {
		return model.AgentTask{}, err
	}
	if req.Trigger == "" {
		req.Trigger = model.TriggerManual
	}
	now := o.clock.Now()
	task := model.AgentTask{
		ID:          uuid.New(),
		Kind:        req.Kind,
		Trigger:     req.Trigger,
		KnowledgeID: req.KnowledgeID,
		Input:       req.Input,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		return model.AgentTask{}, err
	}
	return task, nil
}

// Execute prepares and runs a task.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (model.AgentTask, error) {
	task, err := o.Prepare(ctx, req)
	if err != nil {
		return model.AgentTask{}, err
	}
	return o.Run(ctx, task)
}

// definition returns the operator configuration of kind. A kind without a
// stored definition runs with an empty configuration.
func (o *Orchestrator) definition(ctx context.Context, kind model.AgentKind) (model.AgentDefinition, error) {
	def, err := o.store.GetAgent(ctx, kind)
	switch {
	case apperr.Is(err, apperr.NotFound):
		return model.AgentDefinition{Kind: kind, Enabled: true}, nil
	case err != nil:
		return model.AgentDefinition{}, err
	case !def.Active():
		return model.AgentDefinition{}, apperr.New(apperr.InvalidInput, "", "prepare", fmt.Sprintf("agent %s is disabled", kind))
	}
	return def, nil
}

// Cancel stops an in-flight task, or cancels a task still pending.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	o.mu.Lock()
	r, ok := o.running[id]
	o.mu.Unlock()
	if ok {
		r.cancel(errOperatorCancel)
		return nil
	}

	_, err := o.cancelPending(ctx, id, errOperatorCancel)
	return err
}

// Abandon moves a task that never started to cancelled with cause as its
// message and announces it. Used for queued tasks dropped at shutdown.
func (o *Orchestrator) Abandon(ctx context.Context, id uuid.UUID, cause error) error {
	task, err := o.cancelPending(ctx, id, cause)
	if err != nil {
		return err
	}
	o.log.Warn("queued task abandoned",
		logger.String("task_id", id.String()),
		logger.String("agent_kind", task.Kind.String()),
		logger.String("reason", cause.Error()))
	o.emit(notify.Event{
		Kind:    notify.KindError,
		Level:   notify.LevelError,
		Title:   fmt.Sprintf("%s: %s", task.Kind, task.Status),
		Message: task.ErrorMessage,
		Fields: map[string]string{
			"task_id":    task.ID.String(),
			"agent_kind": task.Kind.String(),
			"trigger":    task.Trigger.String(),
			"error_kind": task.ErrorKind,
		},
	})
	return nil
}

func (o *Orchestrator) cancelPending(ctx context.Context, id uuid.UUID, cause error) (model.AgentTask, error) {
	task, err := o.store.GetTask(ctx, id)
	if err != nil {
		return model.AgentTask{}, err
	}
	if task.Status != model.StatusPending {
		return model.AgentTask{}, apperr.New(apperr.InvalidInput, "", "cancel", fmt.Sprintf("task %s is %s", id, task.Status))
	}
	now := o.clock.Now()
	task.Status = model.StatusCancelled
	task.FinishedAt = &now
	task.UpdatedAt = now
	task.ErrorKind = apperr.Cancelled.String()
	task.ErrorMessage = cause.Error()
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return model.AgentTask{}, err
	}
	return task, nil
}

// CancelAll cancels every in-flight task. Used on forced shutdown.
func (o *Orchestrator) CancelAll(cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.running {
		r.cancel(cause)
	}
}

// InFlight returns the number of running tasks.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// Suspended reports whether scheduled runs of kind are on hold and why.
func (o *Orchestrator) Suspended(kind model.AgentKind) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	reason, ok := o.suspended[kind]
	return reason, ok
}

// SuspendedKinds lists every suspended kind with its reason.
func (o *Orchestrator) SuspendedKinds() map[model.AgentKind]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[model.AgentKind]string, len(o.suspended))
	for k, v := range o.suspended {
		out[k] = v
	}
	return out
}

// Resume lifts a suspension. It reports whether kind was suspended.
func (o *Orchestrator) Resume(kind model.AgentKind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.suspended[kind]
	delete(o.suspended, kind)
	if ok {
		o.log.Info("agent resumed", logger.String("agent_kind", kind.String()))
	}
	return ok
}

func (o *Orchestrator) suspend(kind model.AgentKind, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.suspended[kind] = reason
}

func (o *Orchestrator) track(task model.AgentTask, cancel context.CancelCauseFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[task.ID]; ok {
		return apperr.New(apperr.InvalidInput, "", "run", fmt.Sprintf("task %s is already running", task.ID))
	}
	o.running[task.ID] = inflight{kind: task.Kind, cancel: cancel}
	return nil
}

func (o *Orchestrator) untrack(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, id)
}

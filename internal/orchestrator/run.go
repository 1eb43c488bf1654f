package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
)

type outcome struct {
	result agent.Result
	err    error
}

// Run drives a pending task to a terminal state and returns the final row.
// The error is non-nil only when the task could not be run at all; agent
// failures are reported through the task status.
func (o *Orchestrator) Run(ctx context.Context, task model.AgentTask) (model.AgentTask, error) {
	if task.Status != model.StatusPending {
		return task, apperr.New(apperr.InvalidInput, "", "run", fmt.Sprintf("task %s is %s", task.ID, task.Status))
	}
	a, err := o.registry.Get(task.Kind)
	if err != nil {
		return task, err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if err := o.track(task, cancel); err != nil {
		return task, err
	}
	defer o.untrack(task.ID)
	o.observer.AddInFlight(task.Kind.String(), 1)
	defer o.observer.AddInFlight(task.Kind.String(), -1)

	// Final writes must land even when the caller's context is gone.
	persistCtx := context.WithoutCancel(ctx)

	runCtx, span := o.tracer.Start(runCtx, "agent.run", trace.WithAttributes(
		attribute.String("agent.kind", task.Kind.String()),
		attribute.String("agent.trigger", task.Trigger.String()),
		attribute.String("task.id", task.ID.String()),
	))
	defer span.End()

	log := o.log.With(logger.String("task_id", task.ID.String()), logger.String("agent_kind", task.Kind.String()))
	runCtx = agent.WithRun(runCtx, log, &journal{store: o.store, taskID: task.ID, clock: o.clock, log: log})

	started := o.clock.Now()
	task.Status = model.StatusRunning
	task.Attempt = 1
	task.StartedAt = &started
	task.UpdatedAt = started
	if err := o.store.UpdateTask(persistCtx, task); err != nil {
		return task, err
	}
	log.Info("task started", logger.String("trigger", task.Trigger.String()))

	stopTimer := o.armDeadline(cancel)
	defer stopTimer()

	def, err := o.definition(runCtx, task.Kind)
	var res agent.Result
	if err == nil {
		res, err = o.attempts(runCtx, a, def.Config, &task, log)
	}

	finished := o.clock.Now()
	task.FinishedAt = &finished
	task.UpdatedAt = finished
	task.DurationMS = finished.Sub(started).Milliseconds()
	o.settle(runCtx, &task, res, err)

	span.SetAttributes(
		attribute.String("task.status", task.Status.String()),
		attribute.Int("task.attempts", task.Attempt),
	)
	if task.Status != model.StatusSucceeded {
		span.RecordError(err)
		span.SetStatus(codes.Error, task.ErrorKind)
	}

	if uerr := o.store.UpdateTask(persistCtx, task); uerr != nil {
		log.Error("persisting task result failed", uerr)
	}
	o.observer.ObserveRun(task.Kind.String(), task.Status.String(), task.Duration())
	log.Info("task finished",
		logger.String("status", task.Status.String()),
		logger.Int("attempts", task.Attempt),
		logger.Duration("elapsed", task.Duration()))

	o.announce(persistCtx, a, task, res, err)
	return task, nil
}

// armDeadline cancels the run when the deadline passes on the orchestrator's
// clock. The returned func releases the timer goroutine.
func (o *Orchestrator) armDeadline(cancel context.CancelCauseFunc) func() {
	done := make(chan struct{})
	fired := o.clock.After(o.cfg.Deadline)
	go func() {
		select {
		case <-fired:
			cancel(errDeadline)
		case <-done:
		}
	}()
	return func() { close(done) }
}

// attempts runs the agent until it succeeds, fails for good or the run is
// cancelled. Backoff waits count against the deadline.
func (o *Orchestrator) attempts(ctx context.Context, a agent.Agent, cfg map[string]any, task *model.AgentTask, log *logger.Logger) (agent.Result, error) {
	policy := o.cfg.Retry
	maxAttempts := policy.Attempts()
	for {
		res, err := o.attempt(ctx, a, cfg, *task)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		kind := apperr.KindOf(err)
		if !kind.Retryable() || task.Attempt >= maxAttempts {
			return nil, err
		}

		delay := policy.Delay(task.Attempt, err)
		log.Warn("attempt failed, retrying",
			logger.Int("attempt", task.Attempt),
			logger.String("error_kind", kind.String()),
			logger.Duration("backoff", delay),
			logger.Err(err))
		agent.Note(ctx, "warn", "attempt failed", logger.Int("attempt", task.Attempt), logger.String("error_kind", kind.String()))
		o.observer.ObserveRetry(task.Kind.String(), kind.String())

		o.transition(ctx, task, model.StatusRetrying, log)
		if serr := clock.Sleep(ctx, o.clock, delay); serr != nil {
			return nil, err
		}
		task.Attempt++
		o.transition(ctx, task, model.StatusRunning, log)
	}
}

func (o *Orchestrator) transition(ctx context.Context, task *model.AgentTask, to model.TaskStatus, log *logger.Logger) {
	task.Status = to
	task.UpdatedAt = o.clock.Now()
	if err := o.store.UpdateTask(context.WithoutCancel(ctx), *task); err != nil {
		log.Error("persisting task transition failed", err, logger.String("status", to.String()))
	}
}

// attempt runs one agent invocation. The body runs on its own goroutine so a
// body that ignores cancellation cannot hold the task past its deadline.
func (o *Orchestrator) attempt(ctx context.Context, a agent.Agent, cfg map[string]any, task model.AgentTask) (agent.Result, error) {
	if b := o.budget(task); b > 0 {
		ctx = quota.WithBudget(ctx, quota.NewBudget(b))
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				agent.Logger(ctx).Error("agent panicked", fmt.Errorf("%v", r), logger.String("stack", string(debug.Stack())))
				done <- outcome{err: apperr.New(apperr.Internal, "", "execute", fmt.Sprintf("panic: %v", r))}
			}
		}()
		res, err := a.Execute(ctx, cfg, task, task.Input)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return out.result, out.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func (o *Orchestrator) budget(task model.AgentTask) int64 {
	if o.cfg.Plan == nil {
		return 0
	}
	mode, _ := task.Input["mode"].(string)
	return o.cfg.Plan.RunBudget(task.Kind, mode)
}

// settle maps the run outcome onto the task row.
func (o *Orchestrator) settle(ctx context.Context, task *model.AgentTask, res agent.Result, err error) {
	cause := context.Cause(ctx)
	switch {
	case err == nil:
		task.Status = model.StatusSucceeded
		task.Result = res
		task.ErrorKind, task.ErrorMessage = "", ""
		return
	case errors.Is(cause, errDeadline):
		task.Status = model.StatusTimedOut
		task.ErrorKind = apperr.Timeout.String()
		task.ErrorMessage = fmt.Sprintf("deadline of %s exceeded", o.cfg.Deadline)
	case ctx.Err() != nil:
		task.Status = model.StatusCancelled
		task.ErrorKind = apperr.Cancelled.String()
		task.ErrorMessage = cause.Error()
	default:
		task.Status = model.StatusFailed
		task.ErrorKind = apperr.KindOf(err).String()
		task.ErrorMessage = err.Error()
	}
	if res != nil {
		task.Result = res
	}
}

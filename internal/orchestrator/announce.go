package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/agent"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
)

// Summary renders the result line of a run: the item counters followed by
// the agent's own summary when it has one.
func Summary(a agent.Agent, r agent.Result) string {
	extra := ""
	if s, ok := a.(agent.Summarizer); ok {
		extra = s.Summarize(r)
	}
	return agent.Summary(r, extra)
}

// announce emits the single notification of a finished task, suspends the
// kind on credential or configuration failures and raises the failure-count
// alert.
func (o *Orchestrator) announce(ctx context.Context, a agent.Agent, task model.AgentTask, res agent.Result, err error) {
	fields := map[string]string{
		"task_id":    task.ID.String(),
		"agent_kind": task.Kind.String(),
		"trigger":    task.Trigger.String(),
		"attempts":   strconv.Itoa(task.Attempt),
		"duration":   task.Duration().Round(time.Millisecond).String(),
	}
	title := fmt.Sprintf("%s: %s", task.Kind, task.Status)

	switch task.Status {
	case model.StatusSucceeded:
		level := notify.LevelInfo
		if res.Fallback() {
			level = notify.LevelWarn
			fields["is_fallback"] = "true"
		}
		o.emit(notify.Event{Kind: notify.KindAlert, Level: level, Title: title, Message: Summary(a, res), Fields: fields})
		return
	case model.StatusTimedOut:
		fields["error_kind"] = task.ErrorKind
		o.emit(notify.Event{Kind: notify.KindError, Level: notify.LevelError, Title: title, Message: task.ErrorMessage, Fields: fields})
	default:
		fields["error_kind"] = task.ErrorKind
		level := notify.LevelError
		if kind := apperr.KindOf(err); kind.Critical() && task.Status == model.StatusFailed {
			level = notify.LevelCritical
			o.suspend(task.Kind, task.ErrorMessage)
			fields["suspended"] = "true"
			o.log.Warn("agent suspended until resumed",
				logger.String("agent_kind", task.Kind.String()),
				logger.String("error_kind", kind.String()))
		}
		o.emit(notify.Event{Kind: notify.KindError, Level: level, Title: title, Message: task.ErrorMessage, Fields: fields})
	}
	o.checkFailures(ctx, task.Kind)
}

func (o *Orchestrator) emit(e notify.Event) {
	if o.notifier == nil {
		o.log.Info("notification", logger.String("level", string(e.Level)), logger.String("title", e.Title), logger.String("message", e.Message))
		return
	}
	e.Timestamp = o.clock.Now()
	o.notifier.Emit(e)
}

// checkFailures raises one warn per local day once kind failed often enough
// inside the failure window.
func (o *Orchestrator) checkFailures(ctx context.Context, kind model.AgentKind) {
	now := o.clock.Now()
	n, err := o.store.CountFailures(ctx, kind, now.Add(-o.cfg.FailureWindow))
	if err != nil {
		o.log.Error("counting failures failed", err, logger.String("agent_kind", kind.String()))
		return
	}
	if n < o.cfg.FailureThreshold || o.coalescer == nil {
		return
	}
	day := now.In(o.cfg.Zone).Format(time.DateOnly)
	o.coalescer.Once(ctx, "failures:"+kind.String(), day, func() {
		o.emit(notify.Event{
			Kind:    notify.KindAlert,
			Level:   notify.LevelWarn,
			Title:   fmt.Sprintf("%s: repeated failures", kind),
			Message: fmt.Sprintf("%d failed runs in the last %s", n, o.cfg.FailureWindow),
			Fields: map[string]string{
				"agent_kind": kind.String(),
				"failures":   strconv.Itoa(n),
				"day":        day,
			},
		})
	})
}

// journal persists task-scoped log lines to the run store.
type journal struct {
	store  store.RunStore
	taskID uuid.UUID
	clock  clock.Clock
	log    *logger.Logger
}

func (j *journal) Append(ctx context.Context, level, msg string, fields map[string]any) {
	err := j.store.AppendLog(context.WithoutCancel(ctx), model.AgentLog{
		ID:        uuid.New(),
		TaskID:    j.taskID,
		Level:     level,
		Message:   msg,
		Fields:    fields,
		CreatedAt: j.clock.Now(),
	})
	if err != nil {
		j.log.Debug("journal append failed", logger.Err(err))
	}
}

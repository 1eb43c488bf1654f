package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cron"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/orchestrator"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/store"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/workers"
)

type taskRunner interface {
	Prepare(ctx context.Context, req orchestrator.Request) (model.AgentTask, error)
	Run(ctx context.Context, task model.AgentTask) (model.AgentTask, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Abandon(ctx context.Context, id uuid.UUID, cause error) error
}

type submitter interface {
	Submit(task workers.Task) error
}

type reporter interface {
	DailyReport(fields map[string]string)
}

// dispatcher turns scheduler jobs into queued runs. System jobs run inline.
type dispatcher struct {
	orch     taskRunner
	pool     submitter
	runs     store.RunStore
	reporter reporter
	zone     *time.Location
	logger   *logger.Logger
}

func newDispatcher(orch taskRunner, pool submitter, runs store.RunStore, rep reporter, zone *time.Location, log *logger.Logger) *dispatcher {
	return &dispatcher{
		orch:     orch,
		pool:     pool,
		runs:     runs,
		reporter: rep,
		zone:     zone,
		logger:   log.With(logger.String("component", "dispatcher")),
	}
}

// Dispatch creates the pending task and queues its run. It never waits for
// the run itself; a full queue cancels the task it just created.
func (d *dispatcher) Dispatch(ctx context.Context, job cron.Job) error {
	if job.Spec.System() {
		return d.system(ctx, job)
	}

	task, err := d.orch.Prepare(ctx, orchestrator.Request{
		Kind:    job.Spec.Kind,
		Trigger: job.Trigger,
		Input:   job.Input,
	})
	if err != nil {
		return fmt.Errorf("prepare %s: %w", job.Spec.Kind, err)
	}

	err = d.pool.Submit(workers.Task{
		ID:   task.ID.String(),
		Kind: task.Kind.String(),
		Run: func(ctx context.Context) error {
			finished, err := d.orch.Run(ctx, task)
			if err != nil {
				return err
			}
			if finished.Status != model.StatusSucceeded {
				return fmt.Errorf("task %s %s: %s", finished.ID, finished.Status, finished.ErrorMessage)
			}
			return nil
		},
		OnSkip: func(cause error) {
			reason := fmt.Errorf("task dropped from queue at shutdown: %w", cause)
			if err := d.orch.Abandon(context.WithoutCancel(ctx), task.ID, reason); err != nil {
				d.logger.Error("failed to abandon queued task", err, logger.String("task_id", task.ID.String()))
			}
		},
	})
	if err != nil {
		if cerr := d.orch.Cancel(context.WithoutCancel(ctx), task.ID); cerr != nil {
			d.logger.Error("failed to cancel unqueued task", cerr, logger.String("task_id", task.ID.String()))
		}
		return fmt.Errorf("queue %s: %w", job.Spec.Kind, err)
	}
	return nil
}

func (d *dispatcher) system(ctx context.Context, job cron.Job) error {
	switch job.Spec.Name {
	case cron.DailyReport:
		return d.dailyReport(ctx, job.At)
	default:
		return fmt.Errorf("unknown system job %q", job.Spec.Name)
	}
}

type runCounts struct {
	total     int
	succeeded int
	failed    int
}

func (c *runCounts) add(t model.AgentTask) {
	c.total++
	switch t.Status {
	case model.StatusSucceeded:
		c.succeeded++
	case model.StatusFailed, model.StatusTimedOut:
		c.failed++
	}
}

func (c runCounts) String() string {
	return fmt.Sprintf("%d件 (成功 %d / 失敗 %d)", c.total, c.succeeded, c.failed)
}

// dailyReport posts the run counts per agent kind for the local day of at.
func (d *dispatcher) dailyReport(ctx context.Context, at time.Time) error {
	local := at.In(d.zone)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.zone)

	fields := map[string]string{"date": day.Format(time.DateOnly)}
	var all runCounts
	for _, kind := range model.AgentKinds() {
		runs, err := d.runs.ListRuns(ctx, store.RunFilter{Kind: kind, Since: day, Until: day.AddDate(0, 0, 1)})
		if err != nil {
			return fmt.Errorf("daily report: list %s runs: %w", kind, err)
		}
		var c runCounts
		for _, t := range runs {
			c.add(t)
			all.add(t)
		}
		fields[kind.String()] = c.String()
	}
	fields["total"] = strconv.Itoa(all.total)
	fields["failed"] = strconv.Itoa(all.failed)

	d.reporter.DailyReport(fields)
	d.logger.Info("daily report posted",
		logger.String("date", fields["date"]),
		logger.Int("runs", all.total),
		logger.Int("failed", all.failed))
	return nil
}

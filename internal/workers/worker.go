package workers

import (
	"fmt"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

// worker drains the queue until it is closed.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", logger.Int("worker_id", id))
	for task := range p.taskQueue {
		p.observer.SetPoolQueueDepth(len(p.taskQueue))
		p.processTask(id, task)
	}
	p.logger.Debug("worker stopping", logger.Int("worker_id", id))
}

// processTask runs a single task and records its outcome.
func (p *WorkerPool) processTask(workerID int, task Task) {
	start := time.Now()

	var (
		err     error
		outcome string
	)
	if p.ctx.Err() != nil {
		err = p.ctx.Err()
		outcome = OutcomeSkipped
		p.skip(task, err)
	} else {
		outcome, err = p.execute(task)
	}
	result := Result{TaskID: task.ID, Kind: task.Kind, Err: err, Duration: time.Since(start)}

	if err != nil {
		p.incrementFailed()
	} else {
		p.incrementCompleted()
	}
	p.recordDuration(result.Duration)
	p.observer.ObservePoolTask(task.Kind, outcome, result.Duration)
	if p.onResult != nil {
		p.onResult(result)
	}

	fields := []logger.Field{
		logger.Int("worker_id", workerID),
		logger.String("task_id", task.ID),
		logger.String("task_kind", task.Kind),
		logger.String("outcome", outcome),
		logger.Int64("duration_ms", result.Duration.Milliseconds()),
	}
	if err != nil {
		p.logger.Warn("task finished with error", append(fields, logger.Err(err))...)
		return
	}
	p.logger.Debug("task processed", fields...)
}

// execute calls task.Run with panic recovery.
func (p *WorkerPool) execute(task Task) (outcome string, err error) {
	if task.Run == nil {
		return OutcomeError, apperr.New(apperr.InvalidInput, "", "workers", "task has no body")
	}
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Errorf(apperr.Internal, "panic during task %s: %v", task.ID, r)
			outcome = OutcomePanic
			p.logger.Error("task panic recovered", fmt.Errorf("panic: %v", r),
				logger.String("task_id", task.ID))
		}
	}()

	if err := task.Run(p.ctx); err != nil {
		return OutcomeError, err
	}
	return OutcomeOK, nil
}


// skip hands a task that will never run back to its owner.
func (p *WorkerPool) skip(task Task, err error) {
	if task.OnSkip == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("skip hook panic recovered", fmt.Errorf("panic: %v", r),
				logger.String("task_id", task.ID))
		}
	}()
	task.OnSkip(err)
}

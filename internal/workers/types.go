// Package workers provides a bounded worker pool for background agent runs.
// Submission never blocks: a full queue is reported to the caller so the
// scheduler loop keeps its cadence.
package workers

import (
	"context"
	"errors"
	"time"
)

// Task is a unit of work executed by a worker.
type Task struct {
	ID   string // Unique task identifier
	Kind string // Label used in logs and metrics, e.g. an agent kind
	Run  func(ctx context.Context) error
	// OnSkip is called instead of Run when the pool stops before the task
	// starts. Optional.
	OnSkip func(err error)
}

// Result is the outcome of a task execution.
type Result struct {
	TaskID   string
	Kind     string
	Err      error
	Duration time.Duration
}

// PoolMetrics tracks execution counters for the pool.
type PoolMetrics struct {
	TasksSubmitted uint64
	TasksRejected  uint64
	TasksCompleted uint64
	TasksFailed    uint64
	TotalDuration  time.Duration
}

// Observer receives pool telemetry.
type Observer interface {
	ObservePoolTask(kind, outcome string, elapsed time.Duration)
	SetPoolQueueDepth(depth int)
}

type nopObserver struct{}

func (nopObserver) ObservePoolTask(string, string, time.Duration) {}

func (nopObserver) SetPoolQueueDepth(int) {}

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("worker pool queue is full")
	// ErrStopped is returned by Submit after Shutdown has begun.
	ErrStopped = errors.New("worker pool is stopped")
)

// Constants for worker pool configuration
const (
	DefaultPoolSize  = 4
	DefaultQueueSize = 100
)

// Outcome labels reported to the Observer.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomePanic   = "panic"
	OutcomeSkipped = "skipped"
)

package workers

import (
	"context"
	"sync"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

// WorkerPool manages a fixed set of goroutines draining a bounded queue.
type WorkerPool struct {
	taskQueue chan Task
	workers   int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *logger.Logger
	observer  Observer
	onResult  func(Result)

	mu      sync.Mutex
	started bool
	stopped bool
	metrics PoolMetrics
}

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithObserver reports task outcomes and queue depth to o.
func WithObserver(o Observer) Option {
	return func(p *WorkerPool) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithResultHook calls fn after every task. fn runs on the worker goroutine.
func WithResultHook(fn func(Result)) Option {
	return func(p *WorkerPool) { p.onResult = fn }
}

// NewPool creates a pool with the given parallelism and queue capacity.
// Non-positive values fall back to DefaultPoolSize and DefaultQueueSize.
func NewPool(workers, bufferSize int, log *logger.Logger, opts ...Option) *WorkerPool {
	if workers <= 0 {
		workers = DefaultPoolSize
	}
	if bufferSize <= 0 {
		bufferSize = DefaultQueueSize
	}
	if log == nil {
		log = logger.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		taskQueue: make(chan Task, bufferSize),
		workers:   workers,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log,
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	p.logger.Info("starting worker pool",
		logger.Int("workers", p.workers),
		logger.Int("buffer_size", cap(p.taskQueue)))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues task without blocking.
func (p *WorkerPool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		p.metrics.TasksRejected++
		return ErrStopped
	}

	select {
	case p.taskQueue <- task:
		p.metrics.TasksSubmitted++
		p.observer.SetPoolQueueDepth(len(p.taskQueue))
		p.logger.Debug("task submitted",
			logger.String("task_id", task.ID),
			logger.String("task_kind", task.Kind))
		return nil
	default:
		p.metrics.TasksRejected++
		p.logger.Warn("worker pool queue full, task rejected",
			logger.String("task_id", task.ID),
			logger.String("task_kind", task.Kind),
			logger.Int("queue_size", cap(p.taskQueue)))
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued and in-flight tasks.
// When ctx expires first, running tasks are cancelled and queued tasks are
// skipped through their OnSkip hook. Shutdown then waits for the workers
// before returning ctx's error.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.taskQueue)
	started := p.started
	p.mu.Unlock()

	if !started {
		p.cancel()
		for task := range p.taskQueue {
			p.skip(task, ErrStopped)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		p.logger.Warn("worker pool drain deadline reached, cancelling running tasks")
		p.cancel()
		<-done
	}
	p.cancel()

	m := p.Metrics()
	p.logger.Info("worker pool stopped",
		Uint64("tasks_submitted", m.TasksSubmitted),
		Uint64("tasks_completed", m.TasksCompleted),
		Uint64("tasks_failed", m.TasksFailed),
		Uint64("tasks_rejected", m.TasksRejected))
	return err
}

// WorkerCount returns the configured parallelism.
func (p *WorkerPool) WorkerCount() int {
	return p.workers
}

// QueueSize returns the number of tasks waiting in the queue.
func (p *WorkerPool) QueueSize() int {
	return len(p.taskQueue)
}

// Uint64 is a logger field for unsigned counters.
func Uint64(key string, v uint64) logger.Field {
	return logger.Field{Key: key, Value: v}
}

package workers

import (
	"time"
)

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

func (p *WorkerPool) incrementCompleted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.TasksCompleted++
}

func (p *WorkerPool) incrementFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.TasksFailed++
}

func (p *WorkerPool) recordDuration(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.TotalDuration += d
}

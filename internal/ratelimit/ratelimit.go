// Package ratelimit paces provider calls with one token bucket per rate class.
// A 429 with Retry-After pauses the whole bucket, so every caller sharing the
// class waits it out.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
)

// Limit sizes one bucket.
type Limit struct {
	PerSecond float64
	Burst     int
}

// DefaultLimit applies to classes without explicit configuration.
var DefaultLimit = Limit{PerSecond: 5, Burst: 5}

// Metrics counts limiter activity.
type Metrics struct {
	Requests  atomic.Int64
	Waited    atomic.Int64
	Penalties atomic.Int64
}

type bucket struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	pausedUntil time.Time
}

// Registry owns the buckets of one process.
type Registry struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string]*bucket
	clock   clock.Clock
	metrics Metrics
}

// NewRegistry creates a registry with per-class limits.
func NewRegistry(limits map[string]Limit, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	copied := make(map[string]Limit, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	return &Registry{
		limits:  copied,
		buckets: make(map[string]*bucket),
		clock:   clk,
	}
}

func (r *Registry) bucket(class string) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buckets[class]; ok {
		return b
	}
	l, ok := r.limits[class]
	if !ok {
		l = DefaultLimit
	}
	if l.Burst <= 0 {
		l.Burst = 1
	}
	lim := rate.Limit(l.PerSecond)
	if l.PerSecond <= 0 {
		lim = rate.Inf
	}
	b := &bucket{limiter: rate.NewLimiter(lim, l.Burst)}
	r.buckets[class] = b
	return b
}

// Wait blocks until class admits one call or ctx is done.
func (r *Registry) Wait(ctx context.Context, class string) error {
	r.metrics.Requests.Add(1)
	b := r.bucket(class)

	b.mu.Lock()
	until := b.pausedUntil
	b.mu.Unlock()

	if pause := until.Sub(r.clock.Now()); pause > 0 {
		r.metrics.Waited.Add(1)
		if err := clock.Sleep(ctx, r.clock, pause); err != nil {
			return apperr.Wrap(apperr.KindOf(err), class, "rate_wait", err)
		}
	}

	if b.limiter.Tokens() < 1 {
		r.metrics.Waited.Add(1)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return apperr.Wrap(apperr.KindOf(ctx.Err()), class, "rate_wait", err)
		}
		return apperr.Wrap(apperr.RateLimited, class, "rate_wait", err)
	}
	return nil
}

// Penalize pauses class for d. Overlapping penalties keep the later deadline.
func (r *Registry) Penalize(class string, d time.Duration) {
	if d <= 0 {
		return
	}
	r.metrics.Penalties.Add(1)
	b := r.bucket(class)
	until := r.clock.Now().Add(d)

	b.mu.Lock()
	if until.After(b.pausedUntil) {
		b.pausedUntil = until
	}
	b.mu.Unlock()
}

// PausedFor reports the remaining penalty on class.
func (r *Registry) PausedFor(class string) time.Duration {
	b := r.bucket(class)
	b.mu.Lock()
	defer b.mu.Unlock()
	if d := b.pausedUntil.Sub(r.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// Stats returns a snapshot of the counters.
func (r *Registry) Stats() (requests, waited, penalties int64) {
	return r.metrics.Requests.Load(), r.metrics.Waited.Load(), r.metrics.Penalties.Load()
}

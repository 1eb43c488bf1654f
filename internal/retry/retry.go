// Package retry provides exponential backoff with jitter for transient failures.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 60 * time.Second
)

// Policy represents retry configuration.
type Policy struct {
	MaxAttempts    int           // total attempts including the first (default: 3)
	InitialBackoff time.Duration // delay after the first failure (default: 1s)
	MaxBackoff     time.Duration // cap before jitter (default: 60s)

	// Jitter returns the random extra wait added to every delay.
	// Nil means uniform in [0, 1s).
	Jitter func() time.Duration
}

// DefaultPolicy returns the policy used for task and provider retries.
func DefaultPolicy() Policy {
	return Policy{}.withDefaults()
}

// NoJitter disables jitter. Useful in tests.
func NoJitter() time.Duration { return 0 }

func defaultJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(time.Second)))
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialDelay
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxDelay
	}
	if p.Jitter == nil {
		p.Jitter = defaultJitter
	}
	return p
}

// Backoff returns the delay after the given failed attempt (1-based), without jitter:
// InitialBackoff * 2^(attempt-1), capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	backoff := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// Delay returns the full wait after attempt: backoff plus jitter, and never
// shorter than a Retry-After hint carried by err.
func (p Policy) Delay(attempt int, err error) time.Duration {
	p = p.withDefaults()
	d := p.Backoff(attempt) + p.Jitter()
	if ra := apperr.RetryAfterOf(err); ra > d {
		d = ra
	}
	return d
}

// Attempts returns the effective attempt limit.
func (p Policy) Attempts() int {
	return p.withDefaults().MaxAttempts
}

// Do executes fn until it succeeds, fails with a non-retryable error or the
// attempt limit is reached. Waits are taken on clk and abort when ctx is done.
func Do[T any](ctx context.Context, clk clock.Clock, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !apperr.IsRetryable(err) || attempt == p.MaxAttempts {
			break
		}
		if err := clock.Sleep(ctx, clk, p.Delay(attempt, err)); err != nil {
			return zero, apperr.Wrap(apperr.KindOf(err), "", "", fmt.Errorf("retry wait interrupted: %w", lastErr))
		}
	}
	return zero, lastErr
}

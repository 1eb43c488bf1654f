// Package breaker implements a lock-free circuit breaker used by provider
// clients to fail fast while an upstream keeps returning transient errors.
package breaker

import (
	"sync/atomic"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
)

type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	defaultThreshold = 5
	defaultCooldown  = 30 * time.Second
)

// CircuitBreaker opens after Threshold consecutive failures and lets a single
// probe through once Cooldown has passed.
type CircuitBreaker struct {
	name      string
	state     atomic.Int32
	failures  atomic.Int32
	lastFail  atomic.Int64
	probing   atomic.Int32
	trips     atomic.Int64
	threshold int32
	cooldown  time.Duration
	clock     clock.Clock

	// OnStateChange, when set, observes every transition.
	OnStateChange func(name string, to State)
}

// New creates a breaker. Zero threshold or cooldown selects the defaults (5, 30s).
func New(name string, threshold int, cooldown time.Duration, clk clock.Clock) *CircuitBreaker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &CircuitBreaker{
		name:      name,
		threshold: int32(threshold),
		cooldown:  cooldown,
		clock:     clk,
	}
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	for {
		switch State(cb.state.Load()) {
		case Closed:
			return true

		case Open:
			lastFail := time.Unix(0, cb.lastFail.Load())
			if cb.clock.Now().Sub(lastFail) <= cb.cooldown {
				return false
			}
			if !cb.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
				continue
			}
			cb.probing.Store(1)
			cb.notify(HalfOpen)
			return true

		case HalfOpen:
			return cb.probing.CompareAndSwap(0, 1)
		}
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	cb.probing.Store(0)
	if State(cb.state.Swap(int32(Closed))) != Closed {
		cb.notify(Closed)
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	n := cb.failures.Add(1)
	cb.lastFail.Store(cb.clock.Now().UnixNano())

	switch State(cb.state.Load()) {
	case HalfOpen:
		cb.probing.Store(0)
		if cb.state.CompareAndSwap(int32(HalfOpen), int32(Open)) {
			cb.trips.Add(1)
			cb.notify(Open)
		}
	case Closed:
		if n >= cb.threshold && cb.state.CompareAndSwap(int32(Closed), int32(Open)) {
			cb.trips.Add(1)
			cb.notify(Open)
		}
	}
}

func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// Trips counts transitions into Open.
func (cb *CircuitBreaker) Trips() int64 {
	return cb.trips.Load()
}

func (cb *CircuitBreaker) Reset() {
	cb.failures.Store(0)
	cb.probing.Store(0)
	cb.state.Store(int32(Closed))
}

func (cb *CircuitBreaker) notify(to State) {
	if cb.OnStateChange != nil {
		cb.OnStateChange(cb.name, to)
	}
}

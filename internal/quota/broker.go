// Package quota accounts provider daily budgets. Every metered call goes
// through Reserve, then Commit after the upstream call succeeds or Rollback
// when it fails.
package quota

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
)

const dayLayout = "2006-01-02"

// Decision is the outcome of Reserve.
type Decision int

const (
	Deny Decision = iota
	Allow
	Warn
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Warn:
		return "warn"
	default:
		return "deny"
	}
}

// Limits configures one metered provider.
type Limits struct {
	DailyLimit int64
	WarnRatio  float64
	StopRatio  float64
	// ResetZone is the zone whose midnight starts a new quota day.
	ResetZone *time.Location
}

// SearchPlatformLimits are the published limits of the video search platform:
// 10,000 units per day, reset at midnight UTC-8 (17:00 in Tokyo).
func SearchPlatformLimits() Limits {
	return Limits{
		DailyLimit: 10_000,
		WarnRatio:  0.80,
		StopRatio:  0.95,
		ResetZone:  time.FixedZone("UTC-8", -8*60*60),
	}
}

func (l Limits) withDefaults() Limits {
	if l.WarnRatio <= 0 {
		l.WarnRatio = 0.80
	}
	if l.StopRatio <= 0 {
		l.StopRatio = 0.95
	}
	if l.ResetZone == nil {
		l.ResetZone = time.UTC
	}
	return l
}

func (l Limits) warnAt() float64 { return l.WarnRatio * float64(l.DailyLimit) }
func (l Limits) stopAt() float64 { return l.StopRatio * float64(l.DailyLimit) }

// CounterStore persists committed usage.
type CounterStore interface {
	LoadUsage(ctx context.Context, provider, day string) (used int64, found bool, err error)
	SaveUsage(ctx context.Context, provider, day string, used, limit int64) error
}

// Warner is told about threshold crossings. Implementations coalesce per day.
type Warner interface {
	QuotaWarning(ctx context.Context, provider, day string, used, limit int64)
	QuotaExhausted(ctx context.Context, provider, day string, used, limit int64)
}

// Observer receives usage for metrics.
type Observer interface {
	ObserveQuota(provider string, used, limit int64)
	ObserveQuotaDecision(provider, decision string)
}

type counterKey struct {
	provider string
	day      string
}

type counter struct {
	mu       sync.Mutex
	loaded   bool
	used     int64
	reserved int64
}

// Broker owns the counters of every metered provider.
type Broker struct {
	limits   map[string]Limits
	store    CounterStore
	warner   Warner
	observer Observer
	clock    clock.Clock
	logger   *logger.Logger

	mu       sync.Mutex
	counters map[counterKey]*counter
}

// Option customises a Broker.
type Option func(*Broker)

func WithStore(s CounterStore) Option { return func(b *Broker) { b.store = s } }
func WithWarner(w Warner) Option { return func(b *Broker) { b.warner = w } }
func WithObserver(o Observer) Option { return func(b *Broker) { b.observer = o } }
func WithClock(c clock.Clock) Option { return func(b *Broker) { b.clock = c } }
func WithLogger(l *logger.Logger) Option { return func(b *Broker) { b.logger = l } }

// NewBroker creates a broker for the given metered providers. Providers not
// listed are unmetered: Reserve always allows them.
func NewBroker(limits map[string]Limits, opts ...Option) *Broker {
	b := &Broker{
		limits:   make(map[string]Limits, len(limits)),
		clock:    clock.Real{},
		logger:   logger.Discard(),
		counters: make(map[counterKey]*counter),
	}
	for p, l := range limits {
		b.limits[p] = l.withDefaults()
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Metered reports whether provider has a daily limit.
func (b *Broker) Metered(provider string) bool {
	_, ok := b.limits[provider]
	return ok
}

// Day returns the quota day of provider at t.
func (b *Broker) Day(provider string, t time.Time) string {
	l, ok := b.limits[provider]
	if !ok {
		return t.UTC().Format(dayLayout)
	}
	return t.In(l.ResetZone).Format(dayLayout)
}

func (b *Broker) counter(provider, day string) *counter {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := counterKey{provider: provider, day: day}
	c, ok := b.counters[k]
	if !ok {
		c = &counter{}
		b.counters[k] = c
	}
	return c
}

// ensureLoaded must be called with c.mu held.
func (b *Broker) ensureLoaded(ctx context.Context, c *counter, provider, day string) error {
	if c.loaded {
		return nil
	}
	if b.store != nil {
		used, found, err := b.store.LoadUsage(ctx, provider, day)
		if err != nil {
			return apperr.Wrap(apperr.Database, provider, "quota_load", err)
		}
		if found {
			c.used = used
		}
	}
	c.loaded = true
	return nil
}

// Reserve atomically claims cost units. The call is denied once used plus
// outstanding reservations reach the stop threshold, or when cost would push
// the day past its hard limit. A granted reservation that ends at or above
// the warn threshold carries Warn.
func (b *Broker) Reserve(ctx context.Context, provider string, cost int64) (*Reservation, error) {
	l, ok := b.limits[provider]
	if !ok || cost <= 0 {
		return &Reservation{Provider: provider, Cost: cost, Decision: Allow}, nil
	}

	day := b.Day(provider, b.clock.Now())
	c := b.counter(provider, day)

	c.mu.Lock()
	if err := b.ensureLoaded(ctx, c, provider, day); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	inFlight := c.used + c.reserved
	if float64(inFlight) >= l.stopAt() || inFlight+cost > l.DailyLimit {
		used := c.used
		c.mu.Unlock()
		b.observeDecision(provider, Deny)
		if b.warner != nil {
			b.warner.QuotaExhausted(ctx, provider, day, used, l.DailyLimit)
		}
		return &Reservation{Provider: provider, Day: day, Cost: cost, Decision: Deny},
			apperr.New(apperr.QuotaExhausted, provider, "reserve",
				fmt.Sprintf("daily quota stop reached (%d+%d of %d)", inFlight, cost, l.DailyLimit))
	}
	c.reserved += cost
	decision := Allow
	if float64(inFlight+cost) >= l.warnAt() {
		decision = Warn
	}
	used := c.used
	c.mu.Unlock()

	b.observeDecision(provider, decision)
	if decision == Warn && b.warner != nil {
		b.warner.QuotaWarning(ctx, provider, day, used+cost, l.DailyLimit)
	}
	return &Reservation{Provider: provider, Day: day, Cost: cost, Decision: decision, broker: b}, nil
}

func (b *Broker) commit(ctx context.Context, r *Reservation) error {
	l := b.limits[r.Provider]
	c := b.counter(r.Provider, r.Day)

	c.mu.Lock()
	c.reserved -= r.Cost
	c.used += r.Cost
	used := c.used
	var err error
	if b.store != nil {
		err = b.store.SaveUsage(ctx, r.Provider, r.Day, used, l.DailyLimit)
	}
	c.mu.Unlock()

	if b.observer != nil {
		b.observer.ObserveQuota(r.Provider, used, l.DailyLimit)
	}
	if err != nil {
		b.logger.Error("failed to persist quota usage", err,
			logger.String("provider", r.Provider), logger.String("day", r.Day), logger.Int64("used", used))
		return apperr.Wrap(apperr.Database, r.Provider, "quota_save", err)
	}
	return nil
}

func (b *Broker) rollback(r *Reservation) {
	c := b.counter(r.Provider, r.Day)
	c.mu.Lock()
	c.reserved -= r.Cost
	c.mu.Unlock()
}

// Commit makes r durable. Committing twice is a no-op.
func (b *Broker) Commit(ctx context.Context, r *Reservation) error {
	return r.Commit(ctx)
}

// Rollback releases r. Rolling back a committed reservation is a no-op.
func (b *Broker) Rollback(r *Reservation) {
	r.Rollback()
}

// Usage returns the counter of provider for the current quota day.
func (b *Broker) Usage(ctx context.Context, provider string) (model.QuotaCounter, error) {
	l, ok := b.limits[provider]
	if !ok {
		return model.QuotaCounter{}, apperr.New(apperr.NotFound, provider, "usage", "provider is not metered")
	}
	day := b.Day(provider, b.clock.Now())
	c := b.counter(provider, day)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := b.ensureLoaded(ctx, c, provider, day); err != nil {
		return model.QuotaCounter{}, err
	}
	return model.QuotaCounter{Provider: provider, Day: day, Used: c.used, Reserved: c.reserved, Limit: l.DailyLimit}, nil
}

// Reset opens the counter of (provider, day) and drops finished days that
// have no outstanding reservations. Usage already charged to day is kept:
// counters are keyed by day, so a new day starts from zero on its own.
func (b *Broker) Reset(ctx context.Context, provider, day string) error {
	l, ok := b.limits[provider]
	if !ok {
		return nil
	}

	b.mu.Lock()
	for k, c := range b.counters {
		if k.provider != provider || k.day == day {
			continue
		}
		c.mu.Lock()
		idle := c.reserved == 0
		c.mu.Unlock()
		if idle {
			delete(b.counters, k)
		}
	}
	b.mu.Unlock()

	c := b.counter(provider, day)
	c.mu.Lock()
	err := b.ensureLoaded(ctx, c, provider, day)
	used := c.used
	if err == nil && b.store != nil {
		err = b.store.SaveUsage(ctx, provider, day, used, l.DailyLimit)
	}
	c.mu.Unlock()

	if b.observer != nil {
		b.observer.ObserveQuota(provider, used, l.DailyLimit)
	}
	if err != nil {
		return apperr.Wrap(apperr.Database, provider, "quota_reset", err)
	}
	b.logger.Info("quota counter reset",
		logger.String("provider", provider),
		logger.String("day", day),
		logger.Int64("used", used))
	return nil
}

// NextReset returns the first reset instant of provider strictly after t.
func (b *Broker) NextReset(provider string, t time.Time) time.Time {
	l := b.limits[provider].withDefaults()
	local := t.In(l.ResetZone)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, l.ResetZone)
}

// RunResetLoop resets each metered provider at its reset instant until ctx is done.
func (b *Broker) RunResetLoop(ctx context.Context) {
	for {
		now := b.clock.Now()
		var (
			next      time.Time
			providers []string
		)
		for p := range b.limits {
			at := b.NextReset(p, now)
			switch {
			case next.IsZero() || at.Before(next):
				next, providers = at, []string{p}
			case at.Equal(next):
				providers = append(providers, p)
			}
		}
		if next.IsZero() {
			return
		}

		if err := clock.Sleep(ctx, b.clock, next.Sub(now)); err != nil {
			return
		}
		for _, p := range providers {
			if err := b.Reset(ctx, p, b.Day(p, next)); err != nil {
				b.logger.Error("quota reset failed", err, logger.String("provider", p))
			}
		}
	}
}

func (b *Broker) observeDecision(provider string, d Decision) {
	if b.observer != nil {
		b.observer.ObserveQuotaDecision(provider, d.String())
	}
}

// Reservation is a claim on quota units awaiting Commit or Rollback.
type Reservation struct {
	Provider string
	Day      string
	Cost     int64
	Decision Decision

	broker *Broker
	done   atomic.Bool
}

// Commit charges the reserved units.
func (r *Reservation) Commit(ctx context.Context) error {
	if r == nil || r.broker == nil || !r.done.CompareAndSwap(false, true) {
		return nil
	}
	return r.broker.commit(ctx, r)
}

// Rollback releases the reserved units.
func (r *Reservation) Rollback() {
	if r == nil || r.broker == nil || !r.done.CompareAndSwap(false, true) {
		return
	}
	r.broker.rollback(r)
}

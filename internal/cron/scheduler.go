package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
)

// lateThreshold is how late a wake-up may be and still dispatch its instant.
const lateThreshold = time.Minute

// Job is one dispatch produced by the scheduler.
type Job struct {
	Spec    Spec
	At      time.Time
	Trigger model.TriggerKind
	Input   map[string]any
}

// Dispatcher hands jobs to whatever executes them. Dispatch must not block on
// the job's execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, job Job) error

func (f DispatchFunc) Dispatch(ctx context.Context, job Job) error { return f(ctx, job) }

// Suspender reports agent kinds that must not be started by the timer, with
// the reason. *orchestrator.Orchestrator satisfies it.
type Suspender interface {
	Suspended(kind model.AgentKind) (reason string, ok bool)
}

// Fire is an upcoming fire instant.
type Fire struct {
	Name string          `json:"name"`
	Kind model.AgentKind `json:"agent_kind,omitempty"`
	Expr string          `json:"cron"`
	At   time.Time       `json:"at"`
}

// Config configures a Scheduler.
type Config struct {
	Specs []Spec
	Zone  *time.Location
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Dispatcher Dispatcher
	Suspender  Suspender
	Clock      clock.Clock
	Logger     *logger.Logger
}

// Scheduler runs the schedule table on a single goroutine.
type Scheduler struct {
	specs      []Spec
	zone       *time.Location
	dispatcher Dispatcher
	suspender  Suspender
	clock      clock.Clock
	logger     *logger.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler validates the table and builds a Scheduler.
func NewScheduler(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Dispatcher == nil {
		return nil, errors.New("scheduler: dispatcher is required")
	}
	seen := make(map[string]bool, len(cfg.Specs))
	specs := make([]Spec, 0, len(cfg.Specs))
	for _, s := range cfg.Specs {
		if seen[s.Name] {
			return nil, fmt.Errorf("scheduler: duplicate schedule %q", s.Name)
		}
		seen[s.Name] = true
		if s.schedule == nil {
			parsed, err := NewSpec(s.Name, s.Expr, s.Kind, s.Input)
			if err != nil {
				return nil, err
			}
			s = parsed
		}
		specs = append(specs, s)
	}

	zone := cfg.Zone
	if zone == nil {
		loaded, err := clock.LoadZone("")
		if err != nil {
			return nil, err
		}
		zone = loaded
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}

	return &Scheduler{
		specs:      specs,
		zone:       zone,
		dispatcher: deps.Dispatcher,
		suspender:  deps.Suspender,
		clock:      deps.Clock,
		logger:     deps.Logger.With(logger.String("component", "scheduler")),
	}, nil
}

// Start launches the loop. It returns an error if already started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	s.logger.Info("scheduler started",
		logger.Int("schedules", len(s.specs)),
		logger.String("zone", s.zone.String()))

	go s.loop(ctx, s.done)
	return nil
}

// Stop ends the loop and waits for it. Jobs already dispatched keep running.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("scheduler not started")
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("scheduler stopped")
	return nil
}

// IsStarted reports whether the loop is running.
func (s *Scheduler) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Specs returns the active schedule table.
func (s *Scheduler) Specs() []Spec {
	return append([]Spec(nil), s.specs...)
}

// Zone returns the zone schedules are evaluated in.
func (s *Scheduler) Zone() *time.Location {
	return s.zone
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if len(s.specs) == 0 {
		s.logger.Warn("scheduler has no schedules")
		<-ctx.Done()
		return
	}

	cursor := s.clock.Now()
	for {
		next, due := s.nearest(cursor)
		wait := next.Sub(s.clock.Now())

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(wait):
		}

		now := s.clock.Now()
		if late := now.Sub(next); late > lateThreshold {
			s.logger.Warn("scheduler woke late, missed instants are skipped",
				logger.Time("scheduled_at", next),
				logger.Duration("late", late),
				logger.Int("skipped", len(due)))
		} else {
			for _, spec := range due {
				s.fire(ctx, spec, next)
			}
		}

		// Recompute from the later of the fired instant and now so a late
		// wake-up never replays missed instants.
		cursor = next
		if now.After(cursor) {
			cursor = now
		}
	}
}

// nearest returns the earliest fire instant after t and every spec due at it.
func (s *Scheduler) nearest(t time.Time) (time.Time, []Spec) {
	var (
		best time.Time
		due  []Spec
	)
	for _, spec := range s.specs {
		at := spec.NextFire(t, s.zone)
		if at.IsZero() {
			continue
		}
		switch {
		case best.IsZero() || at.Before(best):
			best = at
			due = []Spec{spec}
		case at.Equal(best):
			due = append(due, spec)
		}
	}
	return best, due
}

func (s *Scheduler) fire(ctx context.Context, spec Spec, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("schedule dispatch panic recovered", fmt.Errorf("panic: %v", r),
				logger.String("schedule", spec.Name))
		}
	}()

	fields := []logger.Field{
		logger.String("schedule", spec.Name),
		logger.String("agent_kind", spec.Kind.String()),
		logger.Time("fire_at", at.In(s.zone)),
	}
	if !spec.System() && s.suspender != nil {
		if reason, ok := s.suspender.Suspended(spec.Kind); ok {
			s.logger.Warn("agent kind suspended, scheduled run skipped", append(fields, logger.String("reason", reason))...)
			return
		}
	}

	job := Job{Spec: spec, At: at, Trigger: model.TriggerScheduled, Input: spec.InputCopy()}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		s.logger.Error("failed to dispatch scheduled job", err, fields...)
		return
	}
	s.logger.Info("scheduled job dispatched", fields...)
}

// Trigger dispatches a manual one-shot for kind outside the timer.
func (s *Scheduler) Trigger(ctx context.Context, kind model.AgentKind, input map[string]any) error {
	if !kind.Valid() {
		return apperr.Errorf(apperr.UnknownAgent, "unknown agent kind %q", kind)
	}
	if input == nil {
		input = map[string]any{}
	}
	job := Job{
		Spec:    Spec{Name: "manual:" + kind.String(), Kind: kind},
		At:      s.clock.Now(),
		Trigger: model.TriggerManual,
		Input:   input,
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		return fmt.Errorf("dispatch manual %s: %w", kind, err)
	}
	s.logger.Info("manual job dispatched", logger.String("agent_kind", kind.String()))
	return nil
}

// Upcoming lists the next n fire instants across the table, in time order.
// Instants are expressed in the scheduler's zone.
func (s *Scheduler) Upcoming(n int) []Fire {
	if n <= 0 || len(s.specs) == 0 {
		return nil
	}
	now := s.clock.Now()
	cursors := make([]time.Time, len(s.specs))
	for i, spec := range s.specs {
		cursors[i] = spec.NextFire(now, s.zone)
	}

	fires := make([]Fire, 0, n)
	for len(fires) < n {
		idx := -1
		for i, at := range cursors {
			if at.IsZero() {
				continue
			}
			if idx < 0 || at.Before(cursors[idx]) {
				idx = i
			}
		}
		if idx < 0 {
			break
		}
		spec := s.specs[idx]
		fires = append(fires, Fire{Name: spec.Name, Kind: spec.Kind, Expr: spec.Expr, At: cursors[idx].In(s.zone)})
		cursors[idx] = spec.NextFire(cursors[idx], s.zone)
	}
	return fires
}

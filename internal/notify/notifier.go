package notify

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

const defaultQueueSize = 256

// Sink delivers one event to a surface.
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Observer receives delivery outcomes for metrics.
type Observer interface {
	ObserveNotification(level, result string)
}

// Notifier queues events and delivers them to every sink on a background goroutine.
type Notifier struct {
	sinks    []Sink
	queue    chan Event
	logger   *logger.Logger
	clock    clock.Clock
	observer Observer

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Config sizes the notifier.
type Config struct {
	QueueSize int
	Clock     clock.Clock
	Observer  Observer
}

// New starts a notifier. Without sinks every event is only logged.
func New(cfg Config, log *logger.Logger, sinks ...Sink) *Notifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if log == nil {
		log = logger.Discard()
	}
	n := &Notifier{
		sinks:    sinks,
		queue:    make(chan Event, cfg.QueueSize),
		logger:   log,
		clock:    cfg.Clock,
		observer: cfg.Observer,
		done:     make(chan struct{}),
	}
	go n.loop()
	return n
}

// Emit queues e. A full queue drops the event with a log line.
func (n *Notifier) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = n.clock.Now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.Warn("notifier closed, dropping event", logger.String("title", e.Title))
		return
	}
	select {
	case n.queue <- e:
	default:
		n.logger.Warn("notification queue full, dropping event",
			logger.String("title", e.Title), logger.String("level", string(e.Level)))
		n.observe(e.Level, "dropped")
	}
}

// Alert emits an alert event.
func (n *Notifier) Alert(level Level, title, message string, fields map[string]string) {
	n.Emit(Event{Kind: KindAlert, Level: level, Title: title, Message: message, Fields: maps.Clone(fields)})
}

// DailyReport emits the end-of-day summary.
func (n *Notifier) DailyReport(fields map[string]string) {
	n.Emit(Event{Kind: KindDailyReport, Level: LevelInfo, Title: "Daily report", Fields: maps.Clone(fields)})
}

// Deploy announces a lifecycle change of the service.
func (n *Notifier) Deploy(version, status, environment, details string) {
	n.Emit(Event{
		Kind:    KindDeploy,
		Level:   LevelInfo,
		Title:   fmt.Sprintf("Deploy %s: %s", status, version),
		Message: details,
		Fields: map[string]string{
			"version":     version,
			"status":      status,
			"environment": environment,
		},
	})
}

// Error reports an exception with its context.
func (n *Notifier) Error(err error, details map[string]string) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	n.Emit(Event{Kind: KindError, Level: LevelError, Title: "Error", Message: msg, Fields: maps.Clone(details)})
}

func (n *Notifier) loop() {
	defer close(n.done)
	for e := range n.queue {
		n.deliver(e)
	}
}

func (n *Notifier) deliver(e Event) {
	if len(n.sinks) == 0 {
		n.logger.Info("notification (no sink configured)",
			logger.String("level", string(e.Level)), logger.String("title", e.Title), logger.String("message", e.Message))
		n.observe(e.Level, "skipped")
		return
	}
	for _, s := range n.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := s.Send(ctx, e)
		cancel()
		if err != nil {
			n.logger.Error("notification delivery failed", err,
				logger.String("sink", s.Name()), logger.String("title", e.Title))
			n.observe(e.Level, "failed")
			continue
		}
		n.observe(e.Level, "sent")
	}
}

func (n *Notifier) observe(level Level, result string) {
	if n.observer != nil {
		n.observer.ObserveNotification(string(level), result)
	}
}

// Close stops accepting events and waits until the queue is drained or ctx ends.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("notifier did not drain"), ctx.Err())
	}
}

// Package notifytest provides an in-memory sink for tests.
package notifytest

import (
	"context"
	"sync"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
)

// Recorder keeps every delivered event.
type Recorder struct {
	mu      sync.Mutex
	events  []notify.Event
	changed chan struct{}
	Err     error
}

func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{})}
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Send(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	close(r.changed)
	r.changed = make(chan struct{})
	return nil
}

// Events returns a copy of what was delivered so far.
func (r *Recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// ByLevel filters delivered events.
func (r *Recorder) ByLevel(level notify.Level) []notify.Event {
	var out []notify.Event
	for _, e := range r.Events() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// WaitFor blocks until at least n events arrived or timeout passes.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			r.mu.Unlock()
			return true
		}
		ch := r.changed
		r.mu.Unlock()
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
}

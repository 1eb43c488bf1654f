package notify

import (
	"context"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

// AlertStateStore remembers which (rule, day) pairs already fired.
type AlertStateStore interface {
	// MarkFired records the pair and reports whether it was new.
	MarkFired(ctx context.Context, ruleID, day string, at time.Time) (bool, error)
}

// Coalescer announces a threshold crossing once per rule and day.
type Coalescer struct {
	store  AlertStateStore
	clock  clock.Clock
	logger *logger.Logger
}

func NewCoalescer(store AlertStateStore, clk clock.Clock, log *logger.Logger) *Coalescer {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Coalescer{store: store, clock: clk, logger: log}
}

// Once runs fn if (ruleID, day) has not fired yet. When the state store is
// unavailable fn still runs: a duplicate alert beats a lost one.
func (c *Coalescer) Once(ctx context.Context, ruleID, day string, fn func()) bool {
	fresh, err := c.store.MarkFired(ctx, ruleID, day, c.clock.Now())
	if err != nil {
		c.logger.Error("alert state unavailable, emitting anyway", err,
			logger.String("rule_id", ruleID), logger.String("day", day))
		fresh = true
	}
	if fresh {
		fn()
	}
	return fresh
}

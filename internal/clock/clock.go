// Package clock abstracts wall-clock time so schedules, quota days and
// backoff sleeps can be driven by tests.
package clock

import (
	"context"
	"fmt"
	"time"

	// Embedded zone database so Asia/Tokyo resolves on minimal images.
	_ "time/tzdata"
)

// DefaultZone is the zone schedules are resolved in unless configured.
const DefaultZone = "Asia/Tokyo"

// Clock is the time source used across the core.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// LoadZone resolves an IANA zone name, falling back to DefaultZone when name is empty.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", name, err)
	}
	return loc, nil
}

// Sleep waits for d on c, returning early with ctx's error when ctx is done.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

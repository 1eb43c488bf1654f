package agent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MaxFanOut bounds per-item parallelism inside one agent run.
const MaxFanOut = 10

// FanOut calls fn for every item with at most limit calls in flight and
// returns the per-item errors in input order (nil for success). An item
// failure does not stop the others; a done ctx stops starting new ones.
func FanOut[T any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, i int, item T) error) []error {
	if limit <= 0 || limit > MaxFanOut {
		limit = MaxFanOut
	}
	errs := make([]error, len(items))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(ctx, i, item)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
)

// Spend runs one metered call. The run budget in ctx is charged first, then
// the daily counter is reserved; the reservation is committed when fn
// succeeds and rolled back, together with the budget, when it fails.
// A failure to persist the committed usage is logged by the broker and does
// not fail the call, since the upstream side effect already happened.
func (b *Broker) Spend(ctx context.Context, provider, op string, cost int64, fn func(ctx context.Context) error) error {
	budget := BudgetFrom(ctx)
	if !budget.Take(cost) {
		return apperr.New(apperr.QuotaExhausted, provider, op,
			fmt.Sprintf("run budget exhausted (%d spent, %d needed)", budget.Spent(), cost))
	}

	r, err := b.Reserve(ctx, provider, cost)
	if err != nil {
		budget.Refund(cost)
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Op == "reserve" {
			ae.Op = op
		}
		return err
	}

	if err := fn(ctx); err != nil {
		r.Rollback()
		budget.Refund(cost)
		return err
	}
	_ = r.Commit(ctx)
	return nil
}

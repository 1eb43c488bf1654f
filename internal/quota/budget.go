package quota

import (
	"context"
	"sync/atomic"
)

// Budget caps the units one agent run may spend, independent of the daily counter.
type Budget struct {
	limit int64
	spent atomic.Int64
}

// NewBudget returns a budget of limit units; limit <= 0 means unlimited.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

// Take claims cost units and reports whether they fit.
func (b *Budget) Take(cost int64) bool {
	if b == nil {
		return true
	}
	for {
		spent := b.spent.Load()
		if b.limit > 0 && spent+cost > b.limit {
			return false
		}
		if b.spent.CompareAndSwap(spent, spent+cost) {
			return true
		}
	}
}

// Refund returns units claimed by a call that did not happen.
func (b *Budget) Refund(cost int64) {
	if b == nil {
		return
	}
	b.spent.Add(-cost)
}

func (b *Budget) Spent() int64 {
	if b == nil {
		return 0
	}
	return b.spent.Load()
}

// Remaining is the unspent allowance, or -1 when unlimited.
func (b *Budget) Remaining() int64 {
	if b == nil || b.limit <= 0 {
		return -1
	}
	return b.limit - b.spent.Load()
}

type budgetKey struct{}

// WithBudget attaches b to ctx; metered clients charge it before reserving.
func WithBudget(ctx context.Context, b *Budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

// BudgetFrom returns the run budget in ctx, or nil.
func BudgetFrom(ctx context.Context) *Budget {
	b, _ := ctx.Value(budgetKey{}).(*Budget)
	return b
}

package agent

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Standard result keys.
const (
	KeyItemsProcessed = "items_processed"
	KeyItemsSucceeded = "items_succeeded"
	KeyItemsFailed    = "items_failed"
	KeyIsFallback     = "is_fallback"
	KeyQuotaUsed      = "quota_used"
)

// Result is the map an agent run produces. Values must be JSON-encodable.
type Result map[string]any

// Int reads key as an integer, accepting the numeric types a result may hold
// before and after a JSON round-trip.
func (r Result) Int(key string) int64 {
	switch v := r[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	}
	return 0
}

// Bool reads key as a bool.
func (r Result) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Fallback reports whether any part of the run used degraded data.
func (r Result) Fallback() bool { return r.Bool(KeyIsFallback) }

// Summary renders the standard counters followed by extra, e.g.
// "処理: 5件 / 成功: 4件 / 失敗: 1件 / アラート: 3件".
func Summary(r Result, extra string) string {
	parts := []string{
		fmt.Sprintf("処理: %d件", r.Int(KeyItemsProcessed)),
		fmt.Sprintf("成功: %d件", r.Int(KeyItemsSucceeded)),
		fmt.Sprintf("失敗: %d件", r.Int(KeyItemsFailed)),
	}
	if extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, " / ")
}

// Tally counts per-item outcomes; safe for concurrent use.
type Tally struct {
	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	fallback  atomic.Bool
}

func (t *Tally) Succeed() {
	t.processed.Add(1)
	t.succeeded.Add(1)
}

func (t *Tally) Fail() {
	t.processed.Add(1)
	t.failed.Add(1)
}

// Skip counts an item that was looked at but needs no work.
func (t *Tally) Skip() { t.processed.Add(1) }

// Degraded marks the run as having used fallback data.
func (t *Tally) Degraded() { t.fallback.Store(true) }

func (t *Tally) Failed() int64 { return t.failed.Load() }

func (t *Tally) Succeeded() int64 { return t.succeeded.Load() }

func (t *Tally) Processed() int64 { return t.processed.Load() }

// Result returns the counters merged with extra keys.
func (t *Tally) Result(extra map[string]any) Result {
	r := Result{
		KeyItemsProcessed: t.processed.Load(),
		KeyItemsSucceeded: t.succeeded.Load(),
		KeyItemsFailed:    t.failed.Load(),
		KeyIsFallback:     t.fallback.Load(),
	}
	for k, v := range extra {
		r[k] = v
	}
	return r
}

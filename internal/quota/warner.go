package quota

import (
	"context"
	"fmt"
	"strconv"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
)

// NotifyWarner turns threshold crossings into coalesced warn alerts.
type NotifyWarner struct {
	notifier  *notify.Notifier
	coalescer *notify.Coalescer
}

func NewNotifyWarner(n *notify.Notifier, c *notify.Coalescer) *NotifyWarner {
	return &NotifyWarner{notifier: n, coalescer: c}
}

func quotaFields(provider, day string, used, limit int64) map[string]string {
	return map[string]string{
		"provider": provider,
		"day":      day,
		"used":     strconv.FormatInt(used, 10),
		"limit":    strconv.FormatInt(limit, 10),
	}
}

func (w *NotifyWarner) QuotaWarning(ctx context.Context, provider, day string, used, limit int64) {
	w.coalescer.Once(ctx, "quota_warn:"+provider, day, func() {
		w.notifier.Alert(notify.LevelWarn,
			fmt.Sprintf("Quota warning: %s", provider),
			fmt.Sprintf("%d / %d units used (%.0f%%)", used, limit, 100*float64(used)/float64(limit)),
			quotaFields(provider, day, used, limit))
	})
}

func (w *NotifyWarner) QuotaExhausted(ctx context.Context, provider, day string, used, limit int64) {
	w.coalescer.Once(ctx, "quota_exhausted:"+provider, day, func() {
		w.notifier.Alert(notify.LevelWarn,
			fmt.Sprintf("Quota exhausted: %s", provider),
			fmt.Sprintf("further calls are denied until the daily reset (%d / %d units used)", used, limit),
			quotaFields(provider, day, used, limit))
	})
}

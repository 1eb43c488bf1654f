package builders

import (
	"fmt"
	"net/http"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/config"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/notify"
)

const webhookTimeout = 10 * time.Second

type NotifyBuilder struct {
	config   *config.Config
	logger   *logger.Logger
	clock    clock.Clock
	observer notify.Observer
}

func NewNotifyBuilder(cfg *config.Config, log *logger.Logger, clk clock.Clock, obs notify.Observer) *NotifyBuilder {
	return &NotifyBuilder{config: cfg, logger: log, clock: clk, observer: obs}
}

// Sinks returns the configured delivery surfaces. No sinks means events are
// only logged.
func (b *NotifyBuilder) Sinks() ([]notify.Sink, error) {
	nc := b.config.Notify
	var sinks []notify.Sink
	if nc.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(nc.WebhookURL, nc.WebhookFormat, &http.Client{Timeout: webhookTimeout}))
	}
	if nc.TelegramToken != "" {
		tg, err := notify.NewTelegramSink(nc.TelegramToken, nc.TelegramChatID)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram sink: %w", err)
		}
		sinks = append(sinks, tg)
	}
	return sinks, nil
}

// Build starts the notifier with every configured sink plus extra.
func (b *NotifyBuilder) Build(extra ...notify.Sink) (*notify.Notifier, error) {
	sinks, err := b.Sinks()
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, extra...)
	if len(sinks) == 0 {
		b.logger.Warn("no notification sink configured, notifications are only logged")
	}
	for _, s := range sinks {
		b.logger.Info("notification sink enabled", logger.String("sink", s.Name()))
	}
	return notify.New(notify.Config{
		QueueSize: b.config.Notify.QueueSize,
		Clock:     b.clock,
		Observer:  b.observer,
	}, b.logger, sinks...), nil
}

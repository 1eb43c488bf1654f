package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
)

// TelegramSender is the subset of the telego bot used by TelegramSink.
type TelegramSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// TelegramSink posts events as plain-text chat messages.
type TelegramSink struct {
	bot    TelegramSender
	chatID int64
}

// NewTelegramSink builds a sink from a bot token.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewTelegramSinkWithSender(bot, chatID), nil
}

func NewTelegramSinkWithSender(bot TelegramSender, chatID int64) *TelegramSink {
	return &TelegramSink{bot: bot, chatID: chatID}
}

func (t *TelegramSink) Name() string { return "telegram" }

func formatText(e Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Level.emoji(), e.Title)
	if e.Message != "" {
		b.WriteString("\n")
		b.WriteString(e.Message)
	}
	for _, k := range sortedKeys(e.Fields) {
		fmt.Fprintf(&b, "\n• %s: %s", k, e.Fields[k])
	}
	return b.String()
}

func (t *TelegramSink) Send(ctx context.Context, e Event) error {
	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: t.chatID},
		Text:   formatText(e),
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

const sendTimeout = 10 * time.Second

// Webhook payload formats.
const (
	FormatSlack = "slack"
	FormatJSON  = "json"
)

// WebhookSink posts events to a chat webhook.
type WebhookSink struct {
	url    string
	format string
	client *http.Client
}

func NewWebhookSink(url, format string, client *http.Client) *WebhookSink {
	if format == "" {
		format = FormatSlack
	}
	if client == nil {
		client = &http.Client{Timeout: sendTimeout}
	}
	return &WebhookSink{url: url, format: format, client: client}
}

func (w *WebhookSink) Name() string { return "webhook" }

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Ts     int64        `json:"ts"`
}

type slackBody struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (w *WebhookSink) body(e Event) ([]byte, error) {
	if w.format == FormatJSON {
		return json.Marshal(e)
	}
	att := slackAttachment{
		Color: e.Level.color(),
		Title: e.Title,
		Text:  e.Message,
		Ts:    e.Timestamp.Unix(),
	}
	for _, k := range sortedKeys(e.Fields) {
		att.Fields = append(att.Fields, slackField{Title: k, Value: e.Fields[k], Short: len(e.Fields[k]) < 40})
	}
	return json.Marshal(slackBody{
		Text:        fmt.Sprintf("%s %s", e.Level.emoji(), e.Title),
		Attachments: []slackAttachment{att},
	})
}

func (w *WebhookSink) Send(ctx context.Context, e Event) error {
	payload, err := w.body(e)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

// Package tts is the text-to-speech client.
package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/httpx"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
)

const (
	Provider       = "tts"
	DefaultBaseURL = "https://api.elevenlabs.io"
	DefaultModel   = "eleven_multilingual_v2"
	defaultTimeout = 120 * time.Second
	// MaxChars is the longest text accepted by one synthesis call.
	MaxChars = 5000
	// base64 audio of a MaxChars clip runs past the shared default.
	maxAudioBody = 32 << 20
)

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	DefaultVoice string
	Timeout      time.Duration
	Retry        retry.Policy
}

type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Audio is a synthesized clip.
type Audio struct {
	AudioBase64     string  `json:"audio_base64"`
	DurationSeconds float64 `json:"duration_seconds"`
	Voice           string  `json:"voice"`
}

// Bytes decodes the clip.
func (a Audio) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.AudioBase64)
}

type Client struct {
	http *httpx.Client
	cfg  Config
}

func New(cfg Config, deps httpx.Deps) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	apiKey := cfg.APIKey
	return &Client{
		cfg: cfg,
		http: httpx.New(httpx.Config{
			Provider:     Provider,
			BaseURL:      cfg.BaseURL,
			Timeout:      cfg.Timeout,
			Retry:        cfg.Retry,
			MaxBodyBytes: maxAudioBody,
			Authorize: func(r *http.Request) {
				r.Header.Set("xi-api-key", apiKey)
			},
		}, deps),
	}
}

func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

type synthesizeRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *VoiceSettings `json:"voice_settings,omitempty"`
}

type synthesizeResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Alignment   struct {
		EndTimes []float64 `json:"character_end_times_seconds"`
	} `json:"alignment"`
}

// Synthesize renders text with voice (the configured default when empty).
func (c *Client) Synthesize(ctx context.Context, text, voice string, settings *VoiceSettings) (Audio, error) {
	const op = "synthesize"
	if c.cfg.APIKey == "" {
		return Audio{}, apperr.New(apperr.Misconfigured, Provider, op, "api key not configured")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, apperr.New(apperr.InvalidInput, Provider, op, "empty text")
	}
	if n := len([]rune(text)); n > MaxChars {
		return Audio{}, apperr.New(apperr.InvalidInput, Provider, op, fmt.Sprintf("text has %d characters, limit is %d", n, MaxChars))
	}
	if voice == "" {
		voice = c.cfg.DefaultVoice
	}
	if voice == "" {
		return Audio{}, apperr.New(apperr.Misconfigured, Provider, op, "no voice configured")
	}

	var resp synthesizeResponse
	err := c.http.Do(ctx, httpx.Request{
		Op:     op,
		Method: http.MethodPost,
		Path:   "/v1/text-to-speech/" + url.PathEscape(voice) + "/with-timestamps",
		Body:   synthesizeRequest{Text: text, ModelID: c.cfg.Model, VoiceSettings: settings},
	}, &resp)
	if err != nil {
		return Audio{}, err
	}
	if resp.AudioBase64 == "" {
		return Audio{}, apperr.New(apperr.Unavailable, Provider, op, "empty audio in response")
	}

	audio := Audio{AudioBase64: resp.AudioBase64, Voice: voice}
	if n := len(resp.Alignment.EndTimes); n > 0 {
		audio.DurationSeconds = resp.Alignment.EndTimes[n-1]
	}
	return audio, nil
}

// Package avatar is the avatar-video client: jobs are submitted and then
// polled until the render completes or fails.
package avatar

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/provider/httpx"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
)

const (
	Provider            = "avatar"
	DefaultBaseURL      = "https://api.heygen.com"
	DefaultPollInterval = 10 * time.Second
	defaultTimeout      = 30 * time.Second
)

// Status of a render job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Done reports whether the job reached a final state.
func (s Status) Done() bool { return s == StatusCompleted || s == StatusFailed }

// Job describes one avatar render. Exactly one of AudioURL or Script is used;
// AudioURL wins when both are set.
type Job struct {
	AvatarID string
	VoiceID  string
	Script   string
	AudioURL string
	Width    int
	Height   int
}

// Video is the state of a submitted job.
type Video struct {
	ID           string  `json:"id"`
	Status       Status  `json:"status"`
	VideoURL     string  `json:"video_url,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Retry   retry.Policy
}

type Client struct {
	http   *httpx.Client
	clock  clock.Clock
	apiKey string
}

func New(cfg Config, deps httpx.Deps) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	apiKey := cfg.APIKey
	return &Client{
		clock:  deps.Clock,
		apiKey: apiKey,
		http: httpx.New(httpx.Config{
			Provider: Provider,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
			Retry:    cfg.Retry,
			Authorize: func(r *http.Request) {
				r.Header.Set("X-Api-Key", apiKey)
			},
		}, deps),
	}
}

func (c *Client) Configured() bool { return c.apiKey != "" }

type character struct {
	Type        string `json:"type"`
	AvatarID    string `json:"avatar_id"`
	AvatarStyle string `json:"avatar_style"`
}

type voice struct {
	Type      string `json:"type"`
	InputText string `json:"input_text,omitempty"`
	VoiceID   string `json:"voice_id,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
}

type videoInput struct {
	Character character `json:"character"`
	Voice     voice     `json:"voice"`
}

type dimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type generateRequest struct {
	VideoInputs []videoInput `json:"video_inputs"`
	Dimension   dimension    `json:"dimension"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type generateResponse struct {
	Error *apiError `json:"error"`
	Data  struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

type statusResponse struct {
	Data struct {
		ID           string    `json:"id"`
		Status       Status    `json:"status"`
		VideoURL     string    `json:"video_url"`
		ThumbnailURL string    `json:"thumbnail_url"`
		Duration     float64   `json:"duration"`
		Error        *apiError `json:"error"`
	} `json:"data"`
}

// Submit starts a render and returns the job id.
func (c *Client) Submit(ctx context.Context, job Job) (string, error) {
	const op = "submit"
	if c.apiKey == "" {
		return "", apperr.New(apperr.Misconfigured, Provider, op, "api key not configured")
	}
	if job.AvatarID == "" {
		return "", apperr.New(apperr.InvalidInput, Provider, op, "avatar id is required")
	}
	v := voice{Type: "audio", AudioURL: job.AudioURL}
	if job.AudioURL == "" {
		if job.Script == "" || job.VoiceID == "" {
			return "", apperr.New(apperr.InvalidInput, Provider, op, "either audio url or script with voice id is required")
		}
		v = voice{Type: "text", InputText: job.Script, VoiceID: job.VoiceID}
	}
	if job.Width == 0 || job.Height == 0 {
		job.Width, job.Height = 1920, 1080
	}

	var resp generateResponse
	err := c.http.Do(ctx, httpx.Request{
		Op:     op,
		Method: http.MethodPost,
		Path:   "/v2/video/generate",
		Body: generateRequest{
			VideoInputs: []videoInput{{
				Character: character{Type: "avatar", AvatarID: job.AvatarID, AvatarStyle: "normal"},
				Voice:     v,
			}},
			Dimension: dimension{Width: job.Width, Height: job.Height},
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return "", apperr.New(apperr.Misconfigured, Provider, op, resp.Error.Message)
	}
	if resp.Data.VideoID == "" {
		return "", apperr.New(apperr.Unavailable, Provider, op, "no video id in response")
	}
	return resp.Data.VideoID, nil
}

// Status fetches the current state of a job.
func (c *Client) Status(ctx context.Context, id string) (Video, error) {
	const op = "status"
	if c.apiKey == "" {
		return Video{}, apperr.New(apperr.Misconfigured, Provider, op, "api key not configured")
	}
	var resp statusResponse
	err := c.http.Do(ctx, httpx.Request{
		Op:    op,
		Path:  "/v1/video_status.get",
		Query: url.Values{"video_id": {id}},
	}, &resp)
	if err != nil {
		return Video{}, err
	}
	v := Video{
		ID:           id,
		Status:       resp.Data.Status,
		VideoURL:     resp.Data.VideoURL,
		ThumbnailURL: resp.Data.ThumbnailURL,
		Duration:     resp.Data.Duration,
	}
	if resp.Data.Error != nil {
		v.Error = resp.Data.Error.Message
	}
	return v, nil
}

// Wait polls Status every interval until the job is done or ctx ends.
// A failed render is returned together with an Unavailable error.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (Video, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		v, err := c.Status(ctx, id)
		if err != nil {
			return v, err
		}
		switch v.Status {
		case StatusCompleted:
			return v, nil
		case StatusFailed:
			return v, apperr.New(apperr.Unavailable, Provider, "wait", fmt.Sprintf("render %s failed: %s", id, v.Error))
		}
		if err := clock.Sleep(ctx, c.clock, interval); err != nil {
			return v, apperr.Wrap(apperr.KindOf(err), Provider, "wait", err)
		}
	}
}

// Package httpx is the transport shared by every provider client. It paces
// calls through a rate class, fails fast behind a circuit breaker, retries
// transient failures and maps HTTP outcomes onto the apperr taxonomy.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/apperr"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/breaker"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/ratelimit"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/retry"
)

const (
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBody caps how much of a response body is read.
	DefaultMaxBody = 8 << 20
	maxErrorBody   = 4096
)

// ClassifyFunc lets a provider decode its own error bodies. Returning nil
// falls back to the status mapping.
type ClassifyFunc func(status int, body []byte) *apperr.Error

// Observer records one outcome per call.
type Observer interface {
	ObserveProviderCall(provider, op, outcome string, elapsed time.Duration)
}

// Config describes one provider endpoint.
type Config struct {
	Provider  string
	BaseURL   string
	Timeout   time.Duration
	RateClass string
	// Retry bounds transport-level attempts; MaxAttempts 1 disables them.
	Retry retry.Policy
	// Authorize decorates every outgoing request with credentials.
	Authorize func(*http.Request)
	Classify  ClassifyFunc
	// MaxBodyBytes bounds a response body; larger bodies fail the call.
	MaxBodyBytes int64
}

// Deps are the shared collaborators. Nil members get inert defaults.
type Deps struct {
	HTTP     *http.Client
	Limits   *ratelimit.Registry
	Breaker  *breaker.CircuitBreaker
	Clock    clock.Clock
	Logger   *logger.Logger
	Observer Observer
}

type Client struct {
	cfg      Config
	http     *http.Client
	limits   *ratelimit.Registry
	breaker  *breaker.CircuitBreaker
	clock    clock.Clock
	log      *logger.Logger
	observer Observer
	tracer   trace.Tracer
}

func New(cfg Config, deps Deps) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateClass == "" {
		cfg.RateClass = cfg.Provider
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBody
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{}
	}
	if deps.Limits == nil {
		deps.Limits = ratelimit.NewRegistry(nil, deps.Clock)
	}
	if deps.Breaker == nil {
		deps.Breaker = breaker.New(cfg.Provider, 0, 0, deps.Clock)
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	return &Client{
		cfg:      cfg,
		http:     deps.HTTP,
		limits:   deps.Limits,
		breaker:  deps.Breaker,
		clock:    deps.Clock,
		log:      deps.Logger.With(logger.String("provider", cfg.Provider)),
		observer: deps.Observer,
		tracer:   otel.Tracer("github.com/m-kaneko-ai/youtube-avter-system-sub001/provider"),
	}
}

func (c *Client) Provider() string { return c.cfg.Provider }

// Breaker exposes the circuit breaker, e.g. for metrics wiring.
func (c *Client) Breaker() *breaker.CircuitBreaker { return c.breaker }

// Request is one logical call.
type Request struct {
	Op     string
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is JSON-encoded when non-nil.
	Body any
}

// Do performs req with retries and decodes a JSON response into out (which
// may be nil).
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	ctx, span := c.tracer.Start(ctx, c.cfg.Provider+"."+req.Op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider", c.cfg.Provider),
			attribute.String("op", req.Op),
		))
	defer span.End()

	start := c.clock.Now()
	_, err := retry.Do(ctx, c.clock, c.cfg.Retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.attempt(ctx, req, out)
	})

	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	if c.observer != nil {
		c.observer.ObserveProviderCall(c.cfg.Provider, req.Op, outcome, c.clock.Now().Sub(start))
	}
	return err
}

func (c *Client) attempt(ctx context.Context, req Request, out any) error {
	if !c.breaker.Allow() {
		return apperr.New(apperr.Unavailable, c.cfg.Provider, req.Op, "circuit open")
	}
	if err := c.limits.Wait(ctx, c.cfg.RateClass); err != nil {
		return err
	}

	err := c.roundTrip(ctx, req, out)
	switch apperr.KindOf(err) {
	case apperr.Unavailable, apperr.Timeout, apperr.RateLimited:
		c.breaker.RecordFailure()
	case apperr.Cancelled:
	default:
		c.breaker.RecordSuccess()
	}
	if apperr.Is(err, apperr.RateLimited) {
		c.limits.Penalize(c.cfg.RateClass, apperr.RetryAfterOf(err))
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, req Request, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := c.newRequest(callCtx, req)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, req.Op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return c.transportError(ctx, req.Op, err)
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		return apperr.New(apperr.Internal, c.cfg.Provider, req.Op,
			fmt.Sprintf("response body exceeds %d bytes", c.cfg.MaxBodyBytes))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.WarnCtx(ctx, "provider returned error status",
			logger.String("op", req.Op),
			logger.Int("status_code", resp.StatusCode),
			logger.String("body", truncate(body, 512)))
		return c.statusError(req.Op, resp, body)
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrap(apperr.Unavailable, c.cfg.Provider, req.Op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.cfg.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, apperr.Wrap(apperr.Misconfigured, c.cfg.Provider, req.Op, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Misconfigured, c.cfg.Provider, req.Op, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if c.cfg.Authorize != nil {
		c.cfg.Authorize(httpReq)
	}
	return httpReq, nil
}

// transportError separates caller cancellation from per-call timeouts and
// network failures.
func (c *Client) transportError(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return apperr.Wrap(apperr.KindOf(parent.Err()), c.cfg.Provider, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || apperr.KindOf(err) == apperr.Timeout {
		return apperr.Wrap(apperr.Timeout, c.cfg.Provider, op, err)
	}
	return apperr.Wrap(apperr.Unavailable, c.cfg.Provider, op, err)
}

func (c *Client) statusError(op string, resp *http.Response, body []byte) error {
	if c.cfg.Classify != nil {
		if e := c.cfg.Classify(resp.StatusCode, body); e != nil {
			e.Provider, e.Op = c.cfg.Provider, op
			return e
		}
	}
	e := apperr.New(KindForStatus(resp.StatusCode), c.cfg.Provider, op,
		fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body, maxErrorBody)))
	if e.Kind == apperr.RateLimited {
		e.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now())
	}
	return e
}

// KindForStatus maps a non-2xx status onto the error taxonomy.
func KindForStatus(status int) apperr.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return apperr.RateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.Unauthorized
	case status == http.StatusNotFound:
		return apperr.NotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return apperr.Timeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return apperr.Misconfigured
	case status >= 500:
		return apperr.Unavailable
	default:
		return apperr.Misconfigured
	}
}

// ParseRetryAfter understands both delta-seconds and HTTP-date forms.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

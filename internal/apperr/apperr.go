// Package apperr defines the closed set of failure kinds shared by provider
// clients, stores and the orchestrator, and the typed error that carries them.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind classifies a failure and selects the policy applied to it.
type Kind int

const (
	Internal Kind = iota
	RateLimited
	QuotaExhausted
	NotFound
	ContentFiltered
	Timeout
	Unauthorized
	Misconfigured
	Unavailable
	Cancelled
	Database
	UnknownAgent
	InvalidInput
)

var kindNames = map[Kind]string{
	Internal:        "internal",
	RateLimited:     "rate_limited",
	QuotaExhausted:  "quota_exhausted",
	NotFound:        "not_found",
	ContentFiltered: "content_filtered",
	Timeout:         "timeout",
	Unauthorized:    "unauthorized",
	Misconfigured:   "misconfigured",
	Unavailable:     "unavailable",
	Cancelled:       "cancelled",
	Database:        "database",
	UnknownAgent:    "unknown_agent",
	InvalidInput:    "invalid_input",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return Internal, fmt.Errorf("unknown error kind %q", s)
}

// Retryable reports whether a failure of this kind may succeed on a later attempt.
func (k Kind) Retryable() bool {
	switch k {
	case RateLimited, Timeout, Unavailable, Database:
		return true
	default:
		return false
	}
}

// Critical reports whether the kind needs operator action before the next run.
func (k Kind) Critical() bool {
	return k == Unauthorized || k == Misconfigured
}

// Error is the typed failure returned across package boundaries.
type Error struct {
	Kind       Kind
	Provider   string
	Op         string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Provider != "" {
		b.WriteString(" [")
		b.WriteString(e.Provider)
		if e.Op != "" {
			b.WriteString(".")
			b.WriteString(e.Op)
		}
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error without a cause.
func New(kind Kind, provider, op, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Message: message}
}

// Wrap builds an Error around err.
func Wrap(kind Kind, provider, op string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

// Errorf builds an Error of kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies any error. Untyped errors are classified by their cause:
// context cancellation, deadlines and network timeouts; everything else is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return Internal
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err).Retryable()
}

// RetryAfterOf returns the provider-advertised wait carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

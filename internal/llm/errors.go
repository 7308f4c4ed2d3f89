package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors.
var (
	ErrNoAPIKey        = errors.New("llm: API key is required")
	ErrInvalidProvider = errors.New("llm: invalid provider")
	ErrNoCredentials   = errors.New("llm: no provider credentials configured")
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindRateLimited ErrorKind = "rate_limited"
	KindUpstream5xx ErrorKind = "upstream_5xx"
	KindUpstream4xx ErrorKind = "upstream_4xx"
	KindMalformed   ErrorKind = "malformed"
)

// Error is a provider failure surfaced to the pipeline. It is user-visible
// but non-fatal to the connection.
type Error struct {
	Kind     ErrorKind
	Provider string
	Status   int
	Detail   string
	err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm %s: %s (status %d): %s", e.Provider, e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("llm %s: %s: %s", e.Provider, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.err }

// Retryable reports whether the failure warrants another attempt.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited, KindUpstream5xx:
		return true
	default:
		return false
	}
}

// NewAPIError builds an Error from an HTTP status and response body.
func NewAPIError(provider string, status int, body string) *Error {
	kind := KindUpstream4xx
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status >= 500:
		kind = KindUpstream5xx
	}
	return &Error{Kind: kind, Provider: provider, Status: status, Detail: body}
}

// WrapError normalises an arbitrary error into an *Error for the given
// provider. Existing *Error values pass through unchanged; deadline and
// network timeout errors map to KindTimeout; everything else is
// KindMalformed.
func WrapError(provider string, err error) *Error {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	kind := KindMalformed
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: provider, Detail: err.Error(), err: err}
}

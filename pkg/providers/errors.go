package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrorKind classifies provider failures. The retry wrapper is a pure
// function of this classification.
type ErrorKind string

const (
	// Retryable.
	ErrRateLimited ErrorKind = "rate_limited"
	ErrOverloaded  ErrorKind = "overloaded"
	ErrTimeout     ErrorKind = "timeout"
	ErrTransient   ErrorKind = "transient"

	// Fatal for the call.
	ErrAuthFailed     ErrorKind = "auth_failed"
	ErrQuotaExhausted ErrorKind = "quota_exhausted"
	ErrModelNotFound  ErrorKind = "model_not_found"
	ErrBadRequest     ErrorKind = "bad_request"

	// Fatal unless the caller disabled truncation on purpose.
	ErrContextLimit ErrorKind = "context_limit_exceeded"

	ErrUnknown ErrorKind = "unknown"
)

// Retryable reports whether the retry wrapper should attempt the call again.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrRateLimited, ErrOverloaded, ErrTimeout, ErrTransient:
		return true
	default:
		return false
	}
}

// Error is a typed provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Err      error
	// RetryAfter is the server-suggested pacing parsed from rate limit
	// headers, when present. Zero means no hint.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed provider error.
func NewError(provider string, kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message}
}

// WrapError attaches a classification to an underlying error.
func WrapError(provider string, kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// KindOf extracts the classification from any error chain.
// Plain transport errors classify by inspection; everything else is Unknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrTransient
	}
	return ErrUnknown
}

// Retryable reports whether err classifies as retryable.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// ClassifyStatus maps an HTTP status code plus the response body to an
// ErrorKind. The body is consulted for the ambiguous cases where vendors
// multiplex several failures onto one status.
func ClassifyStatus(status int, body string) ErrorKind {
	lower := strings.ToLower(body)
	switch status {
	case http.StatusTooManyRequests:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "billing") ||
			strings.Contains(lower, "insufficient") {
			return ErrQuotaExhausted
		}
		return ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		return ErrQuotaExhausted
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	case http.StatusRequestEntityTooLarge:
		return ErrContextLimit
	case http.StatusBadRequest:
		if strings.Contains(lower, "context length") || strings.Contains(lower, "context_length") ||
			strings.Contains(lower, "too long") || strings.Contains(lower, "maximum context") ||
			strings.Contains(lower, "prompt is too long") {
			return ErrContextLimit
		}
		if strings.Contains(lower, "model") && strings.Contains(lower, "not") &&
			(strings.Contains(lower, "found") || strings.Contains(lower, "exist")) {
			return ErrModelNotFound
		}
		return ErrBadRequest
	case http.StatusServiceUnavailable:
		return ErrOverloaded
	}
	if status == 529 { // Anthropic's dedicated overloaded status
		return ErrOverloaded
	}
	if status >= 500 {
		return ErrTransient
	}
	return ErrUnknown
}

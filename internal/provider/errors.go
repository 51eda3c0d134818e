package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error codes
const (
	CodeNetwork     = "network"
	CodeTimeout     = "timeout"
	CodeRateLimited = "rate_limited"
	CodeServer      = "server_error"
	CodeAuth        = "auth"
	CodeBadRequest  = "bad_request"
	CodeBadResponse = "bad_response"
	CodeBlocked     = "content_blocked"
	CodeUnsupported = "unsupported"
	CodeCircuitOpen = "circuit_open"
)

// Error is a failed provider call.
type Error struct {
	Provider   string
	Code       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %v", e.Provider, e.Code, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same call may succeed if repeated: server
// errors, 429, 408, and network or timeout failures.
func (e *Error) Retryable() bool {
	if e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.Code == CodeNetwork || e.Code == CodeTimeout
}

// NewError builds an Error.
func NewError(provider, code string, status int, err error) *Error {
	return &Error{Provider: provider, Code: code, StatusCode: status, Err: err}
}

// IsRetryable reports whether err is a retryable provider failure.
// Plain context deadline and network errors count as retryable too.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// FromStatus classifies a non-2xx HTTP response.
func FromStatus(provider string, status int, body []byte) *Error {
	code := CodeBadRequest
	switch {
	case status == http.StatusTooManyRequests:
		code = CodeRateLimited
	case status == http.StatusRequestTimeout:
		code = CodeTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = CodeAuth
	case status >= 500:
		code = CodeServer
	}
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return NewError(provider, code, status, errors.New(msg))
}

// FromTransport classifies an error raised before any HTTP status arrived.
func FromTransport(provider string, err error) *Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return NewError(provider, CodeTimeout, 0, err)
	}
	return NewError(provider, CodeNetwork, 0, err)
}

// Package remote is the client for the remote project document store: a
// small JSON-over-HTTP API with bearer authentication, plus a websocket
// change feed.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, remote.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("remote: bad request")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	ErrNotFound     = errors.New("remote: not found")
	ErrConflict     = errors.New("remote: conflict")
	ErrThrottled    = errors.New("remote: throttled")
	ErrServerError  = errors.New("remote: server error")
	ErrTimeout      = errors.New("remote: request timeout")
)

// RemoteError wraps a sentinel error with the HTTP status code, request ID,
// and the response body for debugging.
type RemoteError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *RemoteError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("remote: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusRequestTimeout:
		return ErrTimeout
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusMultipleChoices {
			return ErrBadRequest
		}

		return nil
	}
}

// IsPermission reports whether err means the caller may not write to the
// remote store at all. Retrying such an error cannot succeed.
func IsPermission(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized)
}

// IsTransient reports whether err may succeed on a later attempt: server
// errors, throttling, request timeouts, and transport failures that never
// produced an HTTP status. Context cancellation is not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrServerError) || errors.Is(err, ErrThrottled) || errors.Is(err, ErrTimeout) {
		return true
	}

	var re *RemoteError
	if errors.As(err, &re) {
		return false
	}

	// No status code: connection refused, reset, DNS.
	return true
}

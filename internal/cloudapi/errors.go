// Package cloudapi adapts a generic opaque-file-ID REST backend to the
// capability interface the sync engine needs: authenticated requests with
// retry and backoff, item CRUD, content transfer, change-cursor polling,
// and revision history. The sync engine itself only ever sees the
// Adapter interface; this package is the reference implementation the
// engine is wired against.
package cloudapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification. Use errors.Is(err,
// cloudapi.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("cloudapi: bad request")
	ErrUnauthorized = errors.New("cloudapi: unauthorized")
	ErrForbidden    = errors.New("cloudapi: forbidden")
	ErrNotFound     = errors.New("cloudapi: not found")
	ErrConflict     = errors.New("cloudapi: conflict")
	ErrGone         = errors.New("cloudapi: resource gone")
	ErrThrottled    = errors.New("cloudapi: throttled")
	ErrServerError  = errors.New("cloudapi: server error")
	ErrNotLoggedIn  = errors.New("cloudapi: not logged in")
)

// APIError wraps a sentinel error with HTTP status code and response body
// for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("cloudapi: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}
	return fmt.Sprintf("cloudapi: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error. Returns nil
// for 2xx success codes.
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
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}
		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

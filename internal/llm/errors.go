package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

// TransientError is a backend failure that may succeed on retry
// (rate limiting, server errors, network faults, timeouts).
type TransientError struct {
	Backend    string
	StatusCode int
	Message    string
	Cause      error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: transient error: %s: %v", e.Backend, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: transient error: %s", e.Backend, e.Message)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// PermanentError is a backend failure that will not improve on retry
// (authentication, malformed request, missing credentials).
type PermanentError struct {
	Backend    string
	StatusCode int
	Message    string
	Cause      error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: permanent error: %s: %v", e.Backend, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: permanent error: %s", e.Backend, e.Message)
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err should be retried against the same backend.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a classified permanent failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ClassifyStatus maps an HTTP status code from a provider to an error class.
func ClassifyStatus(backend string, status int, body string) error {
	msg := fmt.Sprintf("status %d", status)
	if body != "" {
		msg = fmt.Sprintf("status %d: %s", status, truncate(body, 300))
	}
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return &TransientError{Backend: backend, StatusCode: status, Message: msg}
	default:
		return &PermanentError{Backend: backend, StatusCode: status, Message: msg}
	}
}

// ClassifyError wraps a transport-level error. Context deadlines and network
// faults are transient; caller cancellation is passed through unchanged.
func ClassifyError(backend string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsPermanent(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Backend: backend, Message: "request timed out", Cause: err}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return ClassifyStatus(backend, gerr.Code, gerr.Message)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Backend: backend, Message: "network error", Cause: err}
	}

	return &TransientError{Backend: backend, Message: "request failed", Cause: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return ClipUTF8(s, n) + "..."
}

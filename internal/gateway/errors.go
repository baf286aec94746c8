package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAllBackendsExhausted matches any *AllBackendsExhaustedError via errors.Is.
var ErrAllBackendsExhausted = errors.New("all backends exhausted")

// BackendFailure is the last error seen from one backend.
type BackendFailure struct {
	Backend  string `json:"backend"`
	Attempts int    `json:"attempts"`
	LastErr  error  `json:"-"`
}

// AllBackendsExhaustedError is returned when every backend in the caller's
// preference list failed. Failures keep the preference order.
type AllBackendsExhaustedError struct {
	Failures []BackendFailure
	Attempts []Attempt
}

func (e *AllBackendsExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return "all backends exhausted: no backends in preference list"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%d attempts): %v", f.Backend, f.Attempts, f.LastErr))
	}
	return "all backends exhausted: " + strings.Join(parts, "; ")
}

// Is lets errors.Is match ErrAllBackendsExhausted.
func (e *AllBackendsExhaustedError) Is(target error) bool {
	return target == ErrAllBackendsExhausted
}

// UnknownBackendError is recorded when a preference names no configured backend.
type UnknownBackendError struct {
	Backend string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("backend %q is not configured", e.Backend)
}

// Package server provides the HTTP API for the courseware pipeline.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/courseware-agent/internal/db"
	"github.com/jonathan/courseware-agent/internal/pipeline"
	"github.com/jonathan/courseware-agent/internal/routing"
	"github.com/jonathan/courseware-agent/internal/types"
)

// ErrInvalidCredentials indicates invalid login credentials
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid username or password"
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrArchiveDisabled is returned by archive endpoints when no database is configured.
var ErrArchiveDisabled = errors.New("run archive is not configured")

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		credentials *ErrInvalidCredentials
		validation  *ErrValidation
		transition  *pipeline.TransitionError
		unsupported *routing.UnsupportedError
		record      *types.RecordError
	)

	switch {
	case errors.As(err, &credentials):
		return http.StatusUnauthorized
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrRunNotFound), errors.Is(err, db.ErrRunNotFound):
		return http.StatusNotFound
	case errors.As(err, &transition), errors.Is(err, pipeline.ErrNotReady), errors.Is(err, pipeline.ErrAlreadyDispatched),
		errors.Is(err, pipeline.ErrHandoffInProgress):
		return http.StatusConflict
	case errors.As(err, &unsupported), errors.As(err, &record):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrNoDispatcher), errors.Is(err, ErrArchiveDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

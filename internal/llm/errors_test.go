package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{529, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := ClassifyStatus("b", tt.status, "body")
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, !tt.transient, IsPermanent(err))
		})
	}
}

func TestClassifyError(t *testing.T) {
	assert.Nil(t, ClassifyError("b", nil))

	// caller cancellation is not retried
	err := ClassifyError("b", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))

	err = ClassifyError("b", fmt.Errorf("wrapped: %w", context.DeadlineExceeded))
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = ClassifyError("b", &googleapi.Error{Code: 403, Message: "forbidden"})
	assert.True(t, IsPermanent(err))

	err = ClassifyError("b", &googleapi.Error{Code: 503, Message: "unavailable"})
	assert.True(t, IsTransient(err))

	perm := &PermanentError{Backend: "b", Message: "auth"}
	assert.Same(t, perm, ClassifyError("b", perm))

	err = ClassifyError("b", errors.New("connection reset"))
	assert.True(t, IsTransient(err))
}

func TestErrorMessages(t *testing.T) {
	te := &TransientError{Backend: "A", Message: "status 503", Cause: errors.New("x")}
	assert.Equal(t, "A: transient error: status 503: x", te.Error())

	pe := &PermanentError{Backend: "A", Message: "status 401"}
	assert.Equal(t, "A: permanent error: status 401", pe.Error())
}

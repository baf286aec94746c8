package verification

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/courseware-agent/internal/types"
)

// ErrVerificationInfrastructure marks failures that prevent a verdict, such as
// an exhausted gateway during a required AI-assisted check.
var ErrVerificationInfrastructure = errors.New("verification infrastructure failure")

// ErrNoResult is returned when Verify is called without an extraction result.
var ErrNoResult = errors.New("no extraction result to verify")

// RejectedError describes a REJECTED verdict. It is informational: a rejected
// record is a business outcome, not a failed run.
type RejectedError struct {
	Verdict types.Verdict
}

func (e *RejectedError) Error() string {
	var failed []string
	for _, fv := range e.Verdict.WithStatus(types.StatusFail) {
		failed = append(failed, fmt.Sprintf("%s (%s)", fv.Field, fv.Reason))
	}
	return fmt.Sprintf("verification rejected: %d required field(s) failed: %s", len(failed), strings.Join(failed, ", "))
}

// Rejected returns a *RejectedError for a REJECTED verdict and nil otherwise.
func Rejected(v types.Verdict) error {
	if v.Status != types.VerdictRejected {
		return nil
	}
	return &RejectedError{Verdict: v}
}

// RegistryError is returned when the company registry cannot be queried.
type RegistryError struct {
	UEN     string
	Message string
	Cause   error
}

func (e *RegistryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("registry lookup for %s: %s: %v", e.UEN, e.Message, e.Cause)
	}
	return fmt.Sprintf("registry lookup for %s: %s", e.UEN, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Cause
}

package routing

import (
	"fmt"
	"strings"
)

// AmbiguousError is returned when the caller must choose between pipelines.
type AmbiguousError struct {
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = fmt.Sprintf("%s (%.2f)", c.Pipeline, c.Score)
	}
	return "ambiguous intent: " + strings.Join(parts, ", ")
}

// UnsupportedError is returned when no declared pipeline fits the request.
type UnsupportedError struct {
	Reason     string
	Candidates []Candidate
}

func (e *UnsupportedError) Error() string {
	if len(e.Candidates) > 0 {
		return fmt.Sprintf("unsupported intent: %s (best %s at %.2f)", e.Reason, e.Candidates[0].Pipeline, e.Candidates[0].Score)
	}
	return "unsupported intent: " + e.Reason
}

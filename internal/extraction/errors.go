package extraction

import (
	"errors"
	"fmt"
)

// ErrNoTasks is returned when Extract is called without tasks.
var ErrNoTasks = errors.New("no extraction tasks")

// UnparseableError records a job whose replies could not be parsed after the
// retry. It is reported through events and never aborts a run.
type UnparseableError struct {
	Task       string
	DocumentID string
	Backends   []string
	Cause      error
}

func (e *UnparseableError) Error() string {
	return fmt.Sprintf("unparseable extraction for task %s on document %s (backends %v): %v", e.Task, e.DocumentID, e.Backends, e.Cause)
}

func (e *UnparseableError) Unwrap() error {
	return e.Cause
}

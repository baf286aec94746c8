package pipeline

import "errors"

// ErrCancelled is the failure cause of a cancelled run. It wraps the
// context error.
var ErrCancelled = errors.New("run cancelled")

// ErrNoDispatcher is returned by Handoff when no dispatcher is configured.
var ErrNoDispatcher = errors.New("no generation dispatcher configured")

// ErrAlreadyDispatched is returned by Handoff when the run's record was
// already handed off.
var ErrAlreadyDispatched = errors.New("record already handed off")

// ErrHandoffInProgress is returned by Handoff while another hand-off of the
// same run is dispatching.
var ErrHandoffInProgress = errors.New("record hand-off already in progress")

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// ErrNotReady is returned by Handoff for runs that did not reach
// READY_FOR_GENERATION or NEEDS_REVIEW.
var ErrNotReady = errors.New("run is not ready for hand-off")

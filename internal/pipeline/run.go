// Package pipeline coordinates a run from routing through extraction and
// verification to the hand-off of a structured record. Each run follows a
// fixed state machine and keeps an append-only trace.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/courseware-agent/internal/extraction"
	"github.com/jonathan/courseware-agent/internal/routing"
	"github.com/jonathan/courseware-agent/internal/types"
	"github.com/jonathan/courseware-agent/internal/verification"
)

// RunConfig is resolved once when a run is created and never changes for
// that run.
type RunConfig struct {
	Preferences  []string            `json:"preferences"`
	Routing      routing.Config      `json:"routing"`
	Extraction   extraction.Options  `json:"extraction"`
	Verification verification.Config `json:"verification"`
}

// DefaultRunConfig returns the package defaults with no preferences.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Routing:      routing.DefaultConfig(),
		Extraction:   extraction.Options{Timeout: extraction.DefaultTimeout, MaxConcurrentTasks: extraction.DefaultMaxConcurrentTasks},
		Verification: verification.DefaultConfig(),
	}
}

// clone copies the slices so later edits to the source are not observed.
func (c RunConfig) clone() RunConfig {
	c.Preferences = append([]string(nil), c.Preferences...)
	c.Verification.CompanyNameFields = append([]string(nil), c.Verification.CompanyNameFields...)
	c.Verification.PersonNameFields = append([]string(nil), c.Verification.PersonNameFields...)
	return c
}

// Run is one end-user request moving through the pipeline.
type Run struct {
	ID        string
	Text      string
	Documents []types.SourceDocument
	// Requested is the caller's pipeline choice; routing is skipped when set.
	Requested types.ArtifactType
	Config    RunConfig
	CreatedAt time.Time

	mu         sync.Mutex
	state      State
	reason     Reason
	err        error
	decision   *routing.Decision
	result     *types.ExtractionResult
	verdict    *types.Verdict
	record     *types.StructuredRecord
	handingOff bool
	cancel     context.CancelFunc
	cancelled  bool
	finishedAt time.Time
	trace      *Trace
}

func newRun(req types.RunRequest, cfg RunConfig) *Run {
	id := uuid.New().String()
	docs := make([]types.SourceDocument, len(req.Documents))
	copy(docs, req.Documents)
	return &Run{
		ID:        id,
		Text:      req.Text,
		Documents: docs,
		Requested: req.Pipeline,
		Config:    cfg.clone(),
		CreatedAt: time.Now(),
		state:     StateRouting,
		trace:     NewTrace(id),
	}
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reason returns why the run is in its current state.
func (r *Run) Reason() Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Err returns the failure cause of a FAILED run.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Outcome maps the state to success, partial, failure or pending.
func (r *Run) Outcome() Outcome {
	return outcomeOf(r.State())
}

// Decision returns the routing decision, if any.
func (r *Run) Decision() *routing.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decision
}

// Result returns the extraction result. It is nil for cancelled runs.
func (r *Run) Result() *types.ExtractionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Verdict returns the verification verdict, if any.
func (r *Run) Verdict() *types.Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verdict
}

// Record returns the record handed to the dispatcher, if any.
func (r *Run) Record() *types.StructuredRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record
}

// reserveHandoff claims the run's single hand-off slot.
func (r *Run) reserveHandoff() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.record != nil:
		return ErrAlreadyDispatched
	case r.handingOff:
		return ErrHandoffInProgress
	}
	r.handingOff = true
	return nil
}

// releaseHandoff frees the slot and stores the record when dispatch
// succeeded. A nil record lets a later hand-off try again.
func (r *Run) releaseHandoff(record *types.StructuredRecord) {
	r.mu.Lock()
	r.handingOff = false
	if record != nil {
		r.record = record
	}
	r.mu.Unlock()
}

// Trace returns the run's log.
func (r *Run) Trace() *Trace {
	return r.trace
}

// Pipeline returns the routed pipeline or "".
func (r *Run) Pipeline() types.ArtifactType {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decision == nil {
		return ""
	}
	return r.decision.Pipeline
}

// Cancel stops the run. In-flight calls see a cancelled context; a run
// waiting for clarification fails at once. Cancelling a terminal run does
// nothing.
func (r *Run) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	cancel := r.cancel
	from := r.state
	awaiting := from == StateAwaitingClarification
	if awaiting {
		r.err = fmt.Errorf("%w: %w", ErrCancelled, context.Canceled)
		r.state = StateFailed
		r.reason = ReasonCancelled
		r.finishedAt = time.Now()
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if awaiting {
		r.traceTransition(from, StateFailed, ReasonCancelled)
	}
}

// Cancelled reports whether Cancel was called.
func (r *Run) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// transition moves the run to a new state and records it in the trace.
func (r *Run) transition(to State, reason Reason) error {
	r.mu.Lock()
	from := r.state
	if !CanTransition(from, to) {
		r.mu.Unlock()
		return &TransitionError{From: from, To: to}
	}
	r.state = to
	r.reason = reason
	if to.Terminal() {
		r.finishedAt = time.Now()
	}
	r.mu.Unlock()

	r.traceTransition(from, to, reason)
	return nil
}

func (r *Run) traceTransition(from, to State, reason Reason) {
	msg := fmt.Sprintf("%s -> %s", from, to)
	if reason != ReasonNone {
		msg += fmt.Sprintf(" (%s)", reason)
	}
	r.trace.Append(StateRegistry[from].Stage, "transition", msg, map[string]string{
		"from":   string(from),
		"to":     string(to),
		"reason": string(reason),
	})
}

// fail moves the run to FAILED. Extraction results of cancelled runs are
// discarded.
func (r *Run) fail(reason Reason, err error) error {
	r.mu.Lock()
	r.err = err
	if reason == ReasonCancelled {
		r.result = nil
	}
	r.mu.Unlock()
	return r.transition(StateFailed, reason)
}

func (r *Run) setCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
}

func (r *Run) setDecision(d routing.Decision) {
	r.mu.Lock()
	r.decision = &d
	r.mu.Unlock()
}

func (r *Run) setResult(res *types.ExtractionResult) {
	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
}

func (r *Run) setVerdict(v types.Verdict) {
	r.mu.Lock()
	r.verdict = &v
	r.mu.Unlock()
}

// Snapshot is a read-only copy of a run for archiving and APIs.
type Snapshot struct {
	ID         string                  `json:"id"`
	Text       string                  `json:"text"`
	Documents  []DocumentRef           `json:"documents"`
	Config     RunConfig               `json:"config"`
	State      State                   `json:"state"`
	Reason     Reason                  `json:"reason,omitempty"`
	Outcome    Outcome                 `json:"outcome"`
	Error      string                  `json:"error,omitempty"`
	Decision   *routing.Decision       `json:"decision,omitempty"`
	Result     *types.ExtractionResult `json:"result,omitempty"`
	Verdict    *types.Verdict          `json:"verdict,omitempty"`
	Record     *types.StructuredRecord `json:"record,omitempty"`
	Trace      []TraceEntry            `json:"trace"`
	CreatedAt  time.Time               `json:"created_at"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`
}

// DocumentRef identifies a document without its content.
type DocumentRef struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Kind   types.MediaKind `json:"kind"`
	Origin types.Origin    `json:"origin,omitempty"`
	URL    string          `json:"url,omitempty"`
	Bytes  int             `json:"bytes"`
}

// Snapshot copies the run's current state.
func (r *Run) Snapshot() Snapshot {
	entries := r.trace.Entries()

	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([]DocumentRef, len(r.Documents))
	for i, d := range r.Documents {
		docs[i] = DocumentRef{ID: d.ID, Name: d.Name, Kind: d.Kind, Origin: d.Origin, URL: d.URL, Bytes: len(d.Content)}
	}
	s := Snapshot{
		ID:        r.ID,
		Text:      r.Text,
		Documents: docs,
		Config:    r.Config,
		State:     r.state,
		Reason:    r.reason,
		Outcome:   outcomeOf(r.state),
		Decision:  r.decision,
		Result:    r.result,
		Verdict:   r.verdict,
		Record:    r.record,
		Trace:     entries,
		CreatedAt: r.CreatedAt,
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	if !r.finishedAt.IsZero() {
		finished := r.finishedAt
		s.FinishedAt = &finished
	}
	return s
}

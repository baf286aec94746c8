package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/jonathan/courseware-agent/internal/catalog"
	"github.com/jonathan/courseware-agent/internal/extraction"
	"github.com/jonathan/courseware-agent/internal/gateway"
	"github.com/jonathan/courseware-agent/internal/routing"
	"github.com/jonathan/courseware-agent/internal/types"
	"github.com/jonathan/courseware-agent/internal/verification"
)

// Dispatcher receives validated records for rendering. It is the only
// outbound path for extracted data.
type Dispatcher interface {
	Dispatch(ctx context.Context, record *types.StructuredRecord) error
}

// Archiver stores terminal runs read-only.
type Archiver interface {
	Archive(ctx context.Context, snap Snapshot) error
}

// Deps are the shared collaborators of every run.
type Deps struct {
	Gateway    gateway.Invoker
	Catalog    *catalog.Catalog
	Registry   verification.Registry
	Records    verification.RecordsSource
	Dispatcher Dispatcher
	Archiver   Archiver
}

// HandoffOptions carry the caller's explicit acceptance.
type HandoffOptions struct {
	// AcceptReview allows a NEEDS_REVIEW record through.
	AcceptReview bool `json:"accept_review"`
	// AcceptCorrections lists fields whose advisory corrections are applied.
	AcceptCorrections []string `json:"accept_corrections,omitempty"`
}

// Orchestrator runs requests through routing, extraction and verification.
// It is safe for concurrent use; each run gets its own components built from
// its RunConfig.
type Orchestrator struct {
	deps     Deps
	defaults RunConfig

	mu   sync.RWMutex
	runs map[string]*Run
}

// New creates an orchestrator. A nil catalog means the built-in one.
func New(deps Deps, defaults RunConfig) *Orchestrator {
	if deps.Catalog == nil {
		deps.Catalog = catalog.MustDefault()
	}
	return &Orchestrator{deps: deps, defaults: defaults.clone(), runs: make(map[string]*Run)}
}

// Defaults returns a copy of the default run configuration.
func (o *Orchestrator) Defaults() RunConfig {
	return o.defaults.clone()
}

// Catalog returns the pipeline catalog.
func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.deps.Catalog
}

// Prepare validates a request and registers a new run in ROUTING without
// starting it. Request preferences override the defaults.
func (o *Orchestrator) Prepare(req types.RunRequest) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cfg := o.defaults
	if len(req.Preferences) > 0 {
		cfg.Preferences = req.Preferences
	}
	run := newRun(req, cfg)

	o.mu.Lock()
	o.runs[run.ID] = run
	o.mu.Unlock()

	run.trace.Append(StageOrchestrator, "run_created",
		fmt.Sprintf("run created with %d document(s), backends %v", len(run.Documents), run.Config.Preferences), nil)
	return run, nil
}

// Start prepares and executes a run. onProgress, if set, sees every trace
// entry. The error is non-nil only for an invalid request; a failed run is
// reported through its state.
func (o *Orchestrator) Start(ctx context.Context, req types.RunRequest, onProgress ProgressCallback) (*Run, error) {
	run, err := o.Prepare(req)
	if err != nil {
		return nil, err
	}
	if onProgress != nil {
		defer run.trace.Subscribe(onProgress)()
	}
	if err := o.Execute(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Execute drives a prepared run until it is terminal or awaits clarification.
func (o *Orchestrator) Execute(ctx context.Context, run *Run) error {
	if s := run.State(); s != StateRouting {
		return &TransitionError{From: s, To: StateExtracting}
	}
	return o.drive(ctx, run, func(ctx context.Context, router *routing.Router) (routing.Decision, error) {
		if run.Requested != "" {
			run.trace.Append(StageRouting, "pipeline_requested", fmt.Sprintf("caller requested %s", run.Requested), nil)
			return router.Choose(run.Requested, run.Documents)
		}
		return router.Route(ctx, run.Text, run.Documents, run.Config.Preferences, routingObserver(run))
	})
}

// Clarify resumes an ambiguous run with the caller's pipeline choice.
func (o *Orchestrator) Clarify(ctx context.Context, run *Run, pipeline types.ArtifactType) error {
	if s := run.State(); s != StateAwaitingClarification {
		return &TransitionError{From: s, To: StateRouting}
	}
	if _, ok := o.deps.Catalog.Pipeline(pipeline); !ok {
		return &routing.UnsupportedError{Reason: fmt.Sprintf("pipeline %q is not declared", pipeline)}
	}
	if err := run.transition(StateRouting, ReasonNone); err != nil {
		return err
	}
	run.trace.Append(StageRouting, "clarified", fmt.Sprintf("caller chose %s", pipeline), nil)
	return o.drive(ctx, run, func(_ context.Context, router *routing.Router) (routing.Decision, error) {
		return router.Choose(pipeline, run.Documents)
	})
}

type decideFunc func(ctx context.Context, router *routing.Router) (routing.Decision, error)

// drive runs the state machine from ROUTING.
func (o *Orchestrator) drive(ctx context.Context, run *Run, decide decideFunc) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	run.setCancel(cancel)
	if run.Cancelled() {
		cancel()
	}
	defer o.archive(context.WithoutCancel(ctx), run)

	cfg := run.Config
	router := routing.New(o.deps.Catalog, o.deps.Gateway, cfg.Routing)

	decision, err := decide(runCtx, router)
	if err != nil {
		if runCtx.Err() != nil {
			return o.cancelled(run, runCtx.Err())
		}
		var unsupported *routing.UnsupportedError
		if errors.As(err, &unsupported) {
			return run.fail(ReasonUnsupportedIntent, err)
		}
		return run.fail(ReasonRoutingFailed, err)
	}
	run.setDecision(decision)
	if runCtx.Err() != nil {
		return o.cancelled(run, runCtx.Err())
	}

	switch decision.Kind {
	case routing.KindUnsupported:
		return run.fail(ReasonUnsupportedIntent, decision.Err())
	case routing.KindAmbiguous:
		return run.transition(StateAwaitingClarification, ReasonAmbiguousIntent)
	}

	if err := run.transition(StateExtracting, ReasonNone); err != nil {
		return err
	}

	engine := extraction.New(o.deps.Gateway, cfg.Extraction)
	result, err := engine.Extract(runCtx, decision.Tasks, run.Documents, cfg.Preferences, extractionObserver(run))
	if err != nil {
		if runCtx.Err() != nil {
			return o.cancelled(run, runCtx.Err())
		}
		if errors.Is(err, gateway.ErrAllBackendsExhausted) {
			traceExhaustion(run, StageExtracting, err)
			return run.fail(ReasonAllBackendsExhausted, err)
		}
		return run.fail(ReasonExtractionFailed, err)
	}
	run.setResult(result)
	traceTasks(run, result)

	if runCtx.Err() != nil {
		return o.cancelled(run, runCtx.Err())
	}
	if err := run.transition(StateVerifying, ReasonNone); err != nil {
		return err
	}

	agent := verification.NewAgent(o.deps.Gateway, o.deps.Registry, cfg.Verification).WithRecords(o.deps.Records)
	verdict, err := agent.Verify(runCtx, verification.Input{
		Result:      result,
		Documents:   run.Documents,
		Preferences: cfg.Preferences,
	}, verificationObserver(run))
	if err != nil {
		if runCtx.Err() != nil {
			return o.cancelled(run, runCtx.Err())
		}
		traceExhaustion(run, StageVerifying, err)
		return run.fail(ReasonVerificationInfrastructure, err)
	}
	run.setVerdict(verdict)
	for _, note := range verdict.Remediation {
		run.trace.Append(StageVerifying, "remediation", note, nil)
	}

	if runCtx.Err() != nil {
		return o.cancelled(run, runCtx.Err())
	}

	switch verdict.Status {
	case types.VerdictVerified:
		return run.transition(StateReadyForGeneration, ReasonVerified)
	case types.VerdictNeedsReview:
		return run.transition(StateNeedsReview, ReasonVerificationWarnings)
	default:
		run.trace.Append(StageVerifying, "rejected", verification.Rejected(verdict).Error(), nil)
		return run.transition(StateNeedsReview, ReasonVerificationRejected)
	}
}

func (o *Orchestrator) cancelled(run *Run, cause error) error {
	return run.fail(ReasonCancelled, fmt.Errorf("%w: %w", ErrCancelled, cause))
}

func traceTasks(run *Run, result *types.ExtractionResult) {
	for _, name := range result.TaskNames() {
		tr := result.Tasks[name]
		msg := fmt.Sprintf("task %s: %s", name, tr.Status)
		if tr.WinningBackend != "" {
			msg += fmt.Sprintf(" (winning backend %s)", tr.WinningBackend)
		}
		kind := "task_result"
		if tr.Status == types.TaskUnparseable {
			kind = "task_unparseable"
		}
		run.trace.Append(StageExtracting, kind, msg, map[string]any{
			"task":            name,
			"status":          tr.Status,
			"winning_backend": tr.WinningBackend,
		})
	}
}

// Handoff builds the structured record and sends it to the dispatcher.
// NEEDS_REVIEW records need AcceptReview; REJECTED records are refused.
func (o *Orchestrator) Handoff(ctx context.Context, run *Run, opts HandoffOptions) (*types.StructuredRecord, error) {
	if o.deps.Dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	state := run.State()
	if state != StateReadyForGeneration && state != StateNeedsReview {
		return nil, fmt.Errorf("run %s is %s: %w", run.ID, state, ErrNotReady)
	}
	if err := run.reserveHandoff(); err != nil {
		return nil, err
	}
	record, err := o.dispatch(ctx, run, opts)
	run.releaseHandoff(record)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("dispatched %s record with %d field(s)", record.Artifact, len(record.Fields))
	if record.ReviewAccepted {
		msg += ", review accepted by caller"
	}
	if len(record.AppliedCorrections) > 0 {
		msg += fmt.Sprintf(", corrections applied to %v", record.AppliedCorrections)
	}
	run.trace.Append(StageHandoff, "dispatched", msg, nil)
	o.archive(ctx, run)
	return record, nil
}

// dispatch builds and sends the record. The caller holds the hand-off slot.
func (o *Orchestrator) dispatch(ctx context.Context, run *Run, opts HandoffOptions) (*types.StructuredRecord, error) {
	verdict := run.Verdict()
	result := run.Result()
	if verdict == nil || result == nil {
		return nil, fmt.Errorf("run %s has no verdict: %w", run.ID, ErrNotReady)
	}

	record, err := types.BuildRecord(run.ID, run.Pipeline(), result.Fields(), *verdict, opts.AcceptReview, opts.AcceptCorrections)
	if err != nil {
		run.trace.Append(StageHandoff, "handoff_refused", err.Error(), nil)
		return nil, err
	}
	if err := o.deps.Dispatcher.Dispatch(ctx, record); err != nil {
		run.trace.Append(StageHandoff, "dispatch_failed", err.Error(), nil)
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}
	return record, nil
}

// archive hands terminal runs to the archiver. Failures are logged, not
// returned.
func (o *Orchestrator) archive(ctx context.Context, run *Run) {
	if o.deps.Archiver == nil || !run.State().Terminal() {
		return
	}
	if err := o.deps.Archiver.Archive(ctx, run.Snapshot()); err != nil {
		log.Printf("Warning: failed to archive run %s: %v", run.ID, err)
		run.trace.Append(StageOrchestrator, "archive_failed", err.Error(), nil)
	}
}

// Lookup returns a registered run.
func (o *Orchestrator) Lookup(id string) (*Run, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	run, ok := o.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// Cancel cancels a registered run.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	run, err := o.Lookup(id)
	if err != nil {
		return err
	}
	awaiting := run.State() == StateAwaitingClarification
	run.Cancel()
	if awaiting {
		o.archive(ctx, run)
	}
	return nil
}

// Runs returns snapshots of every registered run, newest first.
func (o *Orchestrator) Runs() []Snapshot {
	o.mu.RLock()
	runs := make([]*Run, 0, len(o.runs))
	for _, r := range o.runs {
		runs = append(runs, r)
	}
	o.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	out := make([]Snapshot, len(runs))
	for i, r := range runs {
		out[i] = r.Snapshot()
	}
	return out
}

// Forget drops a terminal run from memory.
func (o *Orchestrator) Forget(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if run, ok := o.runs[id]; ok && run.State().Terminal() {
		delete(o.runs, id)
	}
}

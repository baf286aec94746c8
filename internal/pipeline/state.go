package pipeline

import (
	"errors"
	"fmt"
)

// State is a pipeline run status
type State string

// State constants
const (
	StateRouting               State = "ROUTING"
	StateAwaitingClarification State = "AWAITING_CLARIFICATION"
	StateExtracting            State = "EXTRACTING"
	StateVerifying             State = "VERIFYING"
	StateReadyForGeneration    State = "READY_FOR_GENERATION"
	StateNeedsReview           State = "NEEDS_REVIEW"
	StateFailed                State = "FAILED"
)

// Stage names used in trace entries
const (
	StageRouting      = "routing"
	StageExtracting   = "extracting"
	StageVerifying    = "verifying"
	StageHandoff      = "handoff"
	StageOrchestrator = "orchestrator"
)

// StateDefinition describes a state and the states it may move to.
type StateDefinition struct {
	Name     State
	Stage    string
	Terminal bool
	Next     []State
}

// StateRegistry holds every state of the run state machine.
var StateRegistry = map[State]StateDefinition{
	StateRouting: {
		Name:  StateRouting,
		Stage: StageRouting,
		Next:  []State{StateExtracting, StateAwaitingClarification, StateFailed},
	},
	StateAwaitingClarification: {
		Name:  StateAwaitingClarification,
		Stage: StageRouting,
		Next:  []State{StateRouting, StateFailed},
	},
	StateExtracting: {
		Name:  StateExtracting,
		Stage: StageExtracting,
		Next:  []State{StateVerifying, StateFailed},
	},
	StateVerifying: {
		Name:  StateVerifying,
		Stage: StageVerifying,
		Next:  []State{StateReadyForGeneration, StateNeedsReview, StateFailed},
	},
	StateReadyForGeneration: {
		Name:     StateReadyForGeneration,
		Stage:    StageOrchestrator,
		Terminal: true,
	},
	StateNeedsReview: {
		Name:     StateNeedsReview,
		Stage:    StageOrchestrator,
		Terminal: true,
	},
	StateFailed: {
		Name:     StateFailed,
		Stage:    StageOrchestrator,
		Terminal: true,
	},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return StateRegistry[s].Terminal
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	def, ok := StateRegistry[from]
	if !ok {
		return false
	}
	for _, next := range def.Next {
		if next == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition matches any *TransitionError via errors.Is.
var ErrIllegalTransition = errors.New("illegal state transition")

// TransitionError is returned when a transition is not in StateRegistry.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal state transition from %s to %s", e.From, e.To)
}

// Is lets errors.Is match ErrIllegalTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Reason explains why a run reached its state
type Reason string

// Reason constants
const (
	ReasonNone                       Reason = ""
	ReasonUnsupportedIntent          Reason = "unsupported_intent"
	ReasonAmbiguousIntent            Reason = "ambiguous_intent"
	ReasonRoutingFailed              Reason = "routing_failed"
	ReasonAllBackendsExhausted       Reason = "all_backends_exhausted"
	ReasonExtractionFailed           Reason = "extraction_failed"
	ReasonVerificationInfrastructure Reason = "verification_infrastructure"
	ReasonVerificationRejected       Reason = "verification_rejected"
	ReasonVerificationWarnings       Reason = "verification_warnings"
	ReasonVerified                   Reason = "verified"
	ReasonCancelled                  Reason = "cancelled"
)

// Outcome is the single terminal result of a run
type Outcome string

// Outcome constants
const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

func outcomeOf(s State) Outcome {
	switch s {
	case StateReadyForGeneration:
		return OutcomeSuccess
	case StateNeedsReview:
		return OutcomePartial
	case StateFailed:
		return OutcomeFailure
	default:
		return OutcomePending
	}
}

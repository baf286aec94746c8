package routing

import (
	"sort"

	"github.com/jonathan/courseware-agent/internal/types"
)

// Default decision thresholds.
const (
	DefaultMargin         = 0.1
	DefaultFloor          = 0.3
	DefaultConfidentScore = 0.8
	maxCandidates         = 3

	// scoreEpsilon absorbs float error when a lead is compared to the margin.
	scoreEpsilon = 1e-9
)

// Kind is the outcome of routing
type Kind string

// Kind constants
const (
	KindRouted      Kind = "routed"
	KindAmbiguous   Kind = "ambiguous"
	KindUnsupported Kind = "unsupported"
)

// Candidate is one pipeline and its score in [0,1].
type Candidate struct {
	Pipeline types.ArtifactType `json:"pipeline"`
	Score    float64            `json:"score"`
}

// Thresholds control Decide.
type Thresholds struct {
	// Margin is the minimum lead of the top candidate over the runner-up.
	Margin float64
	// Floor is the minimum score for any pipeline to be considered.
	Floor float64
}

// DefaultThresholds returns the standard margin and floor.
func DefaultThresholds() Thresholds {
	return Thresholds{Margin: DefaultMargin, Floor: DefaultFloor}
}

// Decision is the router's verdict on a request.
type Decision struct {
	Kind       Kind                   `json:"kind"`
	Pipeline   types.ArtifactType     `json:"pipeline,omitempty"`
	Tasks      []types.ExtractionTask `json:"tasks,omitempty"`
	Candidates []Candidate            `json:"candidates"`
	Source     Source                 `json:"source"`
	Reason     string                 `json:"reason,omitempty"`
}

// Err returns the typed error for an ambiguous or unsupported decision.
func (d Decision) Err() error {
	switch d.Kind {
	case KindAmbiguous:
		return &AmbiguousError{Candidates: d.Candidates}
	case KindUnsupported:
		return &UnsupportedError{Reason: d.Reason, Candidates: d.Candidates}
	default:
		return nil
	}
}

// Rank sorts candidates by descending score, then by name.
func Rank(scores []Candidate) []Candidate {
	out := make([]Candidate, len(scores))
	copy(out, scores)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Pipeline < out[j].Pipeline
	})
	return out
}

// Decide turns scores into a decision. It never guesses: a top score under
// the floor is unsupported and a lead under the margin is ambiguous.
func Decide(scores []Candidate, th Thresholds) Decision {
	ranked := Rank(scores)
	top := ranked
	if len(top) > maxCandidates {
		top = top[:maxCandidates]
	}

	if len(ranked) == 0 || below(ranked[0].Score, th.Floor) {
		return Decision{Kind: KindUnsupported, Candidates: top, Reason: "no declared pipeline matches the request"}
	}
	if len(ranked) > 1 && below(ranked[0].Score-ranked[1].Score, th.Margin) {
		var tied []Candidate
		for _, c := range top {
			if below(ranked[0].Score-c.Score, th.Margin) {
				tied = append(tied, c)
			}
		}
		return Decision{Kind: KindAmbiguous, Candidates: tied, Reason: "top candidates are too close to call"}
	}
	return Decision{Kind: KindRouted, Pipeline: ranked[0].Pipeline, Candidates: top}
}

// below reports whether v is under limit by more than float rounding error, so
// a lead of exactly the margin counts as meeting it.
func below(v, limit float64) bool {
	return v < limit-scoreEpsilon
}

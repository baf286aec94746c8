// Package routing maps a free-form request and its attached files to one of
// the declared artifact pipelines. Keyword and file-hint rules answer first;
// the model gateway is consulted only when the rules are not confident.
package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/courseware-agent/internal/catalog"
	"github.com/jonathan/courseware-agent/internal/gateway"
	"github.com/jonathan/courseware-agent/internal/types"
)

// DefaultTimeout bounds each classification attempt.
const DefaultTimeout = 30 * time.Second

// Source records which scorer produced a decision
type Source string

// Source constants
const (
	SourceRules    Source = "rules"
	SourceAI       Source = "ai"
	SourceFallback Source = "rules_fallback"
	SourceCaller   Source = "caller"
)

// EventKind names a router event
type EventKind string

// EventKind constants
const (
	EventRuleScores EventKind = "rule_scores"
	EventAttempt    EventKind = "attempt"
	EventAIScores   EventKind = "ai_scores"
	EventFallback   EventKind = "ai_fallback"
	EventDecision   EventKind = "decision"
)

// Event reports router progress.
type Event struct {
	Kind       EventKind
	Message    string
	Candidates []Candidate
	Attempt    *gateway.Attempt
	Decision   *Decision
}

// Observer receives router events.
type Observer func(Event)

// Config tunes the router.
type Config struct {
	Thresholds
	// ConfidentScore is the rule score at or above which no AI call is made,
	// provided the lead over the runner-up is at least Margin.
	ConfidentScore float64
	Timeout        time.Duration
}

// DefaultConfig returns the standard router settings.
func DefaultConfig() Config {
	return Config{Thresholds: DefaultThresholds(), ConfidentScore: DefaultConfidentScore, Timeout: DefaultTimeout}
}

func (c Config) withDefaults() Config {
	if c.Margin <= 0 {
		c.Margin = DefaultMargin
	}
	if c.Floor <= 0 {
		c.Floor = DefaultFloor
	}
	if c.ConfidentScore <= 0 {
		c.ConfidentScore = DefaultConfidentScore
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Router classifies requests. It holds no per-run state.
type Router struct {
	catalog *catalog.Catalog
	rules   *ruleSet
	gateway gateway.Invoker
	cfg     Config
}

// New creates a router. gw may be nil, in which case only rules are used.
func New(c *catalog.Catalog, gw gateway.Invoker, cfg Config) *Router {
	return &Router{catalog: c, rules: newRuleSet(c), gateway: gw, cfg: cfg.withDefaults()}
}

// Route decides which pipeline a request belongs to. Ambiguous and
// unsupported requests are decisions, not errors; the error is reserved for
// cancellation.
func (r *Router) Route(ctx context.Context, text string, files []types.SourceDocument, prefs []string, observe Observer) (Decision, error) {
	if observe == nil {
		observe = func(Event) {}
	}

	ruleScores := r.rules.Score(text, files)
	ranked := Rank(ruleScores)
	observe(Event{Kind: EventRuleScores, Message: describeScores(ranked), Candidates: ranked})

	scores, source := ruleScores, SourceRules
	if !r.confident(ranked) && r.gateway != nil && len(prefs) > 0 {
		aiScores, err := r.classify(ctx, text, files, prefs, observe)
		switch {
		case err != nil && ctx.Err() != nil:
			return Decision{}, fmt.Errorf("routing cancelled: %w", ctx.Err())
		case err != nil:
			observe(Event{Kind: EventFallback, Message: fmt.Sprintf("classifier unavailable, using rule scores: %v", err)})
			source = SourceFallback
		default:
			aiRanked := Rank(aiScores)
			observe(Event{Kind: EventAIScores, Message: describeScores(aiRanked), Candidates: aiRanked})
			scores, source = aiScores, SourceAI
		}
	}

	d := Decide(scores, r.cfg.Thresholds)
	d.Source = source
	if d.Kind == KindRouted {
		tasks, err := r.Resolve(d.Pipeline, files)
		if err != nil {
			return Decision{}, err
		}
		d.Tasks = tasks
	}
	observe(Event{Kind: EventDecision, Message: describeDecision(d), Candidates: d.Candidates, Decision: &d})
	return d, nil
}

// Choose routes directly to a caller-selected pipeline, as after an
// ambiguous decision.
func (r *Router) Choose(pipeline types.ArtifactType, files []types.SourceDocument) (Decision, error) {
	tasks, err := r.Resolve(pipeline, files)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Kind:       KindRouted,
		Pipeline:   pipeline,
		Tasks:      tasks,
		Candidates: []Candidate{{Pipeline: pipeline, Score: 1}},
		Source:     SourceCaller,
	}, nil
}

// Resolve builds the extraction tasks for a pipeline.
func (r *Router) Resolve(pipeline types.ArtifactType, files []types.SourceDocument) ([]types.ExtractionTask, error) {
	p, ok := r.catalog.Pipeline(pipeline)
	if !ok {
		return nil, &UnsupportedError{Reason: fmt.Sprintf("pipeline %q is not declared", pipeline)}
	}
	return p.Tasks(files), nil
}

// Catalog returns the router's pipeline catalog.
func (r *Router) Catalog() *catalog.Catalog {
	return r.catalog
}

// confident reports whether the rule scores settle the request alone.
func (r *Router) confident(ranked []Candidate) bool {
	if len(ranked) == 0 || below(ranked[0].Score, r.cfg.ConfidentScore) {
		return false
	}
	return len(ranked) == 1 || !below(ranked[0].Score-ranked[1].Score, r.cfg.Margin)
}

func describeScores(ranked []Candidate) string {
	if len(ranked) == 0 {
		return "no pipelines scored"
	}
	msg := ""
	for i, c := range ranked {
		if i == maxCandidates {
			break
		}
		if i > 0 {
			msg += ", "
		}
		msg += fmt.Sprintf("%s=%.2f", c.Pipeline, c.Score)
	}
	return msg
}

func describeDecision(d Decision) string {
	switch d.Kind {
	case KindRouted:
		return fmt.Sprintf("routed to %s via %s with %d task(s)", d.Pipeline, d.Source, len(d.Tasks))
	default:
		return fmt.Sprintf("%s via %s: %s [%s]", d.Kind, d.Source, d.Reason, describeScores(d.Candidates))
	}
}

// Package verification checks an extraction result and produces a verdict
// per field plus an aggregate record status. Deterministic checks run first;
// fields that pass and declare a semantic question are then put to the model
// gateway. Field values are never modified.
package verification

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/courseware-agent/internal/gateway"
	"github.com/jonathan/courseware-agent/internal/ingestion"
	"github.com/jonathan/courseware-agent/internal/types"
)

// Defaults for Config.
const (
	DefaultMinConfidence       = 0.4
	DefaultNameMatchThreshold  = 0.8
	DefaultTimeout             = 60 * time.Second
	DefaultMaxConcurrentChecks = 4
	DefaultContextChars        = 4000
)

// DefaultCompanyNameFields are compared with the registered entity name.
var DefaultCompanyNameFields = []string{"organisation_name", "company_name"}

// Config tunes the agent.
type Config struct {
	MinConfidence       float64
	NameMatchThreshold  float64
	Timeout             time.Duration
	MaxConcurrentChecks int
	ContextChars        int
	CompanyNameFields   []string

	// RecordMatchThreshold applies when the agent has a RecordsSource.
	RecordMatchThreshold float64
	PersonNameFields     []string
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinConfidence:       DefaultMinConfidence,
		NameMatchThreshold:  DefaultNameMatchThreshold,
		Timeout:             DefaultTimeout,
		MaxConcurrentChecks: DefaultMaxConcurrentChecks,
		ContextChars:        DefaultContextChars,
		CompanyNameFields:   DefaultCompanyNameFields,

		RecordMatchThreshold: DefaultRecordMatchThreshold,
		PersonNameFields:     DefaultPersonNameFields,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinConfidence <= 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.NameMatchThreshold <= 0 {
		c.NameMatchThreshold = d.NameMatchThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxConcurrentChecks <= 0 {
		c.MaxConcurrentChecks = d.MaxConcurrentChecks
	}
	if c.ContextChars <= 0 {
		c.ContextChars = d.ContextChars
	}
	if len(c.CompanyNameFields) == 0 {
		c.CompanyNameFields = d.CompanyNameFields
	}
	if c.RecordMatchThreshold <= 0 {
		c.RecordMatchThreshold = d.RecordMatchThreshold
	}
	if len(c.PersonNameFields) == 0 {
		c.PersonNameFields = d.PersonNameFields
	}
	return c
}

// EventKind names an agent event
type EventKind string

// EventKind constants
const (
	EventCheck    EventKind = "check"
	EventRegistry EventKind = "registry"
	EventRecords  EventKind = "training_records"
	EventAttempt  EventKind = "attempt"
	EventSemantic EventKind = "semantic_check"
	EventVerdict  EventKind = "verdict"
)

// Event reports agent progress. Observers may be called from several goroutines.
type Event struct {
	Kind    EventKind
	Field   string
	Message string
	Attempt *gateway.Attempt
	Result  *types.FieldVerdict
	Verdict *types.Verdict
}

// Observer receives agent events.
type Observer func(Event)

// Input is what one verification pass reads.
type Input struct {
	Result      *types.ExtractionResult
	Documents   []types.SourceDocument
	Preferences []string
}

// Agent verifies extraction results. It holds no per-run state.
type Agent struct {
	gateway  gateway.Invoker
	registry Registry
	records  RecordsSource
	cfg      Config
	decode   func(types.SourceDocument) (*ingestion.Decoded, error)
}

// NewAgent creates an agent. registry may be nil to skip registry lookups.
func NewAgent(gw gateway.Invoker, registry Registry, cfg Config) *Agent {
	return &Agent{gateway: gw, registry: registry, cfg: cfg.withDefaults(), decode: ingestion.Decode}
}

// WithRecords returns a copy of the agent that also checks the extracted
// trainee against training records. A nil source disables the check.
func (a *Agent) WithRecords(src RecordsSource) *Agent {
	c := *a
	c.records = src
	return &c
}

// Config returns the effective configuration.
func (a *Agent) Config() Config {
	return a.cfg
}

// Verify produces a verdict for the result. The error is non-nil only for
// cancellation or an infrastructure failure; a REJECTED verdict is returned
// with a nil error.
func (a *Agent) Verify(ctx context.Context, in Input, observe Observer) (types.Verdict, error) {
	if in.Result == nil {
		return types.Verdict{}, ErrNoResult
	}
	if observe == nil {
		observe = func(Event) {}
	}

	specs := uniqueSpecs(in.Result.FieldSpecs())
	values := in.Result.Fields()
	conflicts := in.Result.Conflicts()

	verdicts := make([]types.FieldVerdict, len(specs))
	for i, spec := range specs {
		v, ok := values[spec.Name]
		if !ok {
			v = types.MissingValue(spec.Name, "")
		}
		verdicts[i] = checkField(spec, v, conflicts, a.cfg.MinConfidence)
		fv := verdicts[i]
		observe(Event{Kind: EventCheck, Field: spec.Name, Message: describe(fv), Result: &fv})
	}

	if err := a.checkRegistry(ctx, specs, values, verdicts, observe); err != nil {
		return types.Verdict{}, err
	}
	if err := a.checkRecords(ctx, specs, values, verdicts, observe); err != nil {
		return types.Verdict{}, err
	}
	if err := a.checkSemantics(ctx, in, specs, values, verdicts, observe); err != nil {
		return types.Verdict{}, err
	}

	verdict := types.NewVerdict(verdicts)
	observe(Event{Kind: EventVerdict, Message: string(verdict.Status), Verdict: &verdict})
	return verdict, nil
}

// checkRegistry looks up checksum-valid UENs and compares the registered name
// with the extracted company name.
func (a *Agent) checkRegistry(ctx context.Context, specs []types.FieldSpec, values map[string]types.FieldValue, verdicts []types.FieldVerdict, observe Observer) error {
	if a.registry == nil {
		return nil
	}
	for i, spec := range specs {
		if spec.Identifier != types.IdentifierUEN || verdicts[i].Status != types.StatusPass || verdicts[i].Reason != types.ReasonOK {
			continue
		}
		uen := values[spec.Name].Normalized

		lookupCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		entry, err := a.registry.Lookup(lookupCtx, uen)
		cancel()

		switch {
		case err != nil && ctx.Err() != nil:
			return fmt.Errorf("verification cancelled: %w", ctx.Err())
		case err != nil:
			verdicts[i] = annotate(verdicts[i], types.StatusWarn, types.ReasonRegistryUnavailable, err.Error())
		case entry == nil:
			verdicts[i] = annotate(verdicts[i], types.StatusWarn, types.ReasonRegistryNotFound,
				fmt.Sprintf("UEN %s is not in the entity registry", uen))
		default:
			observe(Event{Kind: EventRegistry, Field: spec.Name, Message: fmt.Sprintf("UEN %s registered to %s", uen, entry.Name)})
			a.compareName(specs, values, verdicts, entry, observe)
			continue
		}
		fv := verdicts[i]
		observe(Event{Kind: EventRegistry, Field: spec.Name, Message: describe(fv), Result: &fv})
	}
	return nil
}

func (a *Agent) compareName(specs []types.FieldSpec, values map[string]types.FieldValue, verdicts []types.FieldVerdict, entry *RegistryEntry, observe Observer) {
	for _, name := range a.cfg.CompanyNameFields {
		for i, spec := range specs {
			if spec.Name != name || verdicts[i].Status != types.StatusPass {
				continue
			}
			v, ok := values[name]
			if !ok || !v.Present() {
				continue
			}
			score := NameSimilarity(v.Normalized, entry.Name)
			if score >= a.cfg.NameMatchThreshold {
				continue
			}
			verdicts[i] = annotate(verdicts[i], types.StatusWarn, types.ReasonRegistryNameMismatch,
				fmt.Sprintf("registered name %q matches %.0f%%", entry.Name, score*100))
			registered := entry.Name
			verdicts[i].Correction = &registered
			fv := verdicts[i]
			observe(Event{Kind: EventRegistry, Field: name, Message: describe(fv), Result: &fv})
		}
	}
}

// checkSemantics runs the AI-assisted checks concurrently. Each goroutine
// writes only its own slot of verdicts.
func (a *Agent) checkSemantics(ctx context.Context, in Input, specs []types.FieldSpec, values map[string]types.FieldValue, verdicts []types.FieldVerdict, observe Observer) error {
	var pending []int
	for i, spec := range specs {
		if spec.SemanticCheck != "" && verdicts[i].Status == types.StatusPass && values[spec.Name].Present() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	texts := a.documentTexts(in.Documents)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrentChecks)
	for _, i := range pending {
		spec := specs[i]
		v := values[spec.Name]
		excerpt := contextWindow(texts[v.Provenance.DocumentID], v.Normalized, a.cfg.ContextChars)
		g.Go(func() error {
			fv, err := a.semanticCheck(gctx, spec, v, excerpt, in.Preferences, observe)
			if err != nil {
				return err
			}
			verdicts[i] = fv
			observe(Event{Kind: EventSemantic, Field: spec.Name, Message: describe(fv), Result: &fv})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("verification cancelled: %w", ctx.Err())
		}
		return err
	}
	return nil
}

// documentTexts decodes the documents once for context excerpts. Documents
// that fail to decode contribute no context.
func (a *Agent) documentTexts(docs []types.SourceDocument) map[string]string {
	texts := make(map[string]string, len(docs))
	for _, doc := range docs {
		decoded, err := a.decode(doc)
		if err != nil {
			continue
		}
		texts[doc.ID] = decoded.Text
	}
	return texts
}

func uniqueSpecs(specs []types.FieldSpec) []types.FieldSpec {
	seen := make(map[string]bool, len(specs))
	out := make([]types.FieldSpec, 0, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out
}

func describe(fv types.FieldVerdict) string {
	if fv.Detail == "" {
		return fmt.Sprintf("%s %s (%s)", fv.Field, fv.Status, fv.Reason)
	}
	return fmt.Sprintf("%s %s (%s): %s", fv.Field, fv.Status, fv.Reason, fv.Detail)
}

package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/courseware-agent/internal/catalog"
	"github.com/jonathan/courseware-agent/internal/gateway"
	"github.com/jonathan/courseware-agent/internal/llm"
	"github.com/jonathan/courseware-agent/internal/prompts"
	"github.com/jonathan/courseware-agent/internal/schemas"
	"github.com/jonathan/courseware-agent/internal/types"
)

const maxRequestChars = 4000

// ClassifyError is returned when the classifier reply cannot be used.
type ClassifyError struct {
	Message string
	Cause   error
}

func (e *ClassifyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("intent classification failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("intent classification failed: %s", e.Message)
}

func (e *ClassifyError) Unwrap() error {
	return e.Cause
}

func buildClassifyPrompt(pipelines []catalog.Pipeline, text string, files []types.SourceDocument) (string, error) {
	var pl strings.Builder
	for _, p := range pipelines {
		fmt.Fprintf(&pl, "- %s: %s. %s\n", p.Name, p.Title, p.Description)
	}

	var fl strings.Builder
	if len(files) == 0 {
		fl.WriteString("(none)\n")
	}
	for _, f := range files {
		fmt.Fprintf(&fl, "- %s (%s, %s)\n", f.Name, f.Kind, f.Origin)
	}

	text = llm.ClipUTF8(text, maxRequestChars)

	return prompts.Render(prompts.RoutingFile, "classify-intent", map[string]string{
		"Pipelines": strings.TrimRight(pl.String(), "\n"),
		"Request":   text,
		"Files":     strings.TrimRight(fl.String(), "\n"),
	})
}

// parseClassification reads the classifier reply. Unknown pipeline names are
// dropped and scores are clamped; duplicates keep the highest score.
func parseClassification(raw string, known []types.ArtifactType) ([]Candidate, error) {
	var structured llm.StructuredReply
	switch r := llm.ClassifyReply(raw).(type) {
	case llm.StructuredReply:
		structured = r
	case llm.MalformedReply:
		return nil, &ClassifyError{Message: "malformed reply", Cause: r.Err}
	case llm.RefusalReply:
		return nil, &ClassifyError{Message: "model refused: " + truncate(r.Text, 120)}
	}
	if err := schemas.ValidateJSONString(schemas.RoutingReplySchema, structured.JSON); err != nil {
		return nil, &ClassifyError{Message: "reply does not match schema", Cause: err}
	}

	scores := make(map[types.ArtifactType]float64, len(known))
	for _, name := range known {
		scores[name] = 0
	}
	items, _ := structured.Object["candidates"].([]any)
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := types.ArtifactType(strings.TrimSpace(fmt.Sprint(obj["pipeline"])))
		prev, ok := scores[name]
		if !ok {
			continue
		}
		conf, _ := obj["confidence"].(float64)
		conf = types.ClampConfidence(conf)
		if conf > prev {
			scores[name] = conf
		}
	}

	out := make([]Candidate, 0, len(known))
	for _, name := range known {
		out = append(out, Candidate{Pipeline: name, Score: scores[name]})
	}
	return out, nil
}

// classify asks the gateway to score the pipelines.
func (r *Router) classify(ctx context.Context, text string, files []types.SourceDocument, prefs []string, observe Observer) ([]Candidate, error) {
	prompt, err := buildClassifyPrompt(r.catalog.Pipelines, text, files)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing prompt: %w", err)
	}
	resp, err := r.gateway.Invoke(ctx, gateway.Request{
		Prompt:      prompt,
		Preferences: prefs,
		Timeout:     r.cfg.Timeout,
		Observer: func(a gateway.Attempt) {
			observe(Event{Kind: EventAttempt, Attempt: &a})
		},
	})
	if err != nil {
		return nil, err
	}
	return parseClassification(resp.Raw, r.catalog.Names())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return llm.ClipUTF8(s, n) + "..."
}

package verification

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/courseware-agent/internal/gateway"
	"github.com/jonathan/courseware-agent/internal/llm"
	"github.com/jonathan/courseware-agent/internal/prompts"
	"github.com/jonathan/courseware-agent/internal/schemas"
	"github.com/jonathan/courseware-agent/internal/types"
)

// Answer is the model's reply to a semantic check
type Answer string

// Answer constants
const (
	AnswerYes       Answer = "yes"
	AnswerNo        Answer = "no"
	AnswerUncertain Answer = "uncertain"
)

type semanticReply struct {
	Answer     Answer
	Reason     string
	Suggestion string
}

// parseSemanticReply resolves a raw reply. Anything that is not a
// schema-valid object is treated as uncertain.
func parseSemanticReply(raw string) semanticReply {
	structured, ok := llm.ClassifyReply(raw).(llm.StructuredReply)
	if !ok {
		return semanticReply{Answer: AnswerUncertain, Reason: "reply was not a JSON object"}
	}
	if err := schemas.ValidateJSONString(schemas.VerificationReplySchema, structured.JSON); err != nil {
		return semanticReply{Answer: AnswerUncertain, Reason: "reply did not match the expected shape"}
	}
	reply := semanticReply{Answer: Answer(structured.Object["answer"].(string))}
	if s, ok := structured.Object["reason"].(string); ok {
		reply.Reason = strings.TrimSpace(s)
	}
	if s, ok := structured.Object["suggestion"].(string); ok {
		reply.Suggestion = strings.TrimSpace(s)
	}
	return reply
}

// semanticCheck asks the gateway whether a value answers the field's
// question. Only cancellation and exhaustion on a required field are errors.
func (a *Agent) semanticCheck(ctx context.Context, spec types.FieldSpec, v types.FieldValue, excerpt string, prefs []string, observe Observer) (types.FieldVerdict, error) {
	fv := pass(spec)

	prompt, err := prompts.Render(prompts.VerificationFile, "semantic-check", map[string]string{
		"Field":    spec.Name,
		"Value":    v.Normalized,
		"Question": spec.SemanticCheck,
		"Context":  excerpt,
	})
	if err != nil {
		return fv, fmt.Errorf("failed to load verification prompt: %w", err)
	}

	resp, err := a.gateway.Invoke(ctx, gateway.Request{
		Prompt:      prompt,
		Preferences: prefs,
		Timeout:     a.cfg.Timeout,
		Observer: func(at gateway.Attempt) {
			observe(Event{Kind: EventAttempt, Field: spec.Name, Attempt: &at})
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fv, fmt.Errorf("verification cancelled: %w", ctxErr)
		}
		if spec.Required {
			return fv, fmt.Errorf("%w: semantic check of required field %s: %w", ErrVerificationInfrastructure, spec.Name, err)
		}
		return annotate(fv, types.StatusWarn, types.ReasonAIUnavailable, err.Error()), nil
	}

	reply := parseSemanticReply(resp.Raw)
	switch reply.Answer {
	case AnswerYes:
		return fv, nil
	case AnswerNo:
		fv = annotate(fv, types.StatusWarn, types.ReasonAIDisagrees, reply.Reason)
		if reply.Suggestion != "" && reply.Suggestion != v.Normalized {
			suggestion := reply.Suggestion
			fv.Correction = &suggestion
		}
		return fv, nil
	default:
		return annotate(fv, types.StatusWarn, types.ReasonAIUncertain, reply.Reason), nil
	}
}

// contextWindow returns the part of text around the value, or its start when
// the value does not occur verbatim.
func contextWindow(text, value string, size int) string {
	if len(text) <= size {
		return text
	}
	idx := -1
	if value != "" {
		// Lowercasing can change byte lengths outside ASCII, which would
		// shift the offsets.
		if lower := strings.ToLower(text); len(lower) == len(text) {
			idx = strings.Index(lower, strings.ToLower(value))
		} else {
			idx = strings.Index(text, value)
		}
	}
	if idx < 0 {
		return llm.ClipUTF8(text, size)
	}
	start := idx - size/2
	if start < 0 {
		start = 0
	}
	end := start + size
	if end > len(text) {
		end = len(text)
		start = end - size
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start++
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end--
	}
	return text[start:end]
}

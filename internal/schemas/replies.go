package schemas

import (
	"encoding/json"

	"github.com/jonathan/courseware-agent/internal/types"
)

// VerificationReplySchema constrains the AI-assisted check reply.
const VerificationReplySchema = `{
  "type": "object",
  "required": ["answer"],
  "properties": {
    "answer": {"type": "string", "enum": ["yes", "no", "uncertain"]},
    "reason": {"type": "string"},
    "suggestion": {"type": ["string", "null"]}
  }
}`

// RoutingReplySchema constrains the intent classification reply.
const RoutingReplySchema = `{
  "type": "object",
  "required": ["candidates"],
  "properties": {
    "candidates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["pipeline", "confidence"],
        "properties": {
          "pipeline": {"type": "string"},
          "confidence": {"type": "number"}
        }
      }
    }
  }
}`

// TaskResponseSchema builds the JSON Schema an extraction reply for task must
// satisfy. Each field may be null, a bare scalar or list, or an object with
// value, confidence and evidence.
func TaskResponseSchema(task types.ExtractionTask) string {
	scalar := map[string]any{"type": []string{"string", "number", "boolean", "array", "null"}}
	wrapped := map[string]any{
		"type":     "object",
		"required": []string{"value"},
		"properties": map[string]any{
			"value":      scalar,
			"confidence": map[string]any{"type": []string{"number", "null"}},
			"evidence":   map[string]any{"type": []string{"string", "null"}},
		},
	}

	props := make(map[string]any, len(task.Fields))
	for _, f := range task.Fields {
		props[f.Name] = map[string]any{"anyOf": []any{scalar, wrapped}}
	}

	schema := map[string]any{
		"type":     "object",
		"required": []string{"fields"},
		"properties": map[string]any{
			"fields": map[string]any{
				"type":       "object",
				"properties": props,
			},
		},
	}

	// map[string]any of plain values always marshals
	out, _ := json.Marshal(schema)
	return string(out)
}

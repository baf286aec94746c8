package extraction

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonathan/courseware-agent/internal/llm"
	"github.com/jonathan/courseware-agent/internal/schemas"
	"github.com/jonathan/courseware-agent/internal/types"
)

// Heuristic confidences for model values reported without a score.
const (
	VerbatimConfidence    = 0.6
	NonVerbatimConfidence = 0.45
)

const maxEvidence = 240

// parseReply turns a raw model reply into field values for the requested
// fields. Malformed, refused or schema-invalid replies return an error.
func parseReply(task types.ExtractionTask, raw, text, documentID, backend string) (map[string]types.FieldValue, error) {
	var obj map[string]any
	switch r := llm.ClassifyReply(raw).(type) {
	case llm.StructuredReply:
		if err := schemas.ValidateJSONString(schemas.TaskResponseSchema(task), r.JSON); err != nil {
			return nil, fmt.Errorf("reply does not match task schema: %w", err)
		}
		obj = r.Object
	case llm.RefusalReply:
		return nil, fmt.Errorf("model refused: %s", truncate(r.Text, 120))
	case llm.MalformedReply:
		return nil, r.Err
	}

	fields, _ := obj["fields"].(map[string]any)
	values := make(map[string]types.FieldValue, len(task.Fields))
	for _, f := range task.Fields {
		value, confidence, evidence := unpack(fields[f.Name])
		if strings.TrimSpace(value) == "" {
			values[f.Name] = types.MissingValue(f.Name, documentID)
			continue
		}

		if confidence == nil {
			c := NonVerbatimConfidence
			if inSource(f, value, text) {
				c = VerbatimConfidence
			}
			confidence = &c
		}

		values[f.Name] = types.NewFieldValue(f.Name, value, Normalize(f, value), *confidence, types.Provenance{
			DocumentID: documentID,
			Backend:    backend,
			Method:     types.MethodModel,
			Evidence:   truncate(evidence, maxEvidence),
		})
	}
	return values, nil
}

// unpack reads a field entry in either the wrapped or bare form.
func unpack(v any) (value string, confidence *float64, evidence string) {
	if m, ok := v.(map[string]any); ok {
		if c, ok := m["confidence"].(float64); ok {
			confidence = &c
		}
		evidence, _ = m["evidence"].(string)
		v = m["value"]
	}
	return stringify(v), confidence, evidence
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		var items []string
		for _, item := range t {
			if s := strings.TrimSpace(stringify(item)); s != "" {
				items = append(items, s)
			}
		}
		return strings.Join(items, "\n")
	default:
		return fmt.Sprint(t)
	}
}

// inSource checks that a value, or every list item, occurs in the source text.
func inSource(f types.FieldSpec, value, text string) bool {
	if f.Type != types.FieldList {
		return verbatim(value, text)
	}
	items := SplitList(value)
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !verbatim(item, text) {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return llm.ClipUTF8(s, n) + "..."
}

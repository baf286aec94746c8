// Package llm - extractor.go provides generic LLM-based structured extraction.
package llm

import (
	"fmt"
	"strings"

	"github.com/jonathan/courseware-agent/internal/types"
)

// ExtractionSchema defines the structure for LLM-based content extraction.
type ExtractionSchema struct {
	Name        string        // Task name (e.g., "organisation", "course_overview")
	Description string        // System prompt preamble describing the extraction task
	Fields      []SchemaField // Expected output fields
}

// SchemaField defines a single field in the extraction output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // Type hint shown to the model
	Description string // Description for the LLM
	Required    bool   // Whether this field is required
}

// SchemaFromTask converts an extraction task into a prompt schema.
// Only the fields listed in only are included when it is non-empty.
func SchemaFromTask(task types.ExtractionTask, description string, only map[string]bool) ExtractionSchema {
	schema := ExtractionSchema{Name: task.Name, Description: description}
	for _, f := range task.Fields {
		if len(only) > 0 && !only[f.Name] {
			continue
		}
		schema.Fields = append(schema.Fields, SchemaField{
			Name:        f.Name,
			Type:        typeHint(f),
			Description: f.Description,
			Required:    f.Required,
		})
	}
	return schema
}

func typeHint(f types.FieldSpec) string {
	switch f.Type {
	case types.FieldDate:
		return "date (as written)"
	case types.FieldCurrency:
		return "amount (as written, with currency)"
	case types.FieldEnum:
		return "one of " + strings.Join(f.Enum, " | ")
	case types.FieldList:
		return "list of strings"
	case types.FieldIdentifier:
		return "identifier (copy exactly)"
	default:
		return "string"
	}
}

// BuildExtractionPrompt constructs the LLM prompt from schema and input text.
// The reply format wraps every field with a value, a confidence and the
// supporting evidence so scores can be audited later.
func BuildExtractionPrompt(schema ExtractionSchema, inputText string) string {
	var sb strings.Builder

	sb.WriteString(schema.Description)
	sb.WriteString("\n\n")

	sb.WriteString("Fields to extract:\n")
	for _, field := range schema.Fields {
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		sb.WriteString(fmt.Sprintf("- %s: %s%s", field.Name, field.Type, requiredHint))
		if field.Description != "" {
			sb.WriteString(fmt.Sprintf(" // %s", field.Description))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n")
	sb.WriteString("{\n  \"fields\": {\n")
	sb.WriteString("    \"<field name>\": {\"value\": \"...\", \"confidence\": 0.0-1.0, \"evidence\": \"verbatim source snippet\"}\n")
	sb.WriteString("  }\n}\n\n")

	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Extract information directly from the text, do not invent or summarize.\n")
	sb.WriteString("- Omit a field, or use null, when the text does not contain it.\n")
	sb.WriteString("- Return ONLY the JSON object, no markdown, no explanation, no code blocks.\n\n")

	sb.WriteString("Input text:\n\"\"\"\n")
	sb.WriteString(inputText)
	sb.WriteString("\n\"\"\"\n")

	return sb.String()
}

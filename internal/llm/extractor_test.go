package llm

import (
	"testing"

	"github.com/jonathan/courseware-agent/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaFromTask(t *testing.T) {
	task := types.ExtractionTask{
		Name: "organisation",
		Fields: []types.FieldSpec{
			{Name: "uen", Type: types.FieldIdentifier, Required: true, Description: "Registration number"},
			{Name: "delivery_mode", Type: types.FieldEnum, Enum: []string{"Classroom", "Online"}},
			{Name: "course_fee", Type: types.FieldCurrency},
		},
	}

	schema := SchemaFromTask(task, "Extract organisation details.", nil)
	require.Len(t, schema.Fields, 3)
	assert.Equal(t, "organisation", schema.Name)
	assert.Equal(t, "identifier (copy exactly)", schema.Fields[0].Type)
	assert.Equal(t, "one of Classroom | Online", schema.Fields[1].Type)

	only := SchemaFromTask(task, "x", map[string]bool{"course_fee": true})
	require.Len(t, only.Fields, 1)
	assert.Equal(t, "course_fee", only.Fields[0].Name)
}

func TestBuildExtractionPrompt(t *testing.T) {
	schema := ExtractionSchema{
		Description: "You extract course data.",
		Fields: []SchemaField{
			{Name: "course_title", Type: "string", Required: true, Description: "Official title"},
		},
	}

	prompt := BuildExtractionPrompt(schema, "Course: Data Analytics")
	assert.Contains(t, prompt, "You extract course data.")
	assert.Contains(t, prompt, "- course_title: string (required) // Official title")
	assert.Contains(t, prompt, `"fields"`)
	assert.Contains(t, prompt, "Course: Data Analytics")
}

package types

// FieldType is the declared value type of an extractable field
type FieldType string

// FieldType constants
const (
	FieldString     FieldType = "string"
	FieldDate       FieldType = "date"
	FieldCurrency   FieldType = "currency"
	FieldEnum       FieldType = "enum"
	FieldIdentifier FieldType = "identifier"
	FieldList       FieldType = "list"
)

// IdentifierKind selects the deterministic validator for identifier fields
type IdentifierKind string

// IdentifierKind constants
const (
	IdentifierNone       IdentifierKind = ""
	IdentifierUEN        IdentifierKind = "uen"
	IdentifierNRIC       IdentifierKind = "nric"
	IdentifierTSCCode    IdentifierKind = "tsc_code"
	IdentifierCourseCode IdentifierKind = "course_code"
)

// FieldSpec declares a single field of an artifact schema.
type FieldSpec struct {
	Name          string         `json:"name" yaml:"name"`
	Type          FieldType      `json:"type" yaml:"type"`
	Required      bool           `json:"required" yaml:"required"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty"`
	Enum          []string       `json:"enum,omitempty" yaml:"enum,omitempty"`
	Identifier    IdentifierKind `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Pattern       string         `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Aliases       []string       `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	SemanticCheck string         `json:"semantic_check,omitempty" yaml:"semantic_check,omitempty"`
}

// ArtifactType names a downstream deliverable
type ArtifactType string

// ArtifactType constants
const (
	ArtifactCourseProposal   ArtifactType = "course_proposal"
	ArtifactAssessmentSet    ArtifactType = "assessment_set"
	ArtifactCoursewareSuite  ArtifactType = "courseware_suite"
	ArtifactBrochure         ArtifactType = "brochure"
	ArtifactVerificationOnly ArtifactType = "verification_only"
)

// ExtractionTask is a named group of fields to pull from a set of documents.
// Tasks are created by the router and consumed once by the extraction engine.
type ExtractionTask struct {
	Name            string       `json:"name"`
	Artifact        ArtifactType `json:"artifact"`
	Fields          []FieldSpec  `json:"fields"`
	Documents       []string     `json:"documents"`
	PrimaryDocument string       `json:"primary_document,omitempty"`
}

// Field returns the spec for a named field in the task.
func (t ExtractionTask) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

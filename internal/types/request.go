package types

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RunRequest is the inbound request for a pipeline run.
type RunRequest struct {
	Text        string           `json:"text" validate:"required_without=Documents"`
	Documents   []SourceDocument `json:"documents" validate:"dive"`
	Preferences []string         `json:"preferences,omitempty" validate:"dive,required"`
	// Pipeline skips routing when set.
	Pipeline ArtifactType `json:"pipeline,omitempty" validate:"omitempty,oneof=course_proposal assessment_set courseware_suite brochure verification_only"`
}

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the request and returns the first problem found.
func (r RunRequest) Validate() error {
	if err := requestValidator.Struct(r); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			var msgs []string
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid run request: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid run request: %w", err)
	}
	seen := make(map[string]bool, len(r.Documents))
	for _, d := range r.Documents {
		if seen[d.ID] {
			return fmt.Errorf("invalid run request: duplicate document id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

package types

import (
	"fmt"
	"sort"
)

// StructuredRecord is the sole input accepted by the generation dispatcher.
type StructuredRecord struct {
	RunID              string            `json:"run_id"`
	Artifact           ArtifactType      `json:"artifact"`
	Fields             map[string]string `json:"fields"`
	Verdict            Verdict           `json:"verdict"`
	ReviewAccepted     bool              `json:"review_accepted"`
	AppliedCorrections []string          `json:"applied_corrections,omitempty"`
}

// RecordError is returned when a record cannot be built from a verdict.
type RecordError struct {
	Status  VerdictStatus
	Message string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("cannot build record from %s verdict: %s", e.Status, e.Message)
}

// BuildRecord assembles a structured record. A NEEDS_REVIEW verdict requires
// acceptReview; REJECTED is never accepted. Corrections are applied only for
// fields listed in acceptCorrections.
func BuildRecord(runID string, artifact ArtifactType, values map[string]FieldValue, verdict Verdict, acceptReview bool, acceptCorrections []string) (*StructuredRecord, error) {
	switch verdict.Status {
	case VerdictVerified:
	case VerdictNeedsReview:
		if !acceptReview {
			return nil, &RecordError{Status: verdict.Status, Message: "review not accepted by caller"}
		}
	default:
		return nil, &RecordError{Status: verdict.Status, Message: "rejected records cannot be handed off"}
	}

	fields := make(map[string]string, len(values))
	for name, v := range values {
		if v.Present() {
			fields[name] = v.Normalized
		}
	}

	var applied []string
	for _, name := range acceptCorrections {
		fv, ok := verdict.Field(name)
		if !ok || fv.Correction == nil {
			return nil, &RecordError{Status: verdict.Status, Message: fmt.Sprintf("no correction offered for field %q", name)}
		}
		fields[name] = *fv.Correction
		applied = append(applied, name)
	}
	sort.Strings(applied)

	return &StructuredRecord{
		RunID:              runID,
		Artifact:           artifact,
		Fields:             fields,
		Verdict:            verdict,
		ReviewAccepted:     verdict.Status == VerdictNeedsReview,
		AppliedCorrections: applied,
	}, nil
}

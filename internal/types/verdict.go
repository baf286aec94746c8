package types

import (
	"fmt"
	"sort"
)

// FieldStatus is the verification outcome of one field
type FieldStatus string

// FieldStatus constants
const (
	StatusPass FieldStatus = "PASS"
	StatusWarn FieldStatus = "WARN"
	StatusFail FieldStatus = "FAIL"
)

// rank orders statuses from best to worst.
func (s FieldStatus) rank() int {
	switch s {
	case StatusFail:
		return 2
	case StatusWarn:
		return 1
	default:
		return 0
	}
}

// Worse reports whether s is a worse outcome than other.
func (s FieldStatus) Worse(other FieldStatus) bool {
	return s.rank() > other.rank()
}

// ReasonCode is a machine-readable explanation for a field status
type ReasonCode string

// ReasonCode constants
const (
	ReasonOK                     ReasonCode = "ok"
	ReasonMissingRequired        ReasonCode = "missing_required"
	ReasonMissingOptional        ReasonCode = "missing_optional"
	ReasonLowConfidence          ReasonCode = "low_confidence"
	ReasonInvalidIdentifier      ReasonCode = "invalid_identifier"
	ReasonInvalidFormat          ReasonCode = "invalid_format"
	ReasonChecksumUnavailable    ReasonCode = "checksum_unavailable"
	ReasonCrossDocumentConflict  ReasonCode = "cross_document_conflict"
	ReasonRegistryNotFound       ReasonCode = "registry_not_found"
	ReasonRegistryUnavailable    ReasonCode = "registry_unavailable"
	ReasonRegistryNameMismatch   ReasonCode = "registry_name_mismatch"
	ReasonTrainingRecordNotFound ReasonCode = "training_record_not_found"
	ReasonTrainingRecordMismatch ReasonCode = "training_record_mismatch"
	ReasonRecordsUnavailable     ReasonCode = "training_records_unavailable"
	ReasonAIDisagrees            ReasonCode = "ai_disagrees"
	ReasonAIUncertain            ReasonCode = "ai_uncertain"
	ReasonAIUnavailable          ReasonCode = "ai_unavailable"
)

// FieldVerdict annotates one field. Correction is advisory only.
type FieldVerdict struct {
	Field      string      `json:"field"`
	Required   bool        `json:"required"`
	Status     FieldStatus `json:"status"`
	Reason     ReasonCode  `json:"reason"`
	Detail     string      `json:"detail,omitempty"`
	Correction *string     `json:"correction,omitempty"`
}

// VerdictStatus is the aggregate status of a record
type VerdictStatus string

// VerdictStatus constants
const (
	VerdictVerified    VerdictStatus = "VERIFIED"
	VerdictNeedsReview VerdictStatus = "NEEDS_REVIEW"
	VerdictRejected    VerdictStatus = "REJECTED"
)

// Verdict is the immutable outcome of verifying an extraction result.
type Verdict struct {
	Fields      []FieldVerdict `json:"fields"`
	Status      VerdictStatus  `json:"status"`
	Remediation []string       `json:"remediation,omitempty"`
}

// NewVerdict assembles a verdict from field verdicts. Optional fields are
// never FAIL; they are downgraded to WARN. The aggregate is REJECTED exactly
// when a required field FAILs.
func NewVerdict(fields []FieldVerdict) Verdict {
	out := make([]FieldVerdict, len(fields))
	copy(out, fields)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })

	status := VerdictVerified
	var remediation []string
	for i := range out {
		fv := &out[i]
		if fv.Status == StatusFail && !fv.Required {
			fv.Status = StatusWarn
		}
		switch fv.Status {
		case StatusFail:
			status = VerdictRejected
			remediation = append(remediation, remediationFor(*fv))
		case StatusWarn:
			if status == VerdictVerified {
				status = VerdictNeedsReview
			}
			remediation = append(remediation, remediationFor(*fv))
		}
	}

	return Verdict{Fields: out, Status: status, Remediation: remediation}
}

// Field returns the verdict for a named field.
func (v Verdict) Field(name string) (FieldVerdict, bool) {
	for _, fv := range v.Fields {
		if fv.Field == name {
			return fv, true
		}
	}
	return FieldVerdict{}, false
}

// WithStatus returns the field verdicts having the given status.
func (v Verdict) WithStatus(status FieldStatus) []FieldVerdict {
	var out []FieldVerdict
	for _, fv := range v.Fields {
		if fv.Status == status {
			out = append(out, fv)
		}
	}
	return out
}

func remediationFor(fv FieldVerdict) string {
	msg := fmt.Sprintf("%s: %s", fv.Field, fv.Reason)
	if fv.Detail != "" {
		msg += " (" + fv.Detail + ")"
	}
	if fv.Correction != nil {
		msg += fmt.Sprintf("; suggested value %q", *fv.Correction)
	}
	return msg
}

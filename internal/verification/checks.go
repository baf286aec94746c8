package verification

import (
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/jonathan/courseware-agent/internal/types"
)

var (
	maskedNRIC = regexp.MustCompile(`^[STFGM]\*{4}\d{3}[A-Z]$`)
	tscCode    = regexp.MustCompile(`^[A-Z]{3}-[A-Z]{3}-\d{4}-\d\.\d$`)
	courseCode = regexp.MustCompile(`^(?:TGS|CRS)-[A-Z0-9]{8,12}$`)
	amount     = regexp.MustCompile(`^\d+\.\d{2}$`)
)

func pass(spec types.FieldSpec) types.FieldVerdict {
	return types.FieldVerdict{Field: spec.Name, Required: spec.Required, Status: types.StatusPass, Reason: types.ReasonOK}
}

func annotate(fv types.FieldVerdict, status types.FieldStatus, reason types.ReasonCode, detail string) types.FieldVerdict {
	fv.Status = status
	fv.Reason = reason
	fv.Detail = detail
	return fv
}

// checkField runs the deterministic checks for one field and returns the first
// problem found.
func checkField(spec types.FieldSpec, v types.FieldValue, conflicts []types.MergeConflict, minConfidence float64) types.FieldVerdict {
	fv := pass(spec)

	if !v.Present() {
		if spec.Required {
			return annotate(fv, types.StatusFail, types.ReasonMissingRequired, "no value found in any document")
		}
		return annotate(fv, types.StatusPass, types.ReasonMissingOptional, "")
	}

	// Format problems take precedence over confidence and consistency.
	fv = checkFormat(spec, v, fv)
	if fv.Status != types.StatusPass {
		return fv
	}

	if v.Confidence < minConfidence {
		return annotate(fv, types.StatusWarn, types.ReasonLowConfidence,
			fmt.Sprintf("confidence %.2f below %.2f", v.Confidence, minConfidence))
	}

	for _, c := range conflicts {
		if c.Field != spec.Name || c.Loser.Confidence < minConfidence {
			continue
		}
		return annotate(fv, types.StatusWarn, types.ReasonCrossDocumentConflict,
			fmt.Sprintf("document %s has %q (%.2f), kept %q from %s (%.2f)",
				c.Loser.Provenance.DocumentID, c.Loser.Normalized, c.Loser.Confidence,
				c.Winner.Normalized, c.Winner.Provenance.DocumentID, c.Winner.Confidence))
	}
	return fv
}

func checkFormat(spec types.FieldSpec, v types.FieldValue, fv types.FieldVerdict) types.FieldVerdict {
	value := v.Normalized

	switch spec.Type {
	case types.FieldIdentifier:
		fv = checkIdentifier(spec.Identifier, v, fv)
	case types.FieldDate:
		if _, err := time.Parse("2006-01-02", value); err != nil {
			fv = annotate(fv, types.StatusFail, types.ReasonInvalidFormat, fmt.Sprintf("%q is not a recognisable date", value))
		}
	case types.FieldCurrency:
		if !amount.MatchString(value) {
			fv = annotate(fv, types.StatusFail, types.ReasonInvalidFormat, fmt.Sprintf("%q is not a monetary amount", value))
		}
	case types.FieldEnum:
		if !slices.Contains(spec.Enum, value) {
			fv = annotate(fv, types.StatusFail, types.ReasonInvalidFormat, fmt.Sprintf("%q is not one of %v", value, spec.Enum))
		}
	}
	if fv.Status == types.StatusFail || spec.Pattern == "" {
		return fv
	}

	re, err := regexp.Compile(spec.Pattern)
	if err != nil {
		return annotate(fv, types.StatusFail, types.ReasonInvalidFormat, fmt.Sprintf("field pattern does not compile: %v", err))
	}
	if !re.MatchString(value) {
		return annotate(fv, types.StatusFail, types.ReasonInvalidFormat, fmt.Sprintf("%q does not match %s", value, spec.Pattern))
	}
	return fv
}

func checkIdentifier(kind types.IdentifierKind, v types.FieldValue, fv types.FieldVerdict) types.FieldVerdict {
	value := v.Normalized
	switch kind {
	case types.IdentifierUEN:
		res := ValidateUEN(value)
		switch {
		case !res.Valid:
			fv = annotate(fv, types.StatusFail, types.ReasonInvalidIdentifier, fmt.Sprintf("UEN %q: %s", value, res.Problem))
			if res.Suggested != "" {
				fv.Correction = &res.Suggested
			} else if value != v.Raw {
				fv.Correction = &value
			}
		case !res.ChecksumKnown:
			fv = annotate(fv, types.StatusWarn, types.ReasonChecksumUnavailable,
				fmt.Sprintf("UEN %q has no published check letter", value))
		}
	case types.IdentifierNRIC:
		if !maskedNRIC.MatchString(value) {
			fv = annotate(fv, types.StatusFail, types.ReasonInvalidIdentifier, fmt.Sprintf("NRIC %q is not a masked NRIC/FIN", value))
		}
	case types.IdentifierTSCCode:
		if !tscCode.MatchString(value) {
			fv = annotate(fv, types.StatusFail, types.ReasonInvalidIdentifier, fmt.Sprintf("TSC code %q does not match XXX-XXX-0000-0.0", value))
		}
	case types.IdentifierCourseCode:
		if !courseCode.MatchString(value) {
			fv = annotate(fv, types.StatusFail, types.ReasonInvalidIdentifier, fmt.Sprintf("course code %q is not a TGS/CRS reference", value))
		}
	}
	return fv
}

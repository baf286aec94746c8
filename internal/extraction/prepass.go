package extraction

import (
	"regexp"
	"strings"

	"github.com/jonathan/courseware-agent/internal/ingestion"
	"github.com/jonathan/courseware-agent/internal/types"
)

// identifierPatterns locate identifiers in free text.
var identifierPatterns = map[types.IdentifierKind]*regexp.Regexp{
	types.IdentifierUEN:        regexp.MustCompile(`\b(?:\d{8}|\d{9}|[TSR]\d{2}[A-Z]{2}\d{4})[A-Z]\b`),
	types.IdentifierNRIC:       regexp.MustCompile(`\b[STFGM](?:\d{7}|\*{4}\d{3})[A-Z]\b`),
	types.IdentifierTSCCode:    regexp.MustCompile(`\b[A-Z]{3}-[A-Z]{3}-\d{4}-\d\.\d\b`),
	types.IdentifierCourseCode: regexp.MustCompile(`\b(?:TGS|CRS)-[A-Z0-9]{8,12}\b`),
}

// labels returns the labels a field may appear under.
func labels(f types.FieldSpec) []string {
	return append([]string{f.Name}, f.Aliases...)
}

// searchPattern returns the field's pattern with anchors removed so it can find
// a value inside a longer label value.
func searchPattern(f types.FieldSpec) *regexp.Regexp {
	if f.Pattern == "" {
		return nil
	}
	p := strings.TrimSuffix(strings.TrimPrefix(f.Pattern, "^"), "$")
	re, err := regexp.Compile(p)
	if err != nil {
		return nil
	}
	return re
}

// deterministicValue matches a field without a model call. Labelled pairs are
// tried first; identifiers also accept a single distinct match anywhere in the text.
func deterministicValue(f types.FieldSpec, decoded *ingestion.Decoded) (types.FieldValue, bool) {
	if f.Type == types.FieldList {
		return types.FieldValue{}, false
	}

	idRe := identifierPatterns[f.Identifier]
	patRe := searchPattern(f)

	if pair, ok := decoded.Lookup(labels(f)...); ok {
		raw := pair.Value
		method := types.MethodStructured
		switch {
		case idRe != nil:
			raw = idRe.FindString(strings.ToUpper(raw))
			method = types.MethodRegex
		case patRe != nil:
			raw = patRe.FindString(raw)
			method = types.MethodRegex
		case !pair.Cell:
			// free-text label lines are left to the model
			raw = ""
		}
		if raw != "" {
			return types.NewFieldValue(f.Name, raw, Normalize(f, raw), 1, types.Provenance{
				DocumentID: decoded.DocumentID,
				Method:     method,
				Evidence:   pair.Location,
			}), true
		}
	}

	if idRe == nil {
		return types.FieldValue{}, false
	}
	matches := uniqueStrings(idRe.FindAllString(decoded.Text, -1))
	if len(matches) != 1 {
		return types.FieldValue{}, false
	}
	return types.NewFieldValue(f.Name, matches[0], Normalize(f, matches[0]), 1, types.Provenance{
		DocumentID: decoded.DocumentID,
		Method:     types.MethodRegex,
		Evidence:   matches[0],
	}), true
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// verbatim reports whether value appears in text ignoring case and spacing.
func verbatim(value, text string) bool {
	v := strings.ToLower(collapse(value))
	if v == "" {
		return false
	}
	return strings.Contains(strings.ToLower(collapse(text)), v)
}

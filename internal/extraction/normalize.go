package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/courseware-agent/internal/types"
)

var (
	nonAlnum      = regexp.MustCompile(`[^A-Z0-9*]+`)
	codeNoise     = regexp.MustCompile(`[^A-Z0-9.\-]+`)
	plainNRIC     = regexp.MustCompile(`^([STFGM])\d{4}(\d{3}[A-Z])$`)
	ordinalSuffix = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
	bulletPrefix  = regexp.MustCompile(`^(?:[-*•·]|\d+[.)]|[a-zA-Z][.)])\s+`)
	currencyNoise = regexp.MustCompile(`(?i)sgd|usd|s\$|us\$|\$|,|\s`)
)

// dateLayouts are tried in order; day-first layouts come before month-first.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"2006-01-02T15:04:05Z07:00",
}

// Normalize produces the canonical form of a raw value. Values that cannot be
// canonicalized are returned trimmed so verification can report them.
func Normalize(spec types.FieldSpec, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	switch spec.Type {
	case types.FieldIdentifier:
		return normalizeIdentifier(spec.Identifier, raw)
	case types.FieldCurrency:
		return normalizeCurrency(raw)
	case types.FieldDate:
		return normalizeDate(raw)
	case types.FieldEnum:
		return normalizeEnum(spec.Enum, raw)
	case types.FieldList:
		return strings.Join(SplitList(raw), "\n")
	default:
		return collapse(raw)
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func normalizeIdentifier(kind types.IdentifierKind, raw string) string {
	upper := strings.ToUpper(raw)
	switch kind {
	case types.IdentifierTSCCode, types.IdentifierCourseCode:
		return codeNoise.ReplaceAllString(upper, "")
	case types.IdentifierNRIC:
		return MaskNRIC(nonAlnum.ReplaceAllString(upper, ""))
	default:
		return nonAlnum.ReplaceAllString(strings.ReplaceAll(upper, "*", ""), "")
	}
}

// MaskNRIC hides the first four digits of a full NRIC/FIN. Already-masked or
// unrecognised values are returned unchanged.
func MaskNRIC(id string) string {
	m := plainNRIC.FindStringSubmatch(id)
	if m == nil {
		return id
	}
	return m[1] + "****" + m[2]
}

func normalizeCurrency(raw string) string {
	cleaned := currencyNoise.ReplaceAllString(raw, "")
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || amount < 0 {
		return collapse(raw)
	}
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func normalizeDate(raw string) string {
	cleaned := collapse(ordinalSuffix.ReplaceAllString(raw, "$1"))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return cleaned
}

func normalizeEnum(options []string, raw string) string {
	want := strings.ToLower(collapse(raw))
	for _, opt := range options {
		if strings.ToLower(opt) == want {
			return opt
		}
	}
	return collapse(raw)
}

// SplitList splits a list value into trimmed items without bullets. Newlines
// separate items; a single line is split on semicolons.
func SplitList(raw string) []string {
	parts := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	if len(parts) == 1 {
		parts = strings.Split(raw, ";")
	}
	var items []string
	for _, p := range parts {
		p = collapse(bulletPrefix.ReplaceAllString(strings.TrimSpace(p), ""))
		if p != "" {
			items = append(items, p)
		}
	}
	return items
}

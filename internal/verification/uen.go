package verification

import (
	"fmt"
	"regexp"
)

// UENKind is the registration scheme a UEN belongs to
type UENKind string

// UENKind constants
const (
	UENUnknown      UENKind = ""
	UENBusiness     UENKind = "business"
	UENLocalCompany UENKind = "local_company"
	UENOther        UENKind = "other"
)

var (
	businessUEN = regexp.MustCompile(`^(\d{8})([A-Z])$`)
	localUEN    = regexp.MustCompile(`^((?:19|20)\d{7})([A-Z])$`)
	otherUEN    = regexp.MustCompile(`^([TSR])(\d{2})([A-Z]{2})(\d{4})([A-Z])$`)

	businessWeights = []int{10, 4, 9, 3, 8, 2, 7, 1}
	localWeights    = []int{10, 8, 6, 4, 9, 7, 5, 3, 1}
)

const (
	businessCheckLetters = "XMKECAWLJDB"
	localCheckLetters    = "ZKCMDNERGWH"
)

// entityTypeCodes are the two-letter codes used by T/S/R-prefixed UENs.
var entityTypeCodes = map[string]bool{
	"LP": true, "LL": true, "FC": true, "PF": true, "RF": true, "MQ": true,
	"MM": true, "NB": true, "CC": true, "CS": true, "MB": true, "FM": true,
	"GS": true, "GA": true, "GB": true, "DP": true, "CP": true, "NR": true,
	"CM": true, "CD": true, "MD": true, "HS": true, "VH": true, "CH": true,
	"MH": true, "CL": true, "XL": true, "CX": true, "RP": true, "TU": true,
	"TC": true, "FB": true, "FN": true, "PA": true, "PB": true, "SS": true,
	"MC": true, "SM": true,
}

// UENResult is the outcome of a UEN format and checksum check.
type UENResult struct {
	Kind  UENKind
	Valid bool
	// ChecksumKnown is false for schemes without a published check letter.
	ChecksumKnown bool
	Problem       string
	// Suggested carries the value with the computed check letter when only
	// the check letter is wrong.
	Suggested string
}

// ValidateUEN checks a normalized (upper-case, no separators) UEN.
func ValidateUEN(uen string) UENResult {
	if m := localUEN.FindStringSubmatch(uen); m != nil {
		return checkLetter(UENLocalCompany, m[1], m[2], localWeights, localCheckLetters)
	}
	if m := businessUEN.FindStringSubmatch(uen); m != nil {
		return checkLetter(UENBusiness, m[1], m[2], businessWeights, businessCheckLetters)
	}
	if m := otherUEN.FindStringSubmatch(uen); m != nil {
		if !entityTypeCodes[m[3]] {
			return UENResult{Kind: UENOther, Problem: fmt.Sprintf("unknown entity type code %s", m[3])}
		}
		return UENResult{Kind: UENOther, Valid: true}
	}
	return UENResult{Problem: "does not match any UEN format"}
}

func checkLetter(kind UENKind, digits, letter string, weights []int, letters string) UENResult {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	want := string(letters[sum%11])
	if want != letter {
		return UENResult{
			Kind:          kind,
			ChecksumKnown: true,
			Problem:       fmt.Sprintf("check letter %s does not match expected %s", letter, want),
			Suggested:     digits + want,
		}
	}
	return UENResult{Kind: kind, Valid: true, ChecksumKnown: true}
}

package verification

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jonathan/courseware-agent/internal/ingestion"
	"github.com/jonathan/courseware-agent/internal/types"
)

// DefaultRecordMatchThreshold is the combined similarity a training record
// needs to count as a match.
const DefaultRecordMatchThreshold = 0.8

// DefaultPersonNameFields hold the trainee's name.
var DefaultPersonNameFields = []string{"person_name", "trainee_name"}

// ErrNoRecordColumns is returned when a table has no trainee name or UEN column.
var ErrNoRecordColumns = errors.New("training records have no trainee name or UEN column")

// TrainingRecord is one trainee row from the training records table.
type TrainingRecord struct {
	Row         int    `json:"row"`
	TraineeName string `json:"trainee_name"`
	Company     string `json:"company,omitempty"`
	UEN         string `json:"uen,omitempty"`
}

// RecordsSource loads the training records that extracted entities are
// checked against.
type RecordsSource interface {
	Records(ctx context.Context) ([]TrainingRecord, error)
}

// RecordsFunc adapts a function to the RecordsSource interface.
type RecordsFunc func(ctx context.Context) ([]TrainingRecord, error)

// Records calls f.
func (f RecordsFunc) Records(ctx context.Context) ([]TrainingRecord, error) {
	return f(ctx)
}

// RecordsError is returned when training records cannot be loaded.
type RecordsError struct {
	Source  string
	Message string
	Cause   error
}

func (e *RecordsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("training records %s: %s: %v", e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("training records %s: %s", e.Source, e.Message)
}

func (e *RecordsError) Unwrap() error {
	return e.Cause
}

// recordColumns match header cells after ingestion.NormalizeLabel. The first
// header containing one of the phrases wins.
var recordColumns = struct {
	name, company, uen []string
}{
	name:    []string{"trainee name", "participant name", "learner name", "name"},
	company: []string{"employer name", "company name", "organisation name", "organization name", "employer", "company"},
	uen:     []string{"employer uen", "company uen", "uen"},
}

// RecordsFromRows reads training records from a table whose first non-empty
// row is the header. Rows are numbered as in the source, header included.
func RecordsFromRows(rows [][]string) ([]TrainingRecord, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = ingestion.NormalizeLabel(h)
	}
	nameCol := findColumn(header, recordColumns.name, -1)
	uenCol := findColumn(header, recordColumns.uen, -1)
	companyCol := findColumn(header, recordColumns.company, uenCol)
	if nameCol < 0 && uenCol < 0 {
		return nil, ErrNoRecordColumns
	}
	if nameCol == companyCol {
		nameCol = -1
	}

	var out []TrainingRecord
	for i, row := range rows[1:] {
		rec := TrainingRecord{
			Row:         i + 2,
			TraineeName: cell(row, nameCol),
			Company:     cell(row, companyCol),
			UEN:         normalizeUEN(cell(row, uenCol)),
		}
		if rec.TraineeName == "" && rec.UEN == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func findColumn(header, phrases []string, skip int) int {
	for _, p := range phrases {
		for i, h := range header {
			if i == skip {
				continue
			}
			if h == p || strings.HasPrefix(h, p+" ") {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func normalizeUEN(s string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '.' {
			return -1
		}
		return r
	}, s))
}

// FileRecords reads training records from a CSV or XLSX file on every call,
// so edits to the file apply to the next run.
type FileRecords struct {
	Path string
}

// Records implements RecordsSource.
func (f FileRecords) Records(_ context.Context) ([]TrainingRecord, error) {
	doc, err := ingestion.LoadFile(f.Path)
	if err != nil {
		return nil, &RecordsError{Source: f.Path, Message: "failed to load", Cause: err}
	}
	rows, err := ingestion.ReadTable(doc)
	if err != nil {
		return nil, &RecordsError{Source: f.Path, Message: "failed to read", Cause: err}
	}
	recs, err := RecordsFromRows(rows)
	if err != nil {
		return nil, &RecordsError{Source: f.Path, Message: "unrecognised layout", Cause: err}
	}
	return recs, nil
}

// extractedEntity is what a run found about the trainee.
type extractedEntity struct {
	name, company, uen string
}

func (e extractedEntity) empty() bool {
	return e.name == "" && e.company == "" && e.uen == ""
}

// RecordMatch is the best-scoring training record for an extracted entity.
type RecordMatch struct {
	Record TrainingRecord
	// Score is the mean of the compared parts, in [0,1].
	Score float64
	// Parts holds the per-part similarity of the compared parts.
	Parts map[string]float64
}

// bestRecord scores every record against the entity and returns the highest
// scoring one that keep accepts. Names and company names use NameSimilarity;
// UENs match exactly or not at all. Parts missing on either side are not
// compared. Earlier rows win ties.
func bestRecord(e extractedEntity, records []TrainingRecord, keep func(RecordMatch) bool) (RecordMatch, bool) {
	var (
		best  RecordMatch
		found bool
	)
	for _, rec := range records {
		parts := make(map[string]float64, 3)
		if e.name != "" && rec.TraineeName != "" {
			parts["name"] = NameSimilarity(e.name, rec.TraineeName)
		}
		if e.company != "" && rec.Company != "" {
			parts["company"] = NameSimilarity(e.company, rec.Company)
		}
		if e.uen != "" && rec.UEN != "" {
			parts["uen"] = 0
			if normalizeUEN(e.uen) == rec.UEN {
				parts["uen"] = 1
			}
		}
		if len(parts) == 0 {
			continue
		}
		var sum float64
		for _, s := range parts {
			sum += s
		}
		m := RecordMatch{Record: rec, Score: sum / float64(len(parts)), Parts: parts}
		if keep != nil && !keep(m) {
			continue
		}
		if !found || m.Score > best.Score+scoreEpsilon {
			best, found = m, true
		}
	}
	return best, found
}

const scoreEpsilon = 1e-9

// describeParts renders part scores in a fixed order.
func describeParts(parts map[string]float64) string {
	var out []string
	for _, k := range []string{"name", "company", "uen"} {
		if s, ok := parts[k]; ok {
			out = append(out, fmt.Sprintf("%s %.0f%%", k, s*100))
		}
	}
	return strings.Join(out, ", ")
}

// checkRecords compares the extracted trainee, company and UEN with the
// training records and annotates the trainee name field, or the UEN field
// when no name was extracted. A record scoring at least the threshold is a
// match. Otherwise the closest record is reported as a mismatch when one of
// its parts alone reaches the threshold, and the entity as not found when
// none does.
func (a *Agent) checkRecords(ctx context.Context, specs []types.FieldSpec, values map[string]types.FieldValue, verdicts []types.FieldVerdict, observe Observer) error {
	if a.records == nil {
		return nil
	}
	entity, target := a.entity(specs, values, verdicts)
	if target < 0 || entity.empty() {
		return nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	records, err := a.records.Records(loadCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("verification cancelled: %w", ctx.Err())
		}
		verdicts[target] = annotate(verdicts[target], types.StatusWarn, types.ReasonRecordsUnavailable, err.Error())
		fv := verdicts[target]
		observe(Event{Kind: EventRecords, Field: fv.Field, Message: describe(fv), Result: &fv})
		return nil
	}

	threshold := a.cfg.RecordMatchThreshold
	if match, ok := bestRecord(entity, records, nil); ok && match.Score >= threshold-scoreEpsilon {
		observe(Event{Kind: EventRecords, Field: verdicts[target].Field, Message: fmt.Sprintf(
			"matched training record row %d (%s) at %.0f%% of %d record(s)", match.Record.Row, match.Record.TraineeName, match.Score*100, len(records))})
		return nil
	}

	match, ok := bestRecord(entity, records, func(m RecordMatch) bool { return anyPartReaches(m.Parts, threshold) })
	switch {
	case ok:
		verdicts[target] = annotate(verdicts[target], types.StatusWarn, types.ReasonTrainingRecordMismatch, fmt.Sprintf(
			"closest training record row %d (%s, %s, %s) matches %.0f%%: %s",
			match.Record.Row, match.Record.TraineeName, match.Record.Company, match.Record.UEN, match.Score*100, describeParts(match.Parts)))
	default:
		verdicts[target] = annotate(verdicts[target], types.StatusWarn, types.ReasonTrainingRecordNotFound,
			fmt.Sprintf("no training record matches among %d record(s)", len(records)))
	}
	fv := verdicts[target]
	observe(Event{Kind: EventRecords, Field: fv.Field, Message: describe(fv), Result: &fv})
	return nil
}

func anyPartReaches(parts map[string]float64, threshold float64) bool {
	for _, s := range parts {
		if s >= threshold-scoreEpsilon {
			return true
		}
	}
	return false
}

// entity collects the present, passing trainee name, company and UEN values
// and picks the verdict the records check annotates.
func (a *Agent) entity(specs []types.FieldSpec, values map[string]types.FieldValue, verdicts []types.FieldVerdict) (extractedEntity, int) {
	var e extractedEntity
	nameIdx, uenIdx := -1, -1
	usable := func(i int) (types.FieldValue, bool) {
		v, ok := values[specs[i].Name]
		return v, ok && v.Present() && verdicts[i].Status != types.StatusFail
	}
	for i, spec := range specs {
		v, ok := usable(i)
		if !ok {
			continue
		}
		switch {
		case spec.Identifier == types.IdentifierUEN && e.uen == "":
			e.uen, uenIdx = v.Normalized, i
		case slices.Contains(a.cfg.PersonNameFields, spec.Name) && e.name == "":
			e.name, nameIdx = v.Normalized, i
		case slices.Contains(a.cfg.CompanyNameFields, spec.Name) && e.company == "":
			e.company = v.Normalized
		}
	}
	target := nameIdx
	if target < 0 {
		target = uenIdx
	}
	if target >= 0 && verdicts[target].Status != types.StatusPass {
		return e, -1
	}
	return e, target
}

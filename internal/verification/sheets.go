package verification

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// DefaultRecordsRange is read when SheetOptions.Range is empty.
const DefaultRecordsRange = "A:Z"

// SheetOptions configures a SheetRecords source.
type SheetOptions struct {
	SpreadsheetID string
	// Range is an A1 range such as "Trainees!A:H".
	Range string
	// ClientOptions carry credentials or an endpoint override.
	ClientOptions []option.ClientOption
}

// SheetRecords reads training records from a Google Sheets range whose first
// row is the header.
type SheetRecords struct {
	svc           *sheets.Service
	spreadsheetID string
	rng           string
}

// NewSheetRecords creates a read-only Sheets client.
func NewSheetRecords(ctx context.Context, opts SheetOptions) (*SheetRecords, error) {
	if opts.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if opts.Range == "" {
		opts.Range = DefaultRecordsRange
	}
	clientOpts := append([]option.ClientOption{option.WithScopes(sheets.SpreadsheetsReadonlyScope)}, opts.ClientOptions...)
	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return &SheetRecords{svc: svc, spreadsheetID: opts.SpreadsheetID, rng: opts.Range}, nil
}

// Records implements RecordsSource.
func (s *SheetRecords) Records(ctx context.Context) ([]TrainingRecord, error) {
	source := s.spreadsheetID + "/" + s.rng
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.rng).
		MajorDimension("ROWS").
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, &RecordsError{Source: source, Message: "request failed", Cause: err}
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, r := range resp.Values {
		row := make([]string, len(r))
		for i, v := range r {
			if v != nil {
				row[i] = fmt.Sprint(v)
			}
		}
		rows = append(rows, row)
	}
	recs, err := RecordsFromRows(rows)
	if err != nil {
		return nil, &RecordsError{Source: source, Message: "unrecognised layout", Cause: err}
	}
	return recs, nil
}

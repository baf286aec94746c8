package verification

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/jonathan/courseware-agent/internal/types"
)

var (
	personSpec  = types.FieldSpec{Name: "person_name", Type: types.FieldString}
	companySpec = types.FieldSpec{Name: "company_name", Type: types.FieldString}
)

var trainingRecords = []TrainingRecord{
	{Row: 2, TraineeName: "Tan Ah Kow", Company: "Acme Training Pte Ltd", UEN: "196800306E"},
	{Row: 3, TraineeName: "Siti Nurhaliza", Company: "Globex Learning Pte Ltd", UEN: "199201624D"},
}

func TestRecordsFromRows(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]string
		want    []TrainingRecord
		wantErr error
	}{
		{
			name: "registration sheet headers",
			rows: [][]string{
				{"Timestamp", "Trainee Name (as on government ID)", "Employer Name", "Employer UEN (mandatory if sponsorship type = employer)"},
				{"1/2/2026", "Tan Ah Kow", "Acme Training Pte Ltd", "1968-00306e"},
				{"", "", "", ""},
				{"1/3/2026", "Siti Nurhaliza", "Globex Learning"},
			},
			want: []TrainingRecord{
				{Row: 2, TraineeName: "Tan Ah Kow", Company: "Acme Training Pte Ltd", UEN: "196800306E"},
				{Row: 4, TraineeName: "Siti Nurhaliza", Company: "Globex Learning"},
			},
		},
		{
			name: "employer column is not the uen column",
			rows: [][]string{
				{"Employer UEN", "Name", "Employer"},
				{"199201624D", "Lim Bee Hoon", "Initech Academy"},
			},
			want: []TrainingRecord{{Row: 2, TraineeName: "Lim Bee Hoon", Company: "Initech Academy", UEN: "199201624D"}},
		},
		{
			name:    "no usable columns",
			rows:    [][]string{{"Course", "Date"}, {"Data Analytics", "2026-01-02"}},
			wantErr: ErrNoRecordColumns,
		},
		{
			name: "empty table",
			rows: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RecordsFromRows(tt.rows)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBestRecord(t *testing.T) {
	m, ok := bestRecord(extractedEntity{name: "Tan Ah Kaw", company: "Acme Training", uen: "196800306E"}, trainingRecords, nil)
	require.True(t, ok)
	assert.Equal(t, 2, m.Record.Row)
	assert.InDelta(t, 0.9, m.Parts["name"], 1e-9)
	assert.Equal(t, 1.0, m.Parts["uen"])
	assert.Greater(t, m.Score, 0.9)

	// Only the UEN is compared when the record has nothing else.
	m, ok = bestRecord(extractedEntity{name: "Tan Ah Kow", uen: "199201624D"}, []TrainingRecord{{Row: 9, UEN: "199201624D"}}, nil)
	require.True(t, ok)
	assert.Equal(t, map[string]float64{"uen": 1}, m.Parts)

	_, ok = bestRecord(extractedEntity{company: "Acme"}, []TrainingRecord{{Row: 2, TraineeName: "Tan Ah Kow"}}, nil)
	assert.False(t, ok)

	// keep narrows the candidates.
	m, ok = bestRecord(extractedEntity{name: "Siti Nurhaliza", uen: "196800306E"}, trainingRecords,
		func(m RecordMatch) bool { return m.Parts["name"] == 1 })
	require.True(t, ok)
	assert.Equal(t, 3, m.Record.Row)
}

func TestVerify_TrainingRecords(t *testing.T) {
	tests := []struct {
		name       string
		records    RecordsFunc
		values     []types.FieldValue
		field      string
		wantStatus types.FieldStatus
		wantReason types.ReasonCode
		wantDetail string
	}{
		{
			name: "exact match",
			values: []types.FieldValue{
				value("person_name", "Tan Ah Kow", 0.9),
				value("company_name", "Acme Training Pte Ltd", 0.9),
				value("uen", "196800306E", 1),
			},
			field: "person_name", wantStatus: types.StatusPass, wantReason: types.ReasonOK,
		},
		{
			name: "misspelled name still matches",
			values: []types.FieldValue{
				value("person_name", "Tan Ah Kaw", 0.9),
				value("company_name", "ACME TRAINING PTE. LTD.", 0.9),
				value("uen", "196800306E", 1),
			},
			field: "person_name", wantStatus: types.StatusPass, wantReason: types.ReasonOK,
		},
		{
			name: "employer matches but trainee differs",
			values: []types.FieldValue{
				value("person_name", "Lim Bee Hoon", 0.9),
				value("company_name", "Acme Training Pte Ltd", 0.9),
				value("uen", "196800306E", 1),
			},
			field: "person_name", wantStatus: types.StatusWarn, wantReason: types.ReasonTrainingRecordMismatch,
			wantDetail: "row 2 (Tan Ah Kow",
		},
		{
			name: "nobody like this on record",
			values: []types.FieldValue{
				value("person_name", "Lim Bee Hoon", 0.9),
				value("company_name", "Initech Academy", 0.9),
			},
			field: "person_name", wantStatus: types.StatusWarn, wantReason: types.ReasonTrainingRecordNotFound,
			wantDetail: "among 2 record(s)",
		},
		{
			name: "uen field is annotated without a trainee name",
			values: []types.FieldValue{
				value("company_name", "Globex Learning", 0.9),
				value("uen", "199201624D", 1),
			},
			field: "uen", wantStatus: types.StatusPass, wantReason: types.ReasonOK,
		},
		{
			name:    "records unavailable",
			records: func(context.Context) ([]TrainingRecord, error) { return nil, &RecordsError{Source: "sheet", Message: "HTTP 403"} },
			values: []types.FieldValue{
				value("person_name", "Tan Ah Kow", 0.9),
			},
			field: "person_name", wantStatus: types.StatusWarn, wantReason: types.ReasonRecordsUnavailable,
			wantDetail: "HTTP 403",
		},
		{
			name:    "empty records",
			records: func(context.Context) ([]TrainingRecord, error) { return nil, nil },
			values: []types.FieldValue{
				value("person_name", "Tan Ah Kow", 0.9),
			},
			field: "person_name", wantStatus: types.StatusWarn, wantReason: types.ReasonTrainingRecordNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := tt.records
			if records == nil {
				records = func(context.Context) ([]TrainingRecord, error) { return trainingRecords, nil }
			}
			var events []Event
			agent := NewAgent(noCalls(t), nil, DefaultConfig()).WithRecords(records)
			result := resultOf([]types.FieldSpec{personSpec, companySpec, uenSpec}, tt.values...)

			verdict, err := agent.Verify(context.Background(), Input{Result: result}, func(e Event) { events = append(events, e) })
			require.NoError(t, err)

			fv, ok := verdict.Field(tt.field)
			require.True(t, ok)
			assert.Equal(t, tt.wantStatus, fv.Status)
			assert.Equal(t, tt.wantReason, fv.Reason)
			assert.Contains(t, fv.Detail, tt.wantDetail)

			var recordEvents int
			for _, e := range events {
				if e.Kind == EventRecords {
					recordEvents++
				}
			}
			assert.Equal(t, 1, recordEvents)
		})
	}
}

func TestVerify_TrainingRecordsSkipped(t *testing.T) {
	called := false
	records := RecordsFunc(func(context.Context) ([]TrainingRecord, error) {
		called = true
		return trainingRecords, nil
	})

	// No trainee name or UEN field in the result.
	agent := NewAgent(noCalls(t), nil, DefaultConfig()).WithRecords(records)
	_, err := agent.Verify(context.Background(), Input{Result: resultOf([]types.FieldSpec{orgSpec}, value("organisation_name", "Acme", 0.9))}, nil)
	require.NoError(t, err)
	assert.False(t, called)

	// A nil source disables the check.
	agent = NewAgent(noCalls(t), nil, DefaultConfig()).WithRecords(nil)
	verdict, err := agent.Verify(context.Background(), Input{Result: resultOf([]types.FieldSpec{personSpec}, value("person_name", "Nobody", 0.9))}, nil)
	require.NoError(t, err)
	fv, _ := verdict.Field("person_name")
	assert.Equal(t, types.ReasonOK, fv.Reason)
}

func TestVerify_TrainingRecordsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	records := RecordsFunc(func(ctx context.Context) ([]TrainingRecord, error) {
		cancel()
		return nil, ctx.Err()
	})
	agent := NewAgent(noCalls(t), nil, DefaultConfig()).WithRecords(records)

	_, err := agent.Verify(ctx, Input{Result: resultOf([]types.FieldSpec{personSpec}, value("person_name", "Tan Ah Kow", 0.9))}, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFileRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "training_records.csv")
	csv := "Trainee Name,Employer Name,Employer UEN\nTan Ah Kow,Acme Training Pte Ltd,196800306E\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o600))

	recs, err := FileRecords{Path: path}.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []TrainingRecord{{Row: 2, TraineeName: "Tan Ah Kow", Company: "Acme Training Pte Ltd", UEN: "196800306E"}}, recs)

	_, err = FileRecords{Path: filepath.Join(dir, "missing.csv")}.Records(context.Background())
	var re *RecordsError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "failed to load", re.Message)

	bad := filepath.Join(dir, "courses.csv")
	require.NoError(t, os.WriteFile(bad, []byte("Course,Date\nData,2026-01-02\n"), 0o600))
	_, err = FileRecords{Path: bad}.Records(context.Background())
	assert.ErrorIs(t, err, ErrNoRecordColumns)
}

func TestSheetRecords(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		if strings.Contains(r.URL.Path, "forbidden") {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "The caller does not have permission"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"range": "Trainees!A1:C3",
			"majorDimension": "ROWS",
			"values": [
				["Trainee Name (as on government ID)", "Employer Name", "Employer UEN (mandatory if sponsorship type = employer)"],
				["Tan Ah Kow", "Acme Training Pte Ltd", "196800306E"],
				["Siti Nurhaliza", "Globex Learning Pte Ltd"]
			]
		}`))
	}))
	defer srv.Close()

	clientOpts := []option.ClientOption{option.WithEndpoint(srv.URL + "/"), option.WithHTTPClient(srv.Client())}

	src, err := NewSheetRecords(context.Background(), SheetOptions{SpreadsheetID: "sheet-1", Range: "Trainees!A:C", ClientOptions: clientOpts})
	require.NoError(t, err)
	recs, err := src.Records(context.Background())
	require.NoError(t, err)

	assert.Contains(t, gotPath, "/v4/spreadsheets/sheet-1/values/")
	assert.Contains(t, gotQuery, "majorDimension=ROWS")
	assert.Equal(t, []TrainingRecord{
		{Row: 2, TraineeName: "Tan Ah Kow", Company: "Acme Training Pte Ltd", UEN: "196800306E"},
		{Row: 3, TraineeName: "Siti Nurhaliza", Company: "Globex Learning Pte Ltd"},
	}, recs)

	denied, err := NewSheetRecords(context.Background(), SheetOptions{SpreadsheetID: "forbidden", ClientOptions: clientOpts})
	require.NoError(t, err)
	_, err = denied.Records(context.Background())
	var re *RecordsError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "forbidden/"+DefaultRecordsRange, re.Source)

	_, err = NewSheetRecords(context.Background(), SheetOptions{})
	assert.Error(t, err)
}

package verification

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/courseware-agent/internal/gateway"
	"github.com/jonathan/courseware-agent/internal/types"
)

// MockInvoker is a mock implementation of gateway.Invoker for testing.
type MockInvoker struct {
	InvokeFunc func(ctx context.Context, req gateway.Request) (*gateway.Response, error)

	mu       sync.Mutex
	requests []gateway.Request
}

func (m *MockInvoker) Invoke(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.InvokeFunc(ctx, req)
}

func (m *MockInvoker) Requests() []gateway.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]gateway.Request(nil), m.requests...)
}

func replyWith(raw string) *MockInvoker {
	return &MockInvoker{InvokeFunc: func(context.Context, gateway.Request) (*gateway.Response, error) {
		return &gateway.Response{Raw: raw, Backend: "gemini"}, nil
	}}
}

func noCalls(t *testing.T) *MockInvoker {
	return &MockInvoker{InvokeFunc: func(context.Context, gateway.Request) (*gateway.Response, error) {
		t.Error("gateway must not be called")
		return nil, errors.New("unexpected call")
	}}
}

func exhausted() *MockInvoker {
	return &MockInvoker{InvokeFunc: func(context.Context, gateway.Request) (*gateway.Response, error) {
		return nil, &gateway.AllBackendsExhaustedError{Failures: []gateway.BackendFailure{{Backend: "gemini", Attempts: 3, LastErr: errors.New("503")}}}
	}}
}

// MockRegistry is a mock implementation of Registry for testing.
type MockRegistry struct {
	LookupFunc func(ctx context.Context, uen string) (*RegistryEntry, error)
}

func (m *MockRegistry) Lookup(ctx context.Context, uen string) (*RegistryEntry, error) {
	return m.LookupFunc(ctx, uen)
}

// resultOf builds a frozen extraction result with one task.
func resultOf(specs []types.FieldSpec, values ...types.FieldValue) *types.ExtractionResult {
	merged := make(map[string]types.FieldValue, len(specs))
	for _, s := range specs {
		merged[s.Name] = types.MissingValue(s.Name, "d1")
	}
	for _, v := range values {
		merged[v.Name] = v
	}
	r := types.NewExtractionResult()
	r.Put(&types.TaskResult{
		Task:   types.ExtractionTask{Name: "organisation", Fields: specs, Documents: []string{"d1"}, PrimaryDocument: "d1"},
		Merged: merged,
		Status: types.TaskOK,
	})
	r.Freeze()
	return r
}

var sourceDoc = types.SourceDocument{
	ID:      "d1",
	Name:    "proposal.txt",
	Kind:    types.MediaPlainText,
	Origin:  types.OriginUpload,
	Content: []byte("Organisation: Acme Training Pte Ltd\nUEN: 196800306E\nCourse Title: Data Analytics Essentials\n"),
}

func TestVerify_AllValid(t *testing.T) {
	agent := NewAgent(noCalls(t), nil, DefaultConfig())
	result := resultOf([]types.FieldSpec{uenSpec, orgSpec, industrySpec},
		value("uen", "196800306E", 1),
		value("organisation_name", "Acme Training Pte Ltd", 0.9))

	verdict, err := agent.Verify(context.Background(), Input{Result: result, Documents: []types.SourceDocument{sourceDoc}}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictVerified, verdict.Status)
	assert.Empty(t, verdict.Remediation)
	assert.NoError(t, Rejected(verdict))

	industry, ok := verdict.Field("industry")
	require.True(t, ok)
	assert.Equal(t, types.ReasonMissingOptional, industry.Reason)
}

func TestVerify_InvalidUENRejects(t *testing.T) {
	agent := NewAgent(noCalls(t), nil, DefaultConfig())
	result := resultOf([]types.FieldSpec{uenSpec, orgSpec},
		value("uen", "196800306A", 1),
		value("organisation_name", "Acme Training Pte Ltd", 0.9))

	verdict, err := agent.Verify(context.Background(), Input{Result: result}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictRejected, verdict.Status)

	uen, _ := verdict.Field("uen")
	assert.Equal(t, types.StatusFail, uen.Status)
	assert.Equal(t, types.ReasonInvalidIdentifier, uen.Reason)
	assert.Contains(t, uen.Detail, "196800306A")

	var rejected *RejectedError
	require.ErrorAs(t, Rejected(verdict), &rejected)
	assert.Contains(t, rejected.Error(), "uen (invalid_identifier)")
}

func TestVerify_DoesNotModifyValues(t *testing.T) {
	agent := NewAgent(noCalls(t), nil, DefaultConfig())
	result := resultOf([]types.FieldSpec{uenSpec}, value("uen", "196800306A", 1))
	before := result.Fields()

	_, err := agent.Verify(context.Background(), Input{Result: result}, nil)
	require.NoError(t, err)
	assert.Equal(t, before, result.Fields())
}

func TestVerify_SemanticChecks(t *testing.T) {
	tests := []struct {
		name           string
		reply          string
		wantStatus     types.FieldStatus
		wantReason     types.ReasonCode
		wantCorrection string
	}{
		{name: "yes passes", reply: `{"answer":"yes","reason":"matches heading"}`, wantStatus: types.StatusPass, wantReason: types.ReasonOK},
		{name: "no warns with suggestion", reply: `{"answer":"no","reason":"title differs","suggestion":"Data Analytics Essentials"}`, wantStatus: types.StatusWarn, wantReason: types.ReasonAIDisagrees, wantCorrection: "Data Analytics Essentials"},
		{name: "uncertain warns", reply: `{"answer":"uncertain","reason":"not stated"}`, wantStatus: types.StatusWarn, wantReason: types.ReasonAIUncertain},
		{name: "malformed warns", reply: `the title looks right`, wantStatus: types.StatusWarn, wantReason: types.ReasonAIUncertain},
		{name: "unknown answer warns", reply: `{"answer":"maybe"}`, wantStatus: types.StatusWarn, wantReason: types.ReasonAIUncertain},
		{name: "fenced yes passes", reply: "```json\n{\"answer\": \"yes\"}\n```", wantStatus: types.StatusPass, wantReason: types.ReasonOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := replyWith(tt.reply)
			agent := NewAgent(gw, nil, DefaultConfig())
			result := resultOf([]types.FieldSpec{titleSpec}, value("course_title", "Data Analytics", 0.8))

			verdict, err := agent.Verify(context.Background(), Input{
				Result:      result,
				Documents:   []types.SourceDocument{sourceDoc},
				Preferences: []string{"gemini"},
			}, nil)
			require.NoError(t, err)

			fv, _ := verdict.Field("course_title")
			assert.Equal(t, tt.wantStatus, fv.Status)
			assert.Equal(t, tt.wantReason, fv.Reason)
			if tt.wantCorrection != "" {
				require.NotNil(t, fv.Correction)
				assert.Equal(t, tt.wantCorrection, *fv.Correction)
			} else {
				assert.Nil(t, fv.Correction)
			}

			reqs := gw.Requests()
			require.Len(t, reqs, 1)
			assert.Contains(t, reqs[0].Prompt, "Is this the course title?")
			assert.Contains(t, reqs[0].Prompt, "Course Title: Data Analytics Essentials")
			assert.Equal(t, []string{"gemini"}, reqs[0].Preferences)
		})
	}
}

func TestVerify_SemanticCheckSkippedAfterDeterministicWarn(t *testing.T) {
	agent := NewAgent(noCalls(t), nil, DefaultConfig())
	result := resultOf([]types.FieldSpec{titleSpec}, value("course_title", "Data Analytics", 0.2))

	verdict, err := agent.Verify(context.Background(), Input{Result: result}, nil)
	require.NoError(t, err)
	fv, _ := verdict.Field("course_title")
	assert.Equal(t, types.ReasonLowConfidence, fv.Reason)
}

func TestVerify_GatewayExhaustion(t *testing.T) {
	t.Run("required field is an infrastructure failure", func(t *testing.T) {
		agent := NewAgent(exhausted(), nil, DefaultConfig())
		result := resultOf([]types.FieldSpec{titleSpec}, value("course_title", "Data Analytics", 0.8))

		_, err := agent.Verify(context.Background(), Input{Result: result}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrVerificationInfrastructure)
		assert.ErrorIs(t, err, gateway.ErrAllBackendsExhausted)
	})

	t.Run("optional field warns", func(t *testing.T) {
		optional := titleSpec
		optional.Required = false
		agent := NewAgent(exhausted(), nil, DefaultConfig())
		result := resultOf([]types.FieldSpec{optional}, value("course_title", "Data Analytics", 0.8))

		verdict, err := agent.Verify(context.Background(), Input{Result: result}, nil)
		require.NoError(t, err)
		fv, _ := verdict.Field("course_title")
		assert.Equal(t, types.StatusWarn, fv.Status)
		assert.Equal(t, types.ReasonAIUnavailable, fv.Reason)
		assert.Equal(t, types.VerdictNeedsReview, verdict.Status)
	})
}

func TestVerify_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := &MockInvoker{InvokeFunc: func(ctx context.Context, _ gateway.Request) (*gateway.Response, error) {
		cancel()
		return nil, fmt.Errorf("gateway invocation cancelled: %w", ctx.Err())
	}}
	agent := NewAgent(gw, nil, DefaultConfig())
	result := resultOf([]types.FieldSpec{titleSpec}, value("course_title", "Data Analytics", 0.8))

	_, err := agent.Verify(ctx, Input{Result: result}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrVerificationInfrastructure)
}

func TestVerify_NoResult(t *testing.T) {
	agent := NewAgent(noCalls(t), nil, DefaultConfig())
	_, err := agent.Verify(context.Background(), Input{}, nil)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestVerify_Registry(t *testing.T) {
	tests := []struct {
		name       string
		lookup     func(ctx context.Context, uen string) (*RegistryEntry, error)
		field      string
		wantStatus types.FieldStatus
		wantReason types.ReasonCode
		wantFix    string
	}{
		{
			name: "registered with matching name",
			lookup: func(_ context.Context, uen string) (*RegistryEntry, error) {
				return &RegistryEntry{UEN: uen, Name: "ACME TRAINING PTE. LTD."}, nil
			},
			field: "organisation_name", wantStatus: types.StatusPass, wantReason: types.ReasonOK,
		},
		{
			name:   "not registered",
			lookup: func(context.Context, string) (*RegistryEntry, error) { return nil, nil },
			field:  "uen", wantStatus: types.StatusWarn, wantReason: types.ReasonRegistryNotFound,
		},
		{
			name: "registry down",
			lookup: func(_ context.Context, uen string) (*RegistryEntry, error) {
				return nil, &RegistryError{UEN: uen, Message: "HTTP status 503"}
			},
			field: "uen", wantStatus: types.StatusWarn, wantReason: types.ReasonRegistryUnavailable,
		},
		{
			name: "registered to someone else",
			lookup: func(_ context.Context, uen string) (*RegistryEntry, error) {
				return &RegistryEntry{UEN: uen, Name: "ZENITH LEARNING HUB PTE. LTD."}, nil
			},
			field: "organisation_name", wantStatus: types.StatusWarn, wantReason: types.ReasonRegistryNameMismatch,
			wantFix: "ZENITH LEARNING HUB PTE. LTD.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var looked []string
			registry := &MockRegistry{LookupFunc: func(ctx context.Context, uen string) (*RegistryEntry, error) {
				looked = append(looked, uen)
				return tt.lookup(ctx, uen)
			}}
			agent := NewAgent(noCalls(t), registry, DefaultConfig())
			result := resultOf([]types.FieldSpec{uenSpec, orgSpec},
				value("uen", "196800306E", 1),
				value("organisation_name", "Acme Training Pte Ltd", 0.9))

			verdict, err := agent.Verify(context.Background(), Input{Result: result}, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"196800306E"}, looked)

			fv, _ := verdict.Field(tt.field)
			assert.Equal(t, tt.wantStatus, fv.Status)
			assert.Equal(t, tt.wantReason, fv.Reason)
			if tt.wantFix != "" {
				require.NotNil(t, fv.Correction)
				assert.Equal(t, tt.wantFix, *fv.Correction)
			}
		})
	}
}

func TestVerify_RegistrySkipsInvalidUEN(t *testing.T) {
	registry := &MockRegistry{LookupFunc: func(context.Context, string) (*RegistryEntry, error) {
		t.Error("registry must not be queried for an invalid UEN")
		return nil, nil
	}}
	agent := NewAgent(noCalls(t), registry, DefaultConfig())
	result := resultOf([]types.FieldSpec{uenSpec}, value("uen", "196800306A", 1))

	verdict, err := agent.Verify(context.Background(), Input{Result: result}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictRejected, verdict.Status)
}

func TestVerify_Idempotent(t *testing.T) {
	agent := NewAgent(replyWith(`{"answer":"uncertain","reason":"not stated"}`), nil, DefaultConfig())
	winner := types.NewFieldValue("organisation_name", "Acme", "Acme", 0.9, types.Provenance{DocumentID: "d1"})
	loser := types.NewFieldValue("organisation_name", "Acme Pte", "Acme Pte", 0.7, types.Provenance{DocumentID: "d2"})

	r := types.NewExtractionResult()
	r.Put(&types.TaskResult{
		Task: types.ExtractionTask{Name: "organisation", Fields: []types.FieldSpec{uenSpec, orgSpec, titleSpec, feeSpec}},
		Merged: map[string]types.FieldValue{
			"uen":               value("uen", "201912345A", 1),
			"organisation_name": winner,
			"course_title":      value("course_title", "Data Analytics", 0.8),
			"course_fee":        value("course_fee", "free", 0.5),
		},
		Conflicts: []types.MergeConflict{{Field: "organisation_name", Winner: winner, Loser: loser}},
	})
	r.Freeze()

	in := Input{Result: r, Documents: []types.SourceDocument{sourceDoc}}
	first, err := agent.Verify(context.Background(), in, nil)
	require.NoError(t, err)
	second, err := agent.Verify(context.Background(), in, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestVerify_RejectedIffRequiredFail(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	candidates := []string{"196800306E", "196800306A", "T08LL1234A", ""}
	confidences := []float64{0.1, 0.5, 1}

	for i := 0; i < 300; i++ {
		var specs []types.FieldSpec
		var values []types.FieldValue
		n := 1 + rng.Intn(5)
		for j := 0; j < n; j++ {
			spec := uenSpec
			spec.Name = fmt.Sprintf("uen_%d", j)
			spec.Required = rng.Intn(2) == 0
			specs = append(specs, spec)
			if v := candidates[rng.Intn(len(candidates))]; v != "" {
				values = append(values, value(spec.Name, v, confidences[rng.Intn(len(confidences))]))
			}
		}

		agent := NewAgent(noCalls(t), nil, DefaultConfig())
		verdict, err := agent.Verify(context.Background(), Input{Result: resultOf(specs, values...)}, nil)
		require.NoError(t, err)

		requiredFail := false
		for _, fv := range verdict.Fields {
			if fv.Required && fv.Status == types.StatusFail {
				requiredFail = true
			}
			assert.False(t, !fv.Required && fv.Status == types.StatusFail, "optional field %s must not FAIL", fv.Field)
		}
		assert.Equal(t, requiredFail, verdict.Status == types.VerdictRejected, "case %d", i)
	}
}

func TestVerify_Events(t *testing.T) {
	var (
		mu    sync.Mutex
		kinds []EventKind
	)
	observe := func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	}
	gw := &MockInvoker{InvokeFunc: func(_ context.Context, req gateway.Request) (*gateway.Response, error) {
		req.Observer(gateway.Attempt{Backend: "gemini", Try: 1, Outcome: gateway.OutcomeSuccess})
		return &gateway.Response{Raw: `{"answer":"yes"}`, Backend: "gemini"}, nil
	}}
	agent := NewAgent(gw, nil, DefaultConfig())
	result := resultOf([]types.FieldSpec{titleSpec, orgSpec},
		value("course_title", "Data Analytics", 0.8),
		value("organisation_name", "Acme", 0.9))

	_, err := agent.Verify(context.Background(), Input{Result: result}, observe)
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventCheck, EventCheck, EventAttempt, EventSemantic, EventVerdict}, kinds)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{MinConfidence: 0.6}.withDefaults()
	assert.Equal(t, 0.6, cfg.MinConfidence)
	assert.Equal(t, DefaultNameMatchThreshold, cfg.NameMatchThreshold)
	assert.Equal(t, DefaultCompanyNameFields, cfg.CompanyNameFields)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
}

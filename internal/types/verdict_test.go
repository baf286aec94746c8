package types

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerdict_Aggregate(t *testing.T) {
	tests := []struct {
		name   string
		fields []FieldVerdict
		want   VerdictStatus
	}{
		{
			name:   "all pass",
			fields: []FieldVerdict{{Field: "a", Required: true, Status: StatusPass}},
			want:   VerdictVerified,
		},
		{
			name: "warn without fail",
			fields: []FieldVerdict{
				{Field: "a", Required: true, Status: StatusPass},
				{Field: "b", Required: false, Status: StatusWarn},
			},
			want: VerdictNeedsReview,
		},
		{
			name: "required fail",
			fields: []FieldVerdict{
				{Field: "a", Required: true, Status: StatusFail, Reason: ReasonInvalidIdentifier},
				{Field: "b", Required: false, Status: StatusWarn},
			},
			want: VerdictRejected,
		},
		{
			name:   "optional fail is downgraded",
			fields: []FieldVerdict{{Field: "b", Required: false, Status: StatusFail}},
			want:   VerdictNeedsReview,
		},
		{
			name: "empty",
			want: VerdictVerified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerdict(tt.fields)
			assert.Equal(t, tt.want, v.Status)
		})
	}
}

func TestNewVerdict_SortsAndDoesNotAlias(t *testing.T) {
	in := []FieldVerdict{
		{Field: "zeta", Status: StatusPass},
		{Field: "alpha", Status: StatusFail, Required: false},
	}
	v := NewVerdict(in)

	require.Len(t, v.Fields, 2)
	assert.Equal(t, "alpha", v.Fields[0].Field)
	assert.Equal(t, StatusWarn, v.Fields[0].Status)
	// input untouched
	assert.Equal(t, StatusFail, in[1].Status)
}

func TestNewVerdict_RejectedIffRequiredFail(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	statuses := []FieldStatus{StatusPass, StatusWarn, StatusFail}

	for i := 0; i < 500; i++ {
		n := rng.Intn(6)
		fields := make([]FieldVerdict, n)
		requiredFail := false
		for j := range fields {
			fields[j] = FieldVerdict{
				Field:    fmt.Sprintf("f%d", j),
				Required: rng.Intn(2) == 0,
				Status:   statuses[rng.Intn(len(statuses))],
			}
			if fields[j].Required && fields[j].Status == StatusFail {
				requiredFail = true
			}
		}

		v := NewVerdict(fields)
		assert.Equal(t, requiredFail, v.Status == VerdictRejected, "fixture %d: %+v", i, fields)
	}
}

func TestNewVerdict_Remediation(t *testing.T) {
	fix := "201912345K"
	v := NewVerdict([]FieldVerdict{
		{Field: "uen", Required: true, Status: StatusFail, Reason: ReasonInvalidIdentifier, Detail: "bad checksum", Correction: &fix},
	})

	require.Len(t, v.Remediation, 1)
	assert.Contains(t, v.Remediation[0], "uen: invalid_identifier")
	assert.Contains(t, v.Remediation[0], "201912345K")
}

func TestFieldStatus_Worse(t *testing.T) {
	assert.True(t, StatusFail.Worse(StatusWarn))
	assert.True(t, StatusWarn.Worse(StatusPass))
	assert.False(t, StatusPass.Worse(StatusWarn))
	assert.False(t, StatusWarn.Worse(StatusWarn))
}

package extraction

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/courseware-agent/internal/types"
)

func candidate(doc, normalized string, confidence float64) types.FieldValue {
	return types.NewFieldValue("f", normalized, normalized, confidence, types.Provenance{DocumentID: doc, Method: types.MethodModel})
}

func TestReduce(t *testing.T) {
	tests := []struct {
		name          string
		candidates    []types.FieldValue
		primary       string
		wantDoc       string
		wantConflicts int
	}{
		{
			name:       "highest confidence wins",
			candidates: []types.FieldValue{candidate("a", "x", 0.4), candidate("b", "y", 0.9)},
			primary:    "a",
			wantDoc:    "b", wantConflicts: 1,
		},
		{
			name:       "tie goes to primary",
			candidates: []types.FieldValue{candidate("a", "x", 0.6), candidate("b", "y", 0.6)},
			primary:    "b",
			wantDoc:    "b", wantConflicts: 1,
		},
		{
			name:       "tie without primary goes to earliest",
			candidates: []types.FieldValue{candidate("a", "x", 0.6), candidate("b", "y", 0.6)},
			primary:    "z",
			wantDoc:    "a", wantConflicts: 1,
		},
		{
			name:       "identical values are not conflicts",
			candidates: []types.FieldValue{candidate("a", "x", 0.6), candidate("b", "x", 0.9)},
			primary:    "a",
			wantDoc:    "b", wantConflicts: 0,
		},
		{
			name:       "missing losers are not conflicts",
			candidates: []types.FieldValue{types.MissingValue("f", "a"), candidate("b", "x", 0.45)},
			primary:    "a",
			wantDoc:    "b", wantConflicts: 0,
		},
		{
			name:       "all missing",
			candidates: []types.FieldValue{types.MissingValue("f", "a"), types.MissingValue("f", "b")},
			primary:    "b",
			wantDoc:    "b", wantConflicts: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner, conflicts := Reduce("f", tt.candidates, tt.primary)
			assert.Equal(t, tt.wantDoc, winner.Provenance.DocumentID)
			assert.Len(t, conflicts, tt.wantConflicts)
			for _, c := range conflicts {
				assert.Equal(t, winner, c.Winner)
				assert.NotEqual(t, winner.Normalized, c.Loser.Normalized)
			}
		})
	}
}

func TestReduce_Empty(t *testing.T) {
	winner, conflicts := Reduce("f", nil, "p")
	assert.False(t, winner.Present())
	assert.Equal(t, "p", winner.Provenance.DocumentID)
	assert.Nil(t, conflicts)
}

// The winner always carries the maximum confidence, and every present loser
// with a different value appears exactly once as a conflict.
func TestReduce_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	values := []string{"x", "y", "z", ""}

	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(5)
		var cands []types.FieldValue
		maxConf := 0.0
		for j := 0; j < n; j++ {
			conf := float64(rng.Intn(5)) / 4
			v := values[rng.Intn(len(values))]
			if v == "" {
				conf = 0
			}
			if conf > maxConf {
				maxConf = conf
			}
			cands = append(cands, candidate(fmt.Sprintf("d%d", j), v, conf))
		}
		primary := fmt.Sprintf("d%d", rng.Intn(n+1))

		winner, conflicts := Reduce("f", cands, primary)
		require.Equal(t, maxConf, winner.Confidence)

		want := 0
		if winner.Present() {
			for _, c := range cands {
				if c.Present() && c.Normalized != winner.Normalized {
					want++
				}
			}
		}
		require.Len(t, conflicts, want)
	}
}

func TestReduceTask_WinningBackend(t *testing.T) {
	tk := types.ExtractionTask{Name: "t", Fields: []types.FieldSpec{{Name: "a"}, {Name: "b"}, {Name: "c"}}, PrimaryDocument: "d1"}
	mk := func(name, backend string, conf float64) types.FieldValue {
		return types.NewFieldValue(name, "v-"+backend, "v-"+backend, conf, types.Provenance{DocumentID: "d1", Backend: backend, Method: types.MethodModel})
	}
	sets := []types.CandidateSet{{
		DocumentID: "d1",
		Status:     types.CandidateOK,
		Values:     map[string]types.FieldValue{"a": mk("a", "B", 0.9), "b": mk("b", "B", 0.9), "c": mk("c", "A", 0.9)},
	}}

	tr := reduceTask(tk, sets)
	assert.Equal(t, "B", tr.WinningBackend)
	assert.Equal(t, types.TaskOK, tr.Status)
	assert.Equal(t, "", topBackend(nil))
	assert.Equal(t, "A", topBackend(map[string]int{"B": 1, "A": 1}))
}

func TestReduceTask_StatusPerDocument(t *testing.T) {
	tk := types.ExtractionTask{Name: "t", Fields: []types.FieldSpec{{Name: "a"}}, PrimaryDocument: "d1"}
	failed := func(doc string) types.CandidateSet {
		return types.CandidateSet{DocumentID: doc, Backend: "A", Attempts: 1, Status: types.CandidateUnparseable}
	}
	ok := func(doc string) types.CandidateSet {
		return types.CandidateSet{DocumentID: doc, Backend: "B", Attempts: 2, Status: types.CandidateOK, Values: map[string]types.FieldValue{
			"a": types.NewFieldValue("a", "x", "x", 0.9, types.Provenance{DocumentID: doc, Backend: "B", Method: types.MethodModel}),
		}}
	}

	tests := []struct {
		name string
		sets []types.CandidateSet
		want types.TaskStatus
	}{
		{name: "retry recovered", sets: []types.CandidateSet{failed("d1"), ok("d1")}, want: types.TaskOK},
		{name: "both attempts failed", sets: []types.CandidateSet{failed("d1"), failed("d1")}, want: types.TaskUnparseable},
		{name: "one document failed", sets: []types.CandidateSet{ok("d1"), failed("d2"), failed("d2")}, want: types.TaskPartial},
		{name: "recovered beside failed", sets: []types.CandidateSet{failed("d1"), ok("d1"), failed("d2"), failed("d2")}, want: types.TaskPartial},
		{name: "no sets", sets: nil, want: types.TaskOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reduceTask(tk, tt.sets).Status)
		})
	}
}

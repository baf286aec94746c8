package extraction

import (
	"sort"

	"github.com/jonathan/courseware-agent/internal/types"
)

// Reduce picks the winning value for one field from candidates given in
// document order. Highest confidence wins; an exact tie goes to the primary
// document, then to the earliest candidate. Losers whose normalized value
// differs from a present winner are returned as conflicts.
func Reduce(field string, candidates []types.FieldValue, primaryDoc string) (types.FieldValue, []types.MergeConflict) {
	if len(candidates) == 0 {
		return types.MissingValue(field, primaryDoc), nil
	}

	best := 0
	for i := 1; i < len(candidates); i++ {
		c, b := candidates[i], candidates[best]
		switch {
		case c.Confidence > b.Confidence:
			best = i
		case c.Confidence == b.Confidence &&
			c.Provenance.DocumentID == primaryDoc && b.Provenance.DocumentID != primaryDoc:
			best = i
		}
	}

	winner := candidates[best]
	if !winner.Present() {
		return winner, nil
	}

	var conflicts []types.MergeConflict
	for i, c := range candidates {
		if i == best || !c.Present() || c.Normalized == winner.Normalized {
			continue
		}
		conflicts = append(conflicts, types.MergeConflict{Field: field, Winner: winner, Loser: c})
	}
	return winner, conflicts
}

// reduceTask merges the candidate sets of one task. Sets must be in document order.
func reduceTask(task types.ExtractionTask, sets []types.CandidateSet) *types.TaskResult {
	tr := &types.TaskResult{
		Task:       task,
		Candidates: sets,
		Merged:     make(map[string]types.FieldValue, len(task.Fields)),
		Status:     types.TaskOK,
	}

	backendWins := make(map[string]int)
	for _, f := range task.Fields {
		var values []types.FieldValue
		for _, s := range sets {
			if v, ok := s.Values[f.Name]; ok {
				values = append(values, v)
			}
		}
		winner, conflicts := Reduce(f.Name, values, task.PrimaryDocument)
		tr.Merged[f.Name] = winner
		tr.Conflicts = append(tr.Conflicts, conflicts...)
		if winner.Present() && winner.Provenance.Method == types.MethodModel {
			backendWins[winner.Provenance.Backend]++
		}
	}
	tr.WinningBackend = topBackend(backendWins)

	// A document counts as parsed when any of its sets parsed; a failed
	// first reply followed by a good retry is not a failure.
	parsed := make(map[string]bool)
	var docs []string
	for _, s := range sets {
		ok, seen := parsed[s.DocumentID]
		if !seen {
			docs = append(docs, s.DocumentID)
		}
		parsed[s.DocumentID] = ok || s.Status == types.CandidateOK
	}
	failed := 0
	for _, id := range docs {
		if !parsed[id] {
			failed++
		}
	}
	switch {
	case len(docs) > 0 && failed == len(docs):
		tr.Status = types.TaskUnparseable
	case failed > 0:
		tr.Status = types.TaskPartial
	}
	return tr
}

func topBackend(wins map[string]int) string {
	names := make([]string, 0, len(wins))
	for name := range wins {
		names = append(names, name)
	}
	sort.Strings(names)
	top := ""
	for _, name := range names {
		if top == "" || wins[name] > wins[top] {
			top = name
		}
	}
	return top
}

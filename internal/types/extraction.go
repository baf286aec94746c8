package types

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// Method records how a field value was obtained
type Method string

// Method constants
const (
	MethodRegex      Method = "regex"
	MethodStructured Method = "structured"
	MethodModel      Method = "model"
	MethodMissing    Method = "missing"
)

// Provenance identifies the document and backend that produced a value
type Provenance struct {
	DocumentID string `json:"document_id"`
	Backend    string `json:"backend,omitempty"`
	Method     Method `json:"method"`
	Evidence   string `json:"evidence,omitempty"`
}

// FieldValue is a single extracted value with its confidence in [0,1].
type FieldValue struct {
	Name       string     `json:"name"`
	Raw        string     `json:"raw"`
	Normalized string     `json:"normalized"`
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
}

// ClampConfidence forces a score into [0,1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// NewFieldValue builds a FieldValue with a clamped confidence.
func NewFieldValue(name, raw, normalized string, confidence float64, prov Provenance) FieldValue {
	return FieldValue{
		Name:       name,
		Raw:        raw,
		Normalized: normalized,
		Confidence: ClampConfidence(confidence),
		Provenance: prov,
	}
}

// MissingValue is the value recorded for a field absent from a document.
func MissingValue(name, documentID string) FieldValue {
	return FieldValue{
		Name:       name,
		Provenance: Provenance{DocumentID: documentID, Method: MethodMissing},
	}
}

// Present reports whether the value carries any content.
func (v FieldValue) Present() bool {
	return strings.TrimSpace(v.Normalized) != ""
}

// CandidateStatus is the outcome of one document/backend extraction job
type CandidateStatus string

// CandidateStatus constants
const (
	CandidateOK          CandidateStatus = "ok"
	CandidateUnparseable CandidateStatus = "unparseable"
)

// CandidateSet holds the values proposed for a task by one document.
type CandidateSet struct {
	TaskName   string                `json:"task"`
	DocumentID string                `json:"document_id"`
	Backend    string                `json:"backend,omitempty"`
	Attempts   int                   `json:"attempts"`
	Status     CandidateStatus       `json:"status"`
	Values     map[string]FieldValue `json:"values,omitempty"`
}

// MergeConflict records a discarded alternative whose value differed from the winner.
type MergeConflict struct {
	Field  string     `json:"field"`
	Winner FieldValue `json:"winner"`
	Loser  FieldValue `json:"loser"`
}

// TaskStatus summarizes how a task's jobs went
type TaskStatus string

// TaskStatus constants
const (
	TaskOK          TaskStatus = "ok"
	TaskPartial     TaskStatus = "partial"
	TaskUnparseable TaskStatus = "unparseable"
)

// TaskResult is the merged output of one extraction task.
type TaskResult struct {
	Task           ExtractionTask        `json:"task"`
	Candidates     []CandidateSet        `json:"candidates"`
	Merged         map[string]FieldValue `json:"merged"`
	Conflicts      []MergeConflict       `json:"conflicts,omitempty"`
	WinningBackend string                `json:"winning_backend,omitempty"`
	Status         TaskStatus            `json:"status"`
}

// ExtractionResult collects the task results for one run. It is written only
// by the extraction engine and becomes read-only once frozen.
type ExtractionResult struct {
	mu     sync.Mutex
	Tasks  map[string]*TaskResult `json:"tasks"`
	frozen bool
}

// NewExtractionResult creates an empty result.
func NewExtractionResult() *ExtractionResult {
	return &ExtractionResult{Tasks: make(map[string]*TaskResult)}
}

// Put stores a task result. It is a no-op after Freeze.
func (r *ExtractionResult) Put(tr *TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.Tasks[tr.Task.Name] = tr
}

// Freeze marks the result read-only.
func (r *ExtractionResult) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *ExtractionResult) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// TaskNames returns the task names in sorted order.
func (r *ExtractionResult) TaskNames() []string {
	names := make([]string, 0, len(r.Tasks))
	for name := range r.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldSpecs returns every field spec across all tasks, in task order.
func (r *ExtractionResult) FieldSpecs() []FieldSpec {
	var specs []FieldSpec
	for _, name := range r.TaskNames() {
		specs = append(specs, r.Tasks[name].Task.Fields...)
	}
	return specs
}

// Fields returns the merged value of every field across all tasks.
func (r *ExtractionResult) Fields() map[string]FieldValue {
	out := make(map[string]FieldValue)
	for _, name := range r.TaskNames() {
		for field, v := range r.Tasks[name].Merged {
			out[field] = v
		}
	}
	return out
}

// Conflicts returns every merge conflict across all tasks.
func (r *ExtractionResult) Conflicts() []MergeConflict {
	var out []MergeConflict
	for _, name := range r.TaskNames() {
		out = append(out, r.Tasks[name].Conflicts...)
	}
	return out
}

// UnparseableTasks lists tasks where no job produced a usable reply.
func (r *ExtractionResult) UnparseableTasks() []string {
	var out []string
	for _, name := range r.TaskNames() {
		if r.Tasks[name].Status == TaskUnparseable {
			out = append(out, name)
		}
	}
	return out
}

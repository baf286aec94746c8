// Package extraction pulls declared fields out of source documents through
// deterministic matching first and the model gateway second, scores each value
// and merges candidates across documents.
package extraction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/courseware-agent/internal/gateway"
	"github.com/jonathan/courseware-agent/internal/ingestion"
	"github.com/jonathan/courseware-agent/internal/llm"
	"github.com/jonathan/courseware-agent/internal/prompts"
	"github.com/jonathan/courseware-agent/internal/types"
)

// Defaults for Options.
const (
	DefaultMaxConcurrentTasks = 4
	DefaultTimeout            = 90 * time.Second
	maxPromptChars            = 60000
)

// EventKind names an engine event
type EventKind string

// EventKind constants
const (
	EventDecoded     EventKind = "decoded"
	EventDecodeError EventKind = "decode_error"
	EventAttempt     EventKind = "attempt"
	EventRetry       EventKind = "retry"
	EventUnparseable EventKind = "unparseable"
	EventValue       EventKind = "value"
	EventWinner      EventKind = "merge_winner"
	EventConflict    EventKind = "merge_conflict"
)

// Event reports engine progress. Observers may be called from several goroutines.
type Event struct {
	Kind       EventKind
	Task       string
	DocumentID string
	Message    string
	Attempt    *gateway.Attempt
	Value      *types.FieldValue
	Conflict   *types.MergeConflict
	Metadata   *ingestion.Metadata
}

// Observer receives engine events.
type Observer func(Event)

// Options configures the engine.
type Options struct {
	// Timeout bounds each gateway attempt.
	Timeout            time.Duration
	MaxConcurrentTasks int
}

// Engine runs extraction tasks. It holds no per-run state.
type Engine struct {
	gateway gateway.Invoker
	opts    Options
	decode  func(types.SourceDocument) (*ingestion.Decoded, error)
}

// New creates an engine on top of a gateway.
func New(gw gateway.Invoker, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	return &Engine{gateway: gw, opts: opts, decode: ingestion.Decode}
}

type job struct {
	task    types.ExtractionTask
	taskIdx int
	doc     types.SourceDocument
	decoded *ingestion.Decoded
}

// Extract runs every task against every document it names. Unparseable
// replies are recorded on the task and do not fail the call; gateway
// exhaustion and cancellation do. The returned result is frozen.
func (e *Engine) Extract(ctx context.Context, tasks []types.ExtractionTask, docs []types.SourceDocument, prefs []string, observe Observer) (*types.ExtractionResult, error) {
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	if observe == nil {
		observe = func(Event) {}
	}

	decoded := e.decodeAll(docs, observe)

	var jobs []job
	for i, t := range tasks {
		for _, id := range t.Documents {
			doc, ok := types.FindDocument(docs, id)
			if !ok {
				observe(Event{Kind: EventDecodeError, Task: t.Name, DocumentID: id, Message: "document not attached to run"})
				continue
			}
			jobs = append(jobs, job{task: t, taskIdx: i, doc: doc, decoded: decoded[id]})
		}
	}

	var (
		mu   sync.Mutex
		sets = make([][]types.CandidateSet, len(tasks))
	)
	for i, t := range tasks {
		sets[i] = make([]types.CandidateSet, 0, len(t.Documents))
	}
	results := make([][]types.CandidateSet, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrentTasks)
	for i := range jobs {
		j := jobs[i]
		g.Go(func() error {
			cs, err := e.runJob(gctx, j, prefs, observe)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = cs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("extraction cancelled: %w", ctx.Err())
		}
		return nil, err
	}

	// jobs were built in document order per task
	for i, j := range jobs {
		sets[j.taskIdx] = append(sets[j.taskIdx], results[i]...)
	}

	result := types.NewExtractionResult()
	for i, t := range tasks {
		tr := reduceTask(t, sets[i])
		for _, f := range t.Fields {
			v := tr.Merged[f.Name]
			observe(Event{Kind: EventWinner, Task: t.Name, DocumentID: v.Provenance.DocumentID, Value: &v})
		}
		for k := range tr.Conflicts {
			c := tr.Conflicts[k]
			observe(Event{Kind: EventConflict, Task: t.Name, DocumentID: c.Loser.Provenance.DocumentID, Conflict: &c})
		}
		result.Put(tr)
	}
	result.Freeze()
	return result, nil
}

func (e *Engine) decodeAll(docs []types.SourceDocument, observe Observer) map[string]*ingestion.Decoded {
	out := make(map[string]*ingestion.Decoded, len(docs))
	for _, doc := range docs {
		d, err := e.decode(doc)
		if err != nil {
			observe(Event{Kind: EventDecodeError, DocumentID: doc.ID, Message: err.Error()})
			d = &ingestion.Decoded{DocumentID: doc.ID, Kind: doc.Kind}
		}
		observe(Event{Kind: EventDecoded, DocumentID: doc.ID, Metadata: ingestion.NewMetadata(doc, d)})
		out[doc.ID] = d
	}
	return out
}

// runJob extracts one task from one document. A reply that fails to parse is
// kept as its own unparseable set ahead of the retry's set.
func (e *Engine) runJob(ctx context.Context, j job, prefs []string, observe Observer) ([]types.CandidateSet, error) {
	cs := types.CandidateSet{
		TaskName:   j.task.Name,
		DocumentID: j.doc.ID,
		Status:     types.CandidateOK,
		Values:     make(map[string]types.FieldValue, len(j.task.Fields)),
	}
	emit := func(v types.FieldValue) {
		cs.Values[v.Name] = v
		observe(Event{Kind: EventValue, Task: j.task.Name, DocumentID: j.doc.ID, Value: &v})
	}

	if j.decoded.Empty() {
		for _, f := range j.task.Fields {
			emit(types.MissingValue(f.Name, j.doc.ID))
		}
		return []types.CandidateSet{cs}, nil
	}

	remaining := j.task
	remaining.Fields = nil
	for _, f := range j.task.Fields {
		if v, ok := deterministicValue(f, j.decoded); ok {
			emit(v)
			continue
		}
		remaining.Fields = append(remaining.Fields, f)
	}
	if len(remaining.Fields) == 0 {
		return []types.CandidateSet{cs}, nil
	}

	prompt, err := buildPrompt(remaining, j.doc, j.decoded.Text)
	if err != nil {
		return nil, err
	}

	attemptObserver := func(a gateway.Attempt) {
		observe(Event{Kind: EventAttempt, Task: j.task.Name, DocumentID: j.doc.ID, Attempt: &a})
	}

	resp, err := e.gateway.Invoke(ctx, gateway.Request{Prompt: prompt, Preferences: prefs, Timeout: e.opts.Timeout, Observer: attemptObserver})
	if err != nil {
		return nil, fmt.Errorf("task %s on document %s: %w", j.task.Name, j.doc.ID, err)
	}
	cs.Attempts = 1
	cs.Backend = resp.Backend

	var sets []types.CandidateSet
	values, parseErr := parseReply(remaining, resp.Raw, j.decoded.Text, j.doc.ID, resp.Backend)
	if parseErr != nil {
		observe(Event{Kind: EventRetry, Task: j.task.Name, DocumentID: j.doc.ID, Message: fmt.Sprintf("%s reply unusable: %v", resp.Backend, parseErr)})
		backends := []string{resp.Backend}
		sets = append(sets, types.CandidateSet{
			TaskName:   j.task.Name,
			DocumentID: j.doc.ID,
			Backend:    resp.Backend,
			Attempts:   1,
			Status:     types.CandidateUnparseable,
		})

		reminder, err := prompts.Get(prompts.ExtractionFile, "retry-reminder")
		if err != nil {
			return nil, err
		}
		resp, err = e.gateway.Invoke(ctx, gateway.Request{
			Prompt:      prompt + "\n\n" + reminder,
			Preferences: rotate(prefs, resp.Backend),
			Timeout:     e.opts.Timeout,
			Observer:    attemptObserver,
		})
		if err != nil {
			return nil, fmt.Errorf("task %s on document %s: %w", j.task.Name, j.doc.ID, err)
		}
		cs.Attempts = 2
		cs.Backend = resp.Backend
		backends = append(backends, resp.Backend)

		values, parseErr = parseReply(remaining, resp.Raw, j.decoded.Text, j.doc.ID, resp.Backend)
		if parseErr != nil {
			uerr := &UnparseableError{Task: j.task.Name, DocumentID: j.doc.ID, Backends: backends, Cause: parseErr}
			observe(Event{Kind: EventUnparseable, Task: j.task.Name, DocumentID: j.doc.ID, Message: uerr.Error()})
			cs.Status = types.CandidateUnparseable
			values = make(map[string]types.FieldValue, len(remaining.Fields))
			for _, f := range remaining.Fields {
				values[f.Name] = types.MissingValue(f.Name, j.doc.ID)
			}
		}
	}

	for _, f := range remaining.Fields {
		emit(values[f.Name])
	}
	return append(sets, cs), nil
}

func buildPrompt(task types.ExtractionTask, doc types.SourceDocument, text string) (string, error) {
	header, err := prompts.Render(prompts.ExtractionFile, "extract-fields", map[string]string{
		"Artifact": string(task.Artifact),
		"Task":     task.Name,
		"Document": doc.Name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to load extraction prompt: %w", err)
	}
	text = llm.ClipUTF8(text, maxPromptChars)
	return llm.BuildExtractionPrompt(llm.SchemaFromTask(task, header, nil), text), nil
}

// rotate starts the preference list at the backend after last.
func rotate(prefs []string, last string) []string {
	for i, name := range prefs {
		if name == last {
			out := make([]string, 0, len(prefs))
			out = append(out, prefs[i+1:]...)
			return append(out, prefs[:i+1]...)
		}
	}
	return prefs
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/jonathan/courseware-agent/internal/pipeline"
	"github.com/jonathan/courseware-agent/internal/types"
)

// streamBuffer is how many trace entries a streaming client may fall behind
// before entries are dropped.
const streamBuffer = 256

// RunSummary is the short form of a run returned by run endpoints.
type RunSummary struct {
	RunID    string             `json:"run_id"`
	State    pipeline.State     `json:"state"`
	Reason   pipeline.Reason    `json:"reason,omitempty"`
	Outcome  pipeline.Outcome   `json:"outcome"`
	Pipeline types.ArtifactType `json:"pipeline,omitempty"`
	Error    string             `json:"error,omitempty"`
	Entries  int                `json:"trace_entries"`
}

func summarize(run *pipeline.Run) RunSummary {
	sum := RunSummary{
		RunID:    run.ID,
		State:    run.State(),
		Reason:   run.Reason(),
		Outcome:  run.Outcome(),
		Pipeline: run.Pipeline(),
		Entries:  run.Trace().Len(),
	}
	if err := run.Err(); err != nil {
		sum.Error = err.Error()
	}
	return sum
}

// decodeRunRequest reads a run request and fetches the content of scrape-origin
// documents that arrive with only a URL.
func (s *Server) decodeRunRequest(r *http.Request) (types.RunRequest, error) {
	var req types.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, &ErrValidation{Field: "body", Message: err.Error()}
	}
	for i := range req.Documents {
		doc := &req.Documents[i]
		if doc.Origin != types.OriginScrape || doc.URL == "" || len(doc.Content) > 0 {
			continue
		}
		fetched, err := s.fetch(r.Context(), doc.URL)
		if err != nil {
			return req, &ErrValidation{Field: "documents", Message: fmt.Sprintf("failed to fetch %s: %v", doc.URL, err)}
		}
		doc.Content = fetched.Content
		doc.Kind = fetched.Kind
		if doc.Name == "" {
			doc.Name = fetched.Name
		}
		if doc.ID == "" {
			doc.ID = fetched.ID
		}
	}
	return req, nil
}

func (s *Server) prepare(r *http.Request) (*pipeline.Run, error) {
	req, err := s.decodeRunRequest(r)
	if err != nil {
		return nil, err
	}
	run, err := s.orchestrator.Prepare(req)
	if err != nil {
		return nil, &ErrValidation{Field: "request", Message: err.Error()}
	}
	return run, nil
}

// handleCreateRun starts a run in the background and returns at once.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.prepare(r)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	log.Printf("Starting pipeline run %s", run.ID)
	s.goBackground(func(ctx context.Context) {
		if err := s.orchestrator.Execute(ctx, run); err != nil {
			log.Printf("Pipeline run %s failed: %v", run.ID, err)
			return
		}
		log.Printf("Pipeline run %s reached %s", run.ID, run.State())
	})

	s.jsonResponse(w, http.StatusAccepted, summarize(run))
}

// handleRunStream runs synchronously and streams the trace as Server-Sent
// Events. A client disconnect cancels the run.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	run, err := s.prepare(r)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Nothing runs yet, so replaying then subscribing loses no entries.
	for _, entry := range run.Trace().Entries() {
		if err := sse.WriteTrace(entry); err != nil {
			log.Printf("Error writing SSE event: %v", err)
		}
	}

	// Pipeline goroutines only enqueue; one writer talks to the client.
	queue := make(chan pipeline.TraceEntry, streamBuffer)
	var dropped atomic.Int64
	unsubscribe := run.Trace().Subscribe(func(entry pipeline.TraceEntry) {
		select {
		case queue <- entry:
		default:
			dropped.Add(1)
		}
	})

	done := make(chan struct{})
	written := make(chan struct{})
	go func() {
		defer close(written)
		for {
			select {
			case entry := <-queue:
				if err := sse.WriteTrace(entry); err != nil {
					log.Printf("Error writing SSE event: %v", err)
				}
			case <-done:
				for {
					select {
					case entry := <-queue:
						if err := sse.WriteTrace(entry); err != nil {
							log.Printf("Error writing SSE event: %v", err)
						}
					default:
						return
					}
				}
			}
		}
	}()

	err = s.orchestrator.Execute(r.Context(), run)
	unsubscribe()
	close(done)
	<-written

	if n := dropped.Load(); n > 0 {
		log.Printf("Stream of run %s dropped %d trace entries", run.ID, n)
		sse.WriteError(fmt.Sprintf("client too slow, %d trace entries dropped; fetch GET /runs/%s/trace", n, run.ID))
	}
	if err != nil {
		log.Printf("Streaming run %s failed: %v", run.ID, err)
		sse.WriteError(err.Error())
	}
	sse.WriteComplete(summarize(run))
}

// handleListRuns lists runs held in memory, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	snaps := s.orchestrator.Runs()
	out := make([]RunSummary, 0, len(snaps))
	for _, snap := range snaps {
		sum := RunSummary{
			RunID:   snap.ID,
			State:   snap.State,
			Reason:  snap.Reason,
			Outcome: snap.Outcome,
			Error:   snap.Error,
			Entries: len(snap.Trace),
		}
		if snap.Decision != nil {
			sum.Pipeline = snap.Decision.Pipeline
		}
		out = append(out, sum)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": out, "count": len(out)})
}

// handleGetRun returns the full snapshot of a live run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orchestrator.Lookup(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, run.Snapshot())
}

// handleForgetRun drops a terminal run from memory.
func (s *Server) handleForgetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orchestrator.Lookup(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	if !run.State().Terminal() {
		s.errorResponse(w, http.StatusConflict, fmt.Sprintf("run is %s; cancel it first", run.State()))
		return
	}
	s.orchestrator.Forget(run.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleRunTrace returns trace entries after ?since=N.
func (s *Server) handleRunTrace(w http.ResponseWriter, r *http.Request) {
	run, err := s.orchestrator.Lookup(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorFrom(w, &ErrValidation{Field: "since", Message: "must be a non-negative integer"})
			return
		}
		since = n
	}

	entries := run.Trace().Since(since)
	if entries == nil {
		entries = []pipeline.TraceEntry{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"run_id":  run.ID,
		"state":   run.State(),
		"entries": entries,
	})
}

// handleClarify resumes an ambiguous run with the caller's pipeline choice.
func (s *Server) handleClarify(w http.ResponseWriter, r *http.Request) {
	run, err := s.orchestrator.Lookup(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	var req types.ClarifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.errorFrom(w, validationError(err))
		return
	}
	if state := run.State(); state != pipeline.StateAwaitingClarification {
		s.errorFrom(w, &pipeline.TransitionError{From: state, To: pipeline.StateRouting})
		return
	}

	s.goBackground(func(ctx context.Context) {
		if err := s.orchestrator.Clarify(ctx, run, req.Pipeline); err != nil {
			log.Printf("Clarified run %s failed: %v", run.ID, err)
		}
	})

	s.jsonResponse(w, http.StatusAccepted, summarize(run))
}

// handleHandoff builds the structured record and sends it to the dispatcher.
func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	run, err := s.orchestrator.Lookup(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	var req types.HandoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.errorFrom(w, validationError(err))
		return
	}

	record, err := s.orchestrator.Handoff(r.Context(), run, pipeline.HandoffOptions{
		AcceptReview:      req.AcceptReview,
		AcceptCorrections: req.AcceptCorrections,
	})
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, record)
}

// handleCancel cancels a run.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orchestrator.Cancel(r.Context(), id); err != nil {
		s.errorFrom(w, err)
		return
	}
	run, err := s.orchestrator.Lookup(id)
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, summarize(run))
}

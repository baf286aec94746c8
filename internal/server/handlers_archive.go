package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/jonathan/courseware-agent/internal/db"
)

func (s *Server) archivedRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if s.archive == nil {
		s.errorFrom(w, ErrArchiveDisabled)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorFrom(w, &ErrValidation{Field: "id", Message: "must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// handleListArchived lists archived runs with optional pipeline, state and limit filters.
func (s *Server) handleListArchived(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.errorFrom(w, ErrArchiveDisabled)
		return
	}

	q := r.URL.Query()
	filters := db.RunFilters{Pipeline: q.Get("pipeline"), State: q.Get("state")}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			s.errorFrom(w, &ErrValidation{Field: "limit", Message: "must be a positive integer"})
			return
		}
		filters.Limit = limit
	}

	runs, err := s.archive.ListRuns(r.Context(), filters)
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetArchived returns one archived run.
func (s *Server) handleGetArchived(w http.ResponseWriter, r *http.Request) {
	id, ok := s.archivedRunID(w, r)
	if !ok {
		return
	}
	run, err := s.archive.GetRun(r.Context(), id)
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	if run == nil {
		s.errorFrom(w, db.ErrRunNotFound)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// handleDeleteArchived deletes an archived run with its artifacts and trace.
func (s *Server) handleDeleteArchived(w http.ResponseWriter, r *http.Request) {
	id, ok := s.archivedRunID(w, r)
	if !ok {
		return
	}
	if err := s.archive.DeleteRun(r.Context(), id); err != nil {
		s.errorFrom(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleArchivedTrace returns the archived trace, optionally for one ?stage=.
func (s *Server) handleArchivedTrace(w http.ResponseWriter, r *http.Request) {
	id, ok := s.archivedRunID(w, r)
	if !ok {
		return
	}
	var stage *string
	if v := r.URL.Query().Get("stage"); v != "" {
		stage = &v
	}
	entries, err := s.archive.ListTrace(r.Context(), id, stage)
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	if entries == nil {
		entries = []db.TraceEntry{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"run_id": id, "entries": entries})
}

// handleArchivedArtifact returns one stored stage artifact.
func (s *Server) handleArchivedArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := s.archivedRunID(w, r)
	if !ok {
		return
	}
	artifact, err := s.archive.GetArtifact(r.Context(), id, r.PathValue("step"))
	if err != nil {
		s.errorFrom(w, err)
		return
	}
	if artifact == nil {
		s.errorResponse(w, http.StatusNotFound, "artifact not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, artifact)
}

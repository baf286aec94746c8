package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Run is an archived pipeline run
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Pipeline    string     `json:"pipeline"`
	State       string     `json:"state"`
	Reason      string     `json:"reason"`
	Outcome     string     `json:"outcome"`
	Error       *string    `json:"error,omitempty"`
	RequestText string     `json:"request_text"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Artifact step names
const (
	StepDocuments = "documents"
	StepConfig    = "config"
	StepDecision  = "decision"
	StepResult    = "extraction_result"
	StepVerdict   = "verdict"
	StepRecord    = "record"
)

// Artifact categories, one per pipeline stage
const (
	CategoryRequest      = "request"
	CategoryRouting      = "routing"
	CategoryExtraction   = "extraction"
	CategoryVerification = "verification"
	CategoryHandoff      = "handoff"
)

// Artifact is a JSON document stored for a run
type Artifact struct {
	ID        uuid.UUID       `json:"id"`
	RunID     uuid.UUID       `json:"run_id"`
	Step      string          `json:"step"`
	Category  string          `json:"category"`
	Content   json.RawMessage `json:"content,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// TraceEntry is one archived trace line
type TraceEntry struct {
	RunID    uuid.UUID       `json:"run_id"`
	Seq      int             `json:"seq"`
	Stage    string          `json:"stage"`
	Kind     string          `json:"kind"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data,omitempty"`
	LoggedAt time.Time       `json:"logged_at"`
}

// RunFilters holds optional filters for listing runs
type RunFilters struct {
	Pipeline string
	State    string
	Limit    int
}

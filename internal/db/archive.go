package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/courseware-agent/internal/pipeline"
)

type artifactRow struct {
	step     string
	category string
	content  []byte
}

// artifactsOf returns the JSON artifacts stored for a snapshot. Stages the
// run never reached are left out.
func artifactsOf(snap pipeline.Snapshot) ([]artifactRow, error) {
	items := []struct {
		step     string
		category string
		value    any
		present  bool
	}{
		{StepDocuments, CategoryRequest, snap.Documents, true},
		{StepConfig, CategoryRequest, snap.Config, true},
		{StepDecision, CategoryRouting, snap.Decision, snap.Decision != nil},
		{StepResult, CategoryExtraction, snap.Result, snap.Result != nil},
		{StepVerdict, CategoryVerification, snap.Verdict, snap.Verdict != nil},
		{StepRecord, CategoryHandoff, snap.Record, snap.Record != nil},
	}

	var rows []artifactRow
	for _, it := range items {
		if !it.present {
			continue
		}
		jsonBytes, err := json.Marshal(it.value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal artifact %s: %w", it.step, err)
		}
		rows = append(rows, artifactRow{step: it.step, category: it.category, content: jsonBytes})
	}
	return rows, nil
}

// Archive stores a terminal run snapshot. Archiving the same run again
// updates its row and artifacts and adds trace entries not yet stored.
func (db *DB) Archive(ctx context.Context, snap pipeline.Snapshot) error {
	if !snap.State.Terminal() {
		return fmt.Errorf("run %s is %s, only terminal runs are archived", snap.ID, snap.State)
	}
	runID, err := uuid.Parse(snap.ID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", snap.ID, err)
	}
	artifacts, err := artifactsOf(snap)
	if err != nil {
		return err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var errMsg *string
	if snap.Error != "" {
		errMsg = &snap.Error
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO pipeline_runs (id, pipeline, state, reason, outcome, error, request_text, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET pipeline = $2, state = $3, reason = $4, outcome = $5,
		     error = $6, completed_at = $9, archived_at = NOW()`,
		runID, pipelineOf(snap), string(snap.State), string(snap.Reason), string(snap.Outcome),
		errMsg, snap.Text, snap.CreatedAt, snap.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}

	for _, a := range artifacts {
		if err := saveArtifact(ctx, tx, runID, a); err != nil {
			return err
		}
	}

	batch := &pgx.Batch{}
	for _, e := range snap.Trace {
		var data []byte
		if e.Data != nil {
			if data, err = json.Marshal(e.Data); err != nil {
				return fmt.Errorf("failed to marshal trace entry %d: %w", e.Seq, err)
			}
		}
		batch.Queue(
			`INSERT INTO run_trace (run_id, seq, stage, kind, message, data, logged_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (run_id, seq) DO NOTHING`,
			runID, e.Seq, e.Stage, e.Kind, e.Message, data, e.Time,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to archive trace: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}
	return nil
}

func pipelineOf(snap pipeline.Snapshot) string {
	if snap.Decision == nil {
		return ""
	}
	return string(snap.Decision.Pipeline)
}

func saveArtifact(ctx context.Context, tx pgx.Tx, runID uuid.UUID, a artifactRow) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO artifacts (run_id, step, category, content)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, step) DO UPDATE SET category = $3, content = $4, created_at = NOW()`,
		runID, a.step, a.category, a.content,
	)
	if err != nil {
		return fmt.Errorf("failed to save artifact %s: %w", a.step, err)
	}
	return nil
}

// GetArtifact retrieves a JSON artifact by run ID and step. A missing
// artifact returns nil, nil.
func (db *DB) GetArtifact(ctx context.Context, runID uuid.UUID, step string) (*Artifact, error) {
	var a Artifact
	var category *string
	err := db.pool.QueryRow(ctx,
		`SELECT id, run_id, step, category, content, created_at
		 FROM artifacts WHERE run_id = $1 AND step = $2`,
		runID, step,
	).Scan(&a.ID, &a.RunID, &a.Step, &category, &a.Content, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", step, err)
	}
	if category != nil {
		a.Category = *category
	}
	return &a, nil
}

// ListTrace retrieves a run's archived trace in order, optionally for one
// stage.
func (db *DB) ListTrace(ctx context.Context, runID uuid.UUID, stage *string) ([]TraceEntry, error) {
	query := `SELECT run_id, seq, stage, kind, message, data, logged_at
	          FROM run_trace
	          WHERE run_id = $1`
	args := []any{runID}

	if stage != nil {
		query += " AND stage = $2"
		args = append(args, *stage)
	}
	query += " ORDER BY seq"

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trace: %w", err)
	}
	defer rows.Close()

	var entries []TraceEntry
	for rows.Next() {
		var e TraceEntry
		if err := rows.Scan(&e.RunID, &e.Seq, &e.Stage, &e.Kind, &e.Message, &e.Data, &e.LoggedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trace entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

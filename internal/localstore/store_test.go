package localstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/courseware-agent/internal/pipeline"
	"github.com/jonathan/courseware-agent/internal/routing"
	"github.com/jonathan/courseware-agent/internal/types"
)

// setupTestStore creates a store in a temporary directory.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func testSnapshot(id string, created time.Time) pipeline.Snapshot {
	finished := created.Add(time.Second)
	return pipeline.Snapshot{
		ID:         id,
		Text:       "generate a course proposal",
		State:      pipeline.StateReadyForGeneration,
		Reason:     pipeline.ReasonVerified,
		Outcome:    pipeline.OutcomeSuccess,
		Decision:   &routing.Decision{Kind: routing.KindRouted, Pipeline: types.ArtifactCourseProposal},
		Verdict:    &types.Verdict{Status: types.VerdictVerified},
		CreatedAt:  created,
		FinishedAt: &finished,
		Trace: []pipeline.TraceEntry{
			{Seq: 1, Time: created, RunID: id, Stage: pipeline.StageRouting, Kind: "rule_scores", Message: "course_proposal=1.00"},
			{Seq: 2, Time: created, RunID: id, Stage: pipeline.StageRouting, Kind: "transition", Data: map[string]string{"to": "EXTRACTING"}},
		},
	}
}

func TestOpen_MigratesOnce(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// reopening must not re-run applied migrations
	store, err = Open(dir)
	require.NoError(t, err)
	defer store.Close()

	var version int
	require.NoError(t, store.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 2, version)
	assert.FileExists(t, store.Path())
}

func TestArchive_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	snap := testSnapshot("run-1", created)
	require.NoError(t, store.Archive(ctx, snap))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateReadyForGeneration, got.State)
	assert.Equal(t, types.ArtifactCourseProposal, got.Decision.Pipeline)
	assert.Equal(t, types.VerdictVerified, got.Verdict.Status)

	entries, err := store.Trace(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "rule_scores", entries[0].Kind)
	assert.Nil(t, entries[0].Data)
	data, ok := entries[1].Data.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"to": "EXTRACTING"}`, string(data))
}

func TestArchive_AgainAfterHandoff(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	snap := testSnapshot("run-1", time.Now().UTC())
	require.NoError(t, store.Archive(ctx, snap))

	snap.Record = &types.StructuredRecord{RunID: "run-1", Artifact: types.ArtifactCourseProposal}
	snap.Trace = append(snap.Trace, pipeline.TraceEntry{Seq: 3, Time: time.Now(), Stage: pipeline.StageHandoff, Kind: "dispatched"})
	require.NoError(t, store.Archive(ctx, snap))

	entries, err := store.Trace(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Dispatched)
	assert.False(t, list[0].ReviewAccepted)
	assert.NotNil(t, list[0].FinishedAt)
}

func TestArchive_RejectsActiveRun(t *testing.T) {
	store := setupTestStore(t)
	snap := testSnapshot("run-1", time.Now())
	snap.State = pipeline.StateVerifying

	assert.Error(t, store.Archive(context.Background(), snap))
	_, err := store.Get(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_NewestFirstWithLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Archive(ctx, testSnapshot(id, base.Add(time.Duration(i)*time.Hour))))
	}

	list, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, "course_proposal", list[0].Pipeline)
}

func TestDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Archive(ctx, testSnapshot("run-1", time.Now())))

	require.NoError(t, store.Delete(ctx, "run-1"))
	entries, err := store.Trace(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, store.Delete(ctx, "run-1"), ErrNotFound)
}

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const acmeDoc = "Organisation: Acme Training Pte Ltd\nTSC Code: ICT-DIT-3002-1.1\nUEN: 196800306E\n"

func TestRunCommand_VerifiedRunIsDispatchedAndArchived(t *testing.T) {
	withInvoker(t, scriptedInvoker())
	tmp := t.TempDir()
	doc := writeDoc(t, tmp, "acme_tsc.txt", acmeDoc)
	dataDir := filepath.Join(tmp, "data")
	dispatchDir := filepath.Join(tmp, "records")

	output, err := execute(t, "run",
		"--text", "Please generate a course proposal for this course",
		"--doc", doc,
		"--data-dir", dataDir,
		"--dispatch-dir", dispatchDir,
		"--skip-registry",
		"--handoff")
	require.NoError(t, err, output)

	assert.Contains(t, output, "Starting run with 1 document(s)")
	assert.Contains(t, output, "VERIFICATION VERDICT")
	assert.Contains(t, output, "READY_FOR_GENERATION")
	assert.Contains(t, output, "Record dispatched for course_proposal")

	records, err := os.ReadDir(dispatchDir)
	require.NoError(t, err)
	require.Len(t, records, 1)
	name := records[0].Name()
	assert.True(t, strings.HasPrefix(name, "course_proposal-"))
	runID := strings.TrimSuffix(strings.TrimPrefix(name, "course_proposal-"), ".json")

	output, err = execute(t, "history", "list", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, output, runID)
	assert.Contains(t, output, "dispatched")

	output, err = execute(t, "history", "show", runID, "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, output, "READY_FOR_GENERATION (verified)")
	assert.Contains(t, output, "STRUCTURED RECORD")
	assert.Contains(t, output, "run_created")

	output, err = execute(t, "history", "delete", runID, "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, output, "Deleted run")

	_, err = execute(t, "history", "show", runID, "--data-dir", dataDir)
	assert.Error(t, err)
}

func TestRunCommand_AmbiguousAsksForPipeline(t *testing.T) {
	withInvoker(t, scriptedInvoker())
	doc := writeDoc(t, t.TempDir(), "notes.txt", acmeDoc)

	output, err := execute(t, "run",
		"--text", "I need a proposal and some assessment questions",
		"--doc", doc,
		"--no-archive",
		"--skip-registry")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--pipeline")
	assert.Contains(t, err.Error(), "course_proposal (0.70)")
	assert.NotContains(t, output, "VERIFICATION VERDICT")
}

func TestRunCommand_RequestedPipelineSkipsRouting(t *testing.T) {
	withInvoker(t, scriptedInvoker())
	doc := writeDoc(t, t.TempDir(), "notes.txt", acmeDoc)

	output, err := execute(t, "run",
		"--text", "I need a proposal and some assessment questions",
		"--doc", doc,
		"--pipeline", "course_proposal",
		"--no-archive",
		"--skip-registry",
		"--json")

	require.NoError(t, err, output)
	assert.Contains(t, output, "pipeline_requested")
	assert.Contains(t, output, `"state": "READY_FOR_GENERATION"`)
}

func TestRunCommand_InputErrors(t *testing.T) {
	withInvoker(t, scriptedInvoker())

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "no input",
			args:    []string{"run", "--no-archive"},
			wantErr: "provide request text",
		},
		{
			name:    "handoff without dispatch dir",
			args:    []string{"run", "--text", "proposal", "--handoff", "--no-archive"},
			wantErr: "--handoff requires --dispatch-dir",
		},
		{
			name:    "missing document",
			args:    []string{"run", "--doc", "does-not-exist.txt", "--no-archive"},
			wantErr: "failed to load does-not-exist.txt",
		},
		{
			name:    "unknown pipeline",
			args:    []string{"run", "--text", "proposal", "--pipeline", "newsletter", "--no-archive"},
			wantErr: "invalid request",
		},
		{
			name:    "unknown preference",
			args:    []string{"run", "--text", "proposal", "--prefer", "nobody", "--no-archive"},
			wantErr: "names no configured backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRouteCommand_RulesOnly(t *testing.T) {
	doc := writeDoc(t, t.TempDir(), "acme_tsc.txt", acmeDoc)

	output, err := execute(t, "route", "--rules-only",
		"--text", "Please generate a course proposal for this course",
		"--doc", doc)
	require.NoError(t, err, output)
	assert.Contains(t, output, "ROUTING DECISION")
	assert.Contains(t, output, "routed (rules)")
	assert.Contains(t, output, "Pipeline: course_proposal")

	output, err = execute(t, "route", "--rules-only", "--json",
		"--text", "Please generate a course proposal for this course",
		"--doc", doc)
	require.NoError(t, err, output)
	assert.Contains(t, output, `"kind": "routed"`)
}

func TestRouteCommand_ConsultsClassifier(t *testing.T) {
	withInvoker(t, scriptedInvoker())
	doc := writeDoc(t, t.TempDir(), "notes.txt", acmeDoc)

	output, err := execute(t, "route", "--text", "I need a proposal and some assessment questions", "--doc", doc, "--verbose")

	require.NoError(t, err, output)
	assert.Contains(t, output, "ambiguous (ai)")
	assert.Contains(t, output, "[decision]")
}

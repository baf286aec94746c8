package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonathan/courseware-agent/internal/types"
)

// FileDispatcher writes each record as JSON into a directory, where the
// document generators pick it up.
type FileDispatcher struct {
	Dir string
}

// Dispatch writes <dir>/<artifact>-<run id>.json.
func (d *FileDispatcher) Dispatch(ctx context.Context, record *types.StructuredRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create dispatch directory: %w", err)
	}

	jsonBytes, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	path := filepath.Join(d.Dir, fmt.Sprintf("%s-%s.json", record.Artifact, record.RunID))
	if err := os.WriteFile(path, jsonBytes, 0644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, record *types.StructuredRecord) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, record *types.StructuredRecord) error {
	return f(ctx, record)
}

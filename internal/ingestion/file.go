package ingestion

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/jonathan/courseware-agent/internal/types"
)

// LoadFile reads a local file as an uploaded source document.
func LoadFile(path string) (types.SourceDocument, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.SourceDocument{}, fmt.Errorf("file not found: %w", err)
		}
		return types.SourceDocument{}, fmt.Errorf("failed to read file: %w", err)
	}
	name := filepath.Base(path)
	return types.SourceDocument{
		ID:      uuid.NewString(),
		Name:    name,
		Kind:    types.KindFromName(name),
		Origin:  types.OriginUpload,
		Content: content,
	}, nil
}

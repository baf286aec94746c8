package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonathan/courseware-agent/internal/types"
)

// Metadata summarises a decoded document for the run trace and archive.
type Metadata struct {
	DocumentID string          `json:"document_id"`
	Name       string          `json:"name"`
	Kind       types.MediaKind `json:"kind"`
	Origin     types.Origin    `json:"origin,omitempty"`
	URL        string          `json:"url,omitempty"`
	Timestamp  string          `json:"timestamp"` // RFC3339 format
	Hash       string          `json:"hash"`      // SHA256 hex digest of the raw content
	Chars      int             `json:"chars"`
	Pairs      int             `json:"pairs"`
}

// NewMetadata describes doc and its decoded text.
func NewMetadata(doc types.SourceDocument, decoded *Decoded) *Metadata {
	m := &Metadata{
		DocumentID: doc.ID,
		Name:       doc.Name,
		Kind:       doc.Kind,
		Origin:     doc.Origin,
		URL:        doc.URL,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Hash:       computeHash(doc.Content),
	}
	if decoded != nil {
		m.Chars = len(decoded.Text)
		m.Pairs = len(decoded.Pairs)
	}
	return m
}

func computeHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// ToJSON marshals Metadata to pretty-printed JSON
func (m *Metadata) ToJSON() ([]byte, error) {
	jsonBytes, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata to JSON: %w", err)
	}
	return jsonBytes, nil
}

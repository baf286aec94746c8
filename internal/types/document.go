package types

import (
	"path/filepath"
	"strings"
)

// MediaKind identifies the container format of a Source Document
type MediaKind string

// MediaKind constants
const (
	MediaSpreadsheet   MediaKind = "spreadsheet"
	MediaWordProcessed MediaKind = "wordprocessed"
	MediaPlainText     MediaKind = "plaintext"
	MediaHTML          MediaKind = "html"
)

// Origin records how a Source Document entered the run
type Origin string

// Origin constants
const (
	OriginUpload Origin = "upload"
	OriginScrape Origin = "scrape"
)

// SourceDocument is an input file or scraped page. Content is never modified
// once the document is attached to a run.
type SourceDocument struct {
	ID      string    `json:"id" validate:"required"`
	Name    string    `json:"name" validate:"required"`
	Kind    MediaKind `json:"kind" validate:"required,oneof=spreadsheet wordprocessed plaintext html"`
	Origin  Origin    `json:"origin,omitempty" validate:"omitempty,oneof=upload scrape"`
	URL     string    `json:"url,omitempty" validate:"omitempty,url"`
	Content []byte    `json:"content"`
	Primary bool      `json:"primary,omitempty"`
}

// KindFromName infers the media kind from a file name extension.
func KindFromName(name string) MediaKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return MediaSpreadsheet
	case ".docx":
		return MediaWordProcessed
	case ".html", ".htm":
		return MediaHTML
	default:
		return MediaPlainText
	}
}

// FindDocument returns the document with the given ID.
func FindDocument(docs []SourceDocument, id string) (SourceDocument, bool) {
	for _, d := range docs {
		if d.ID == id {
			return d, true
		}
	}
	return SourceDocument{}, false
}

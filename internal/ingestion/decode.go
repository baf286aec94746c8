// Package ingestion turns source documents into plain text plus the label/value
// pairs that deterministic extraction can match without a model.
package ingestion

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/courseware-agent/internal/fetch"
	"github.com/jonathan/courseware-agent/internal/types"
)

// Pair is a label and the value written next to it: a spreadsheet row, a table
// row, or a "Label: value" line.
type Pair struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Location string `json:"location"`
	// Cell is true for spreadsheet and table cells.
	Cell bool `json:"cell"`
}

// Decoded is the text view of one source document.
type Decoded struct {
	DocumentID string          `json:"document_id"`
	Kind       types.MediaKind `json:"kind"`
	Text       string          `json:"text"`
	Pairs      []Pair          `json:"pairs,omitempty"`
}

// Empty reports whether the document yielded no text.
func (d *Decoded) Empty() bool {
	return d == nil || strings.TrimSpace(d.Text) == ""
}

// Lookup returns the first pair whose normalized key matches one of the labels.
func (d *Decoded) Lookup(labels ...string) (Pair, bool) {
	if d == nil {
		return Pair{}, false
	}
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		if k := NormalizeLabel(l); k != "" {
			want[k] = true
		}
	}
	for _, p := range d.Pairs {
		if want[NormalizeLabel(p.Key)] {
			return p, true
		}
	}
	return Pair{}, false
}

var labelNoise = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeLabel lower-cases a label and collapses punctuation so that
// "Course Title:", "course_title" and "COURSE TITLE" compare equal.
func NormalizeLabel(s string) string {
	s = labelNoise.ReplaceAllString(strings.ToLower(s), " ")
	return strings.TrimSpace(s)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode extracts text from a document according to its media kind. Empty
// content yields an empty Decoded without error.
func Decode(doc types.SourceDocument) (*Decoded, error) {
	out := &Decoded{DocumentID: doc.ID, Kind: doc.Kind}
	if len(bytes.TrimSpace(doc.Content)) == 0 {
		return out, nil
	}

	var err error
	switch doc.Kind {
	case types.MediaPlainText:
		out.Text = CleanText(plainText(doc.Content))
	case types.MediaHTML:
		out.Text, err = htmlText(doc)
	case types.MediaWordProcessed:
		var pairs []Pair
		out.Text, pairs, err = decodeDocx(doc.Content)
		out.Pairs = append(out.Pairs, pairs...)
	case types.MediaSpreadsheet:
		var pairs []Pair
		out.Text, pairs, err = decodeXlsx(doc.Content)
		out.Pairs = append(out.Pairs, pairs...)
	default:
		return nil, &DecodeError{DocumentID: doc.ID, Message: fmt.Sprintf("unsupported media kind %q", doc.Kind)}
	}
	if err != nil {
		return nil, &DecodeError{DocumentID: doc.ID, Message: fmt.Sprintf("failed to read %s content", doc.Kind), Cause: err}
	}

	out.Pairs = append(out.Pairs, labelLines(out.Text)...)
	return out, nil
}

func plainText(content []byte) string {
	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "")
	}
	return string(content)
}

func htmlText(doc types.SourceDocument) (string, error) {
	platform := fetch.DetectPlatform(doc.URL)
	text, err := fetch.ExtractMainText(plainText(doc.Content), fetch.PlatformContentSelectors(platform), fetch.PlatformNoiseSelectors(platform)...)
	if err != nil {
		return "", err
	}
	return CleanText(text), nil
}

var labelLine = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9 /&().'-]{0,48}?)\s*[:：]\s*(\S.*)$`)

// labelLines finds "Label: value" lines.
func labelLines(text string) []Pair {
	var pairs []Pair
	for i, line := range strings.Split(text, "\n") {
		m := labelLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		pairs = append(pairs, Pair{
			Key:      strings.TrimSpace(m[1]),
			Value:    strings.TrimSpace(m[2]),
			Location: fmt.Sprintf("line %d", i+1),
		})
	}
	return pairs
}

// rowPair turns a table row into a pair when its first non-empty cell can be a label.
func rowPair(cells []string, location string) (Pair, bool) {
	var filled []string
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			filled = append(filled, c)
		}
	}
	if len(filled) < 2 {
		return Pair{}, false
	}
	key := strings.TrimRight(filled[0], ": ")
	if key == "" || len(key) > 80 {
		return Pair{}, false
	}
	return Pair{
		Key:      key,
		Value:    strings.Join(filled[1:], "; "),
		Location: location,
		Cell:     true,
	}, true
}

func joinCells(cells []string) string {
	var filled []string
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			filled = append(filled, c)
		}
	}
	return strings.Join(filled, " | ")
}

package ingestion

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// maxPartBytes bounds a single decompressed OOXML part.
const maxPartBytes = 50 << 20

func openZipPart(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, name) {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", name, err)
			}
			return struct {
				io.Reader
				io.Closer
			}{io.LimitReader(rc, maxPartBytes), rc}, nil
		}
	}
	return nil, fmt.Errorf("missing part %s", name)
}

// decodeDocx walks word/document.xml. Paragraphs become lines; table rows
// become "cell | cell" lines and label/value pairs.
func decodeDocx(data []byte) (string, []Pair, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("not a docx archive: %w", err)
	}
	rc, err := openZipPart(zr, docxBody)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = rc.Close() }()

	var (
		out    strings.Builder
		para   strings.Builder
		inText bool
		cells  []*strings.Builder
		rows   [][]string
		pairs  []Pair
		rowNum int
	)

	write := func(line string) {
		if line == "" {
			return
		}
		if len(cells) > 0 {
			top := cells[len(cells)-1]
			if top.Len() > 0 {
				top.WriteByte(' ')
			}
			top.WriteString(line)
			return
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("parse %s: %w", docxBody, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para.Reset()
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte(' ')
			case "tr":
				rows = append(rows, nil)
			case "tc":
				cells = append(cells, &strings.Builder{})
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				write(strings.TrimSpace(para.String()))
				para.Reset()
			case "tc":
				if len(cells) == 0 {
					continue
				}
				text := strings.TrimSpace(cells[len(cells)-1].String())
				cells = cells[:len(cells)-1]
				if len(rows) > 0 {
					rows[len(rows)-1] = append(rows[len(rows)-1], text)
				}
			case "tr":
				if len(rows) == 0 {
					continue
				}
				row := rows[len(rows)-1]
				rows = rows[:len(rows)-1]
				rowNum++
				if p, ok := rowPair(row, fmt.Sprintf("table row %d", rowNum)); ok {
					pairs = append(pairs, p)
				}
				write(joinCells(row))
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}

	return CleanText(out.String()), pairs, nil
}

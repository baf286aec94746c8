package ingestion

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/jonathan/courseware-agent/internal/types"
)

// ReadTable returns the rows of a tabular document: the first worksheet of a
// spreadsheet, or comma-separated values for anything else. Blank rows are
// skipped.
func ReadTable(doc types.SourceDocument) ([][]string, error) {
	var (
		rows [][]string
		err  error
	)
	switch doc.Kind {
	case types.MediaSpreadsheet:
		rows, err = firstSheetRows(doc.Content)
	case types.MediaPlainText:
		rows, err = csvRows(doc.Content)
	default:
		return nil, &DecodeError{DocumentID: doc.ID, Message: fmt.Sprintf("%s is not tabular", doc.Kind)}
	}
	if err != nil {
		return nil, &DecodeError{DocumentID: doc.ID, Message: "failed to read table", Cause: err}
	}
	return rows, nil
}

func firstSheetRows(data []byte) ([][]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("not an xlsx archive: %w", err)
	}
	shared, err := readSharedStrings(zr)
	if err != nil {
		return nil, err
	}
	sheets, err := listSheets(zr)
	if err != nil {
		return nil, err
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no worksheets")
	}

	var ws xlsxSheetXML
	if err := readXMLPart(zr, sheets[0].part, &ws); err != nil {
		return nil, err
	}
	var rows [][]string
	for _, row := range ws.Rows {
		cells := rowValues(row, shared)
		if joinCells(cells) == "" {
			continue
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func csvRows(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		if joinCells(rec) == "" {
			continue
		}
		rows = append(rows, rec)
	}
}

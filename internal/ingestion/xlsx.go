package ingestion

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

const (
	xlsxWorkbook      = "xl/workbook.xml"
	xlsxWorkbookRels  = "xl/_rels/workbook.xml.rels"
	xlsxSharedStrings = "xl/sharedStrings.xml"
)

type xlsxSheetRef struct {
	Name string `xml:"name,attr"`
	RID  string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
}

type xlsxWorkbookXML struct {
	Sheets []xlsxSheetRef `xml:"sheets>sheet"`
}

type xlsxRelsXML struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

type xlsxRun struct {
	T string `xml:"t"`
}

type xlsxStringItem struct {
	T    string    `xml:"t"`
	Runs []xlsxRun `xml:"r"`
}

func (si xlsxStringItem) text() string {
	if len(si.Runs) == 0 {
		return si.T
	}
	var b strings.Builder
	for _, r := range si.Runs {
		b.WriteString(r.T)
	}
	return b.String()
}

type xlsxSharedStringsXML struct {
	Items []xlsxStringItem `xml:"si"`
}

type xlsxCell struct {
	Ref    string         `xml:"r,attr"`
	Type   string         `xml:"t,attr"`
	Value  string         `xml:"v"`
	Inline xlsxStringItem `xml:"is"`
}

type xlsxRow struct {
	Num   int        `xml:"r,attr"`
	Cells []xlsxCell `xml:"c"`
}

type xlsxSheetXML struct {
	Rows []xlsxRow `xml:"sheetData>row"`
}

type xlsxSheet struct {
	name string
	part string
}

// decodeXlsx renders each worksheet as "## Sheet: name" followed by one
// "cell | cell" line per row; rows with a label cell become pairs.
func decodeXlsx(data []byte) (string, []Pair, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("not an xlsx archive: %w", err)
	}

	shared, err := readSharedStrings(zr)
	if err != nil {
		return "", nil, err
	}
	sheets, err := listSheets(zr)
	if err != nil {
		return "", nil, err
	}

	var (
		out   strings.Builder
		pairs []Pair
	)
	for _, sheet := range sheets {
		var ws xlsxSheetXML
		if err := readXMLPart(zr, sheet.part, &ws); err != nil {
			return "", nil, err
		}
		out.WriteString("## Sheet: " + sheet.name + "\n")
		for i, row := range ws.Rows {
			cells := rowValues(row, shared)
			line := joinCells(cells)
			if line == "" {
				continue
			}
			rowNum := row.Num
			if rowNum == 0 {
				rowNum = i + 1
			}
			if p, ok := rowPair(cells, fmt.Sprintf("%s!%d", sheet.name, rowNum)); ok {
				pairs = append(pairs, p)
			}
			out.WriteString(line + "\n")
		}
		out.WriteString("\n")
	}

	return CleanText(out.String()), pairs, nil
}

func readXMLPart(zr *zip.Reader, name string, v any) error {
	rc, err := openZipPart(zr, name)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func hasPart(zr *zip.Reader, name string) bool {
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

func readSharedStrings(zr *zip.Reader) ([]string, error) {
	if !hasPart(zr, xlsxSharedStrings) {
		return nil, nil
	}
	var sst xlsxSharedStringsXML
	if err := readXMLPart(zr, xlsxSharedStrings, &sst); err != nil {
		return nil, err
	}
	out := make([]string, len(sst.Items))
	for i, si := range sst.Items {
		out[i] = si.text()
	}
	return out, nil
}

// listSheets resolves sheets in workbook order. Workbooks without
// relationship data fall back to the worksheet parts sorted by name.
func listSheets(zr *zip.Reader) ([]xlsxSheet, error) {
	var wb xlsxWorkbookXML
	if err := readXMLPart(zr, xlsxWorkbook, &wb); err != nil {
		return nil, err
	}

	targets := make(map[string]string)
	if hasPart(zr, xlsxWorkbookRels) {
		var rels xlsxRelsXML
		if err := readXMLPart(zr, xlsxWorkbookRels, &rels); err != nil {
			return nil, err
		}
		for _, r := range rels.Relationships {
			target := r.Target
			if strings.HasPrefix(target, "/") {
				target = strings.TrimPrefix(target, "/")
			} else {
				target = path.Join("xl", target)
			}
			targets[r.ID] = target
		}
	}

	var sheets []xlsxSheet
	for _, ref := range wb.Sheets {
		if part, ok := targets[ref.RID]; ok && hasPart(zr, part) {
			sheets = append(sheets, xlsxSheet{name: ref.Name, part: part})
		}
	}
	if len(sheets) > 0 {
		return sheets, nil
	}

	var parts []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/") && strings.HasSuffix(f.Name, ".xml") {
			parts = append(parts, f.Name)
		}
	}
	sort.Strings(parts)
	for i, p := range parts {
		name := strings.TrimSuffix(path.Base(p), ".xml")
		if i < len(wb.Sheets) {
			name = wb.Sheets[i].Name
		}
		sheets = append(sheets, xlsxSheet{name: name, part: p})
	}
	return sheets, nil
}

// rowValues places each cell at its column so blank cells keep their position.
func rowValues(row xlsxRow, shared []string) []string {
	var cells []string
	for i, c := range row.Cells {
		col := columnIndex(c.Ref)
		if col < 0 {
			col = i
		}
		for len(cells) <= col {
			cells = append(cells, "")
		}
		cells[col] = cellValue(c, shared)
	}
	return cells
}

func cellValue(c xlsxCell, shared []string) string {
	switch c.Type {
	case "s":
		idx, err := strconv.Atoi(strings.TrimSpace(c.Value))
		if err != nil || idx < 0 || idx >= len(shared) {
			return ""
		}
		return shared[idx]
	case "inlineStr":
		return c.Inline.text()
	case "b":
		if c.Value == "1" {
			return "TRUE"
		}
		return "FALSE"
	default:
		return c.Value
	}
}

// columnIndex converts the letters of a cell reference ("C7") to a zero-based column.
func columnIndex(ref string) int {
	col := 0
	n := 0
	for _, r := range ref {
		if r >= 'A' && r <= 'Z' {
			col = col*26 + int(r-'A'+1)
			n++
			continue
		}
		if r >= 'a' && r <= 'z' {
			col = col*26 + int(r-'a'+1)
			n++
			continue
		}
		break
	}
	if n == 0 || col > 16384 {
		return -1
	}
	return col - 1
}

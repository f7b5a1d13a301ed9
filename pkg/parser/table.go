package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/lhyang/ynab-butler/pkg/textenc"
)

// Table is the decoded, row-oriented form of an export file. Rows keep
// the source ordering, including any metadata lines above the header;
// platform parsers locate the header themselves.
type Table struct {
	// Source is the file name the rows were loaded from.
	Source string
	Rows   [][]string
}

// Load decodes raw file bytes into a Table. Spreadsheet files are read
// through their first sheet; anything else is treated as delimited text
// and run through charset detection first.
func Load(name string, data []byte) (*Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xls":
		return loadSheet(name, data)
	default:
		return loadCSV(name, data)
	}
}

func loadSheet(name string, data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", name, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s of %s: %w", sheet, name, err)
	}
	return &Table{Source: name, Rows: rows}, nil
}

func loadCSV(name string, data []byte) (*Table, error) {
	text, _, err := textenc.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return &Table{Source: name, Rows: rows}, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

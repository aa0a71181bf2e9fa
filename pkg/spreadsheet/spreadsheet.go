// Package spreadsheet reads uploaded tabular disclosure files into an
// ordered header list plus rows keyed by header text. XLSX and CSV
// sources produce identical output for identical cell content.
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/civiclens/clover/pkg/fingerprint"
)

// Table is a parsed sheet: its headers in source column order and its
// data rows in source order.
type Table struct {
	Headers []string
	Rows    []Row
}

// Row is one data row. Number is the 1-based row number within the
// source sheet, counting the header row, so operators can find the
// row in the file they uploaded.
type Row struct {
	Number int
	Cells  map[string]string
}

// Get returns the raw cell value under a header, or "" when absent.
func (r Row) Get(header string) string {
	return r.Cells[header]
}

// Fingerprint hashes the table's cell content in header order. Two
// sources that parse to the same headers and cells share a
// fingerprint regardless of the file format they arrived in.
func (t *Table) Fingerprint() string {
	rows := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		cells := make([]string, len(t.Headers))
		for i, h := range t.Headers {
			cells[i] = row.Get(h)
		}
		rows = append(rows, cells)
	}
	return fingerprint.FromRows(t.Headers, rows)
}

// Read parses raw file bytes, choosing the format from the file name
// extension. ".xlsx" and ".xlsm" are read as workbooks, everything
// else as CSV.
func Read(filename string, data []byte) (*Table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(bytes.NewReader(data))
	default:
		return ReadCSV(bytes.NewReader(data))
	}
}

// ReadCSV reads a comma-separated source. Short rows are padded so
// every header resolves to a cell. Row numbers refer to lines in the
// source file, so blank lines the csv reader skips still count.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []numberedRecord
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		records = append(records, numberedRecord{number: line, cells: record})
	}

	return fromRecords(records)
}

// ReadXLSX reads the first sheet of a workbook.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	records := make([]numberedRecord, 0, len(rows))
	for i, cells := range rows {
		records = append(records, numberedRecord{number: i + 1, cells: cells})
	}

	return fromRecords(records)
}

type numberedRecord struct {
	number int
	cells  []string
}

func fromRecords(records []numberedRecord) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("source contains no rows")
	}

	headers := make([]string, 0, len(records[0].cells))
	for _, h := range records[0].cells {
		headers = append(headers, strings.TrimSpace(h))
	}
	if !hasContent(headers) {
		return nil, fmt.Errorf("source has an empty header row")
	}

	table := &Table{Headers: headers}
	for _, record := range records[1:] {
		if !hasContent(record.cells) {
			continue
		}

		cells := make(map[string]string, len(headers))
		for col, header := range headers {
			var value string
			if col < len(record.cells) {
				value = strings.TrimSpace(record.cells[col])
			}
			// First column wins when a header name repeats.
			if _, exists := cells[header]; !exists {
				cells[header] = value
			}
		}
		table.Rows = append(table.Rows, Row{Number: record.number, Cells: cells})
	}

	return table, nil
}

func hasContent(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return true
		}
	}
	return false
}

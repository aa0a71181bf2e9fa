// Package validation applies a resolved header mapping to raw rows,
// coercing cell values and enforcing required fields. Validation is
// pure: one row plus one mapping in, a normalized row or a row error
// out.
package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/civiclens/clover/pkg/fields"
	"github.com/civiclens/clover/pkg/mapping"
	"github.com/civiclens/clover/pkg/normalizers"
	"github.com/civiclens/clover/pkg/spreadsheet"
)

// Date layouts tried in order when coercing date cells.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"2006/01/02",
	time.RFC3339,
	"Jan 2, 2006",
	"January 2, 2006",
}

// Row is a validated, normalized row keyed by canonical field keys.
type Row struct {
	// SourceRow is the 1-based row number in the uploaded file.
	SourceRow int
	strings   map[string]string
	amounts   map[string]decimal.Decimal
	dates     map[string]time.Time
}

// String returns the normalized string value for a key, or "".
func (r *Row) String(key string) string {
	return r.strings[key]
}

// Amount returns the parsed decimal for an amount-typed key.
func (r *Row) Amount(key string) (decimal.Decimal, bool) {
	d, ok := r.amounts[key]
	return d, ok
}

// Date returns the parsed date for a date-typed key.
func (r *Row) Date(key string) (time.Time, bool) {
	d, ok := r.dates[key]
	return d, ok
}

// RowError reports a single invalid row: its position in the source
// file and the label of every required field that was missing or
// failed to normalize, not just the first.
type RowError struct {
	SourceRow     int      `json:"source_row"`
	MissingLabels []string `json:"missing_labels"`
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d is missing required fields: %s", e.SourceRow, strings.Join(e.MissingLabels, ", "))
}

// Result partitions a batch into importable rows and surfaced
// failures. Invalid rows never block the valid ones, and are never
// silently dropped.
type Result struct {
	Valid   []*Row
	Invalid []*RowError
}

// Validator normalizes rows against a field definition set.
type Validator struct {
	fields *fields.Set
}

func NewValidator(set *fields.Set) *Validator {
	return &Validator{fields: set}
}

// ValidateRow normalizes one raw row under the given mapping. The
// required-field check runs after normalization, so an amount cell
// holding "N/A" counts as missing even though the cell is non-empty.
func (v *Validator) ValidateRow(m mapping.Mapping, raw spreadsheet.Row) (*Row, *RowError) {
	row := &Row{
		SourceRow: raw.Number,
		strings:   make(map[string]string),
		amounts:   make(map[string]decimal.Decimal),
		dates:     make(map[string]time.Time),
	}

	var missing []string
	for _, def := range v.fields.Fields {
		var cell string
		if header, ok := m[def.Key]; ok {
			cell = strings.TrimSpace(raw.Get(header))
		}

		present := false
		switch def.Type {
		case fields.TypeAmount:
			if d, ok := parseAmount(cell); ok {
				row.amounts[def.Key] = d
				row.strings[def.Key] = d.String()
				present = true
			}
		case fields.TypeDate:
			if ts, ok := parseDate(cell); ok {
				row.dates[def.Key] = ts
				row.strings[def.Key] = ts.Format("2006-01-02")
				present = true
			}
		default:
			if cell != "" {
				row.strings[def.Key] = cell
				present = true
			}
		}

		if def.Required && !present {
			missing = append(missing, def.Label)
		}
	}

	if len(missing) > 0 {
		return nil, &RowError{SourceRow: raw.Number, MissingLabels: missing}
	}
	return row, nil
}

// ValidateAll runs ValidateRow over a parsed table.
func (v *Validator) ValidateAll(m mapping.Mapping, table *spreadsheet.Table) *Result {
	result := &Result{}
	for _, raw := range table.Rows {
		row, rowErr := v.ValidateRow(m, raw)
		if rowErr != nil {
			result.Invalid = append(result.Invalid, rowErr)
			continue
		}
		result.Valid = append(result.Valid, row)
	}
	return result
}

// parseAmount strips everything except digits, "." and "-", then
// parses the remainder as a decimal. Unparseable cells are missing.
func parseAmount(cell string) (decimal.Decimal, bool) {
	normalized := normalizers.NormalizeAmount(cell)
	if normalized == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func parseDate(cell string) (time.Time, bool) {
	if cell == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, cell); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

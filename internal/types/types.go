// =============================================================================
// Sheet Import - Shared Types
// =============================================================================
//
// This package contains the tabular types shared by the sheet readers and the
// import engine, kept here to avoid import cycles. Types defined here are used by:
//   - xlsxparser
//   - csvparser
//   - binding
//   - validation
//   - reconcile
//   - importer
//
// =============================================================================

package types

import "strings"

// =============================================================================
// TABLE TYPES
// =============================================================================

// Table is an ordered, column-indexed grid of literal cell values read from one
// worksheet or CSV file. The header row(s) are not part of Rows.
type Table struct {
	// Source is the file the table was read from (for messages only).
	Source string

	// Sheet is the worksheet name, empty for CSV input.
	Sheet string

	// Header holds the cells of the last header row, if any.
	Header []string

	// Rows holds the data rows in file order.
	Rows []Row
}

// Row is a single data row.
type Row struct {
	// Number is the 1-based row number in the source file.
	// Useful for error reporting.
	Number int

	// Cells contains the raw cell values. Trailing empty cells may be missing.
	Cells []string
}

// Cell returns the value at the 0-based column index, or "" when the row is
// shorter than the index.
func (r Row) Cell(index int) string {
	if index < 0 || index >= len(r.Cells) {
		return ""
	}
	return r.Cells[index]
}

// IsEmpty reports whether every cell in the row is blank.
func (r Row) IsEmpty() bool {
	return IsBlankRow(r.Cells)
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// IsBlankRow checks if a row contains only empty cells.
func IsBlankRow(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// NewTable builds a table from raw rows, dropping headerRows leading rows and any
// blank rows. Row numbers are 1-based positions in raw.
func NewTable(source, sheet string, raw [][]string, headerRows int) *Table {
	t := &Table{Source: source, Sheet: sheet}

	if headerRows < 0 {
		headerRows = 0
	}
	if headerRows > len(raw) {
		headerRows = len(raw)
	}
	if headerRows > 0 {
		t.Header = raw[headerRows-1]
	}

	for i := headerRows; i < len(raw); i++ {
		if IsBlankRow(raw[i]) {
			continue
		}
		t.Rows = append(t.Rows, Row{Number: i + 1, Cells: raw[i]})
	}

	return t
}

// =============================================================================
// Sheet Import - XLSX Workbook Reader
// =============================================================================
//
// This module reads the two worksheets an import needs out of XLSX workbooks:
//   - the Map sheet, one row per bound column:
//
//   | Column A   | Column B   | Column C      | Column D        |
//   |------------|------------|---------------|-----------------|
//   | Name       | Column     | Category      | Flag            |
//   | Project    | A          |               | Yes             |
//   | Region     | C          | Region        | SubItemKey      |
//   | Amount     | D          | Budget Amount |                 |
//
//   - the Data sheet, one row per record to import, addressed by column
//     position (the Map sheet's Column cell), not by header text.
//
// Sheets are located by case-insensitive name. The first row of each sheet is
// treated as a header and blank rows are skipped.
//
// =============================================================================

package xlsxparser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ginjaninja78/sheet-import/internal/types"
	"github.com/xuri/excelize/v2"
)

// ErrSheetNotFound is returned when the requested worksheet does not exist.
var ErrSheetNotFound = errors.New("worksheet not found")

// DefaultHeaderRows is the number of header rows skipped when none is configured.
const DefaultHeaderRows = 1

// =============================================================================
// READER FUNCTIONS
// =============================================================================

// ReadSheet opens an XLSX workbook and returns the named worksheet as a table.
//
// PARAMETERS:
//   - path: The path to the XLSX workbook.
//   - sheet: The worksheet name (matched case-insensitively).
//   - headerRows: The number of leading rows to treat as header.
//
// RETURNS:
//   - The worksheet contents with header and blank rows removed.
//   - ErrSheetNotFound (wrapped) if the workbook has no such sheet.
func ReadSheet(path, sheet string, headerRows int) (*types.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	return readSheet(f, path, sheet, headerRows)
}

// ReadSheets reads several worksheets from one workbook, opening it only once.
// The result is keyed by the requested sheet names.
func ReadSheets(path string, sheets []string, headerRows int) (map[string]*types.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	tables := make(map[string]*types.Table, len(sheets))
	for _, sheet := range sheets {
		table, err := readSheet(f, path, sheet, headerRows)
		if err != nil {
			return nil, err
		}
		tables[sheet] = table
	}

	return tables, nil
}

// readSheet reads one worksheet from an open workbook.
func readSheet(f *excelize.File, path, sheet string, headerRows int) (*types.Table, error) {
	names := f.GetSheetList()
	name, ok := findSheet(names, sheet)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s (sheets: %s)", ErrSheetNotFound, sheet, path, strings.Join(names, ", "))
	}

	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", name, err)
	}

	return types.NewTable(path, name, rows, headerRows), nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// findSheet returns the actual sheet name matching want, ignoring case and
// surrounding whitespace.
func findSheet(names []string, want string) (string, bool) {
	want = strings.TrimSpace(want)
	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), want) {
			return name, true
		}
	}
	return "", false
}

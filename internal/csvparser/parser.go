// =============================================================================
// Sheet Import - CSV Data Reader
// =============================================================================
//
// This module reads a data table from a CSV export instead of an XLSX Data
// sheet. The resulting table is positional exactly like a worksheet: the Map
// sheet's column references address CSV fields by position.
//
// FEATURES:
//   - Configurable delimiter (comma, pipe, tab, semicolon)
//   - Configurable number of header rows
//   - Variable field counts per record
//   - Cell values are kept verbatim (no trimming), because change detection
//     compares stored and incoming values exactly
//
// =============================================================================

package csvparser

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/ginjaninja78/sheet-import/internal/types"
)

// =============================================================================
// SETTINGS
// =============================================================================

// Settings contains settings for parsing CSV files.
type Settings struct {
	// Delimiter is the character used to separate fields in the CSV.
	// Common values: "," (comma), "|" (pipe), "\t" or "tab" (tab)
	// Default: ","
	Delimiter string

	// HeaderRows is the number of header rows in the CSV file.
	// Default: 1
	HeaderRows int
}

// DefaultSettings returns comma-delimited settings with one header row.
func DefaultSettings() Settings {
	return Settings{Delimiter: ",", HeaderRows: 1}
}

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads a CSV file and returns its data rows as a table.
//
// PARAMETERS:
//   - filePath: The path to the CSV file.
//   - settings: The CSV parsing settings.
//
// RETURNS:
//   - The parsed table with header and blank rows removed.
//   - An error if the file cannot be read or parsed.
func Parse(filePath string, settings Settings) (*types.Table, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	table, err := ParseReader(bufio.NewReader(file), settings)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV %s: %w", filePath, err)
	}
	table.Source = filePath

	return table, nil
}

// ParseReader reads CSV records from r.
func ParseReader(r io.Reader, settings Settings) (*types.Table, error) {
	reader := csv.NewReader(r)
	configureReader(reader, settings)

	allRows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	return types.NewTable("", "", allRows, settings.HeaderRows), nil
}

// configureReader configures the CSV reader based on the settings.
func configureReader(reader *csv.Reader, settings Settings) {
	switch settings.Delimiter {
	case "\\t", "\t", "tab", "TAB":
		reader.Comma = '\t'
	case "|", "pipe", "PIPE":
		reader.Comma = '|'
	case ";", "semicolon":
		reader.Comma = ';'
	default:
		if len(settings.Delimiter) > 0 {
			reader.Comma = rune(settings.Delimiter[0])
		} else {
			reader.Comma = ','
		}
	}

	// Allow variable number of fields per row.
	reader.FieldsPerRecord = -1

	// Exports from legacy reporting tools are not always strict about quoting.
	reader.LazyQuotes = true
}

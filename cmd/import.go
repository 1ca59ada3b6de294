// =============================================================================
// Sheet Import - Import Command
// =============================================================================
//
// This file defines the 'import' command, the main command of the tool.
//
// COMMAND USAGE:
//   sheetimport import --data <file> [flags]
//
// IMPORT PIPELINE:
//   1. Load and validate configuration
//   2. Read the Map and Data tables (XLSX sheets or a CSV data file)
//   3. Open the record store
//   4. Run the importer (schema validation, then row reconciliation)
//   5. Write reports and persist the file store in commit mode
//   6. Print a summary
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/sheet-import/internal/config"
	"github.com/ginjaninja78/sheet-import/internal/csvparser"
	"github.com/ginjaninja78/sheet-import/internal/importer"
	"github.com/ginjaninja78/sheet-import/internal/types"
	"github.com/ginjaninja78/sheet-import/internal/validation"
	"github.com/ginjaninja78/sheet-import/internal/xlsxparser"
	"github.com/ginjaninja78/sheet-import/pkg/report"
)

// =============================================================================
// IMPORT COMMAND DEFINITION
// =============================================================================

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Reconcile spreadsheet rows into the record store",
	Long: `The import command reads the Map and Data sheets and reconciles every data
row into the record store.

Without --commit the run is a check: every lookup is made and every change is
described in the log as a "would" event, but nothing is written.

Rows are processed in order, one at a time. Schema problems (unknown
categories, values outside a value list, an unknown sub-record type, a
missing identity or sub-record key column) stop the run before any write.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	flags := importCmd.Flags()

	// Input
	flags.String("data", "", "XLSX workbook or CSV file holding the Data rows")
	flags.String("data-sheet", "Data", "Worksheet holding the Data rows")
	flags.String("map", "", "Workbook holding the Map sheet (default: the data workbook)")
	flags.String("map-sheet", "Map", "Worksheet holding the column bindings")
	flags.Int("header-rows", 1, "Number of header rows on both sheets")
	flags.String("delimiter", ",", "CSV delimiter: \",\", \"|\", \";\" or \"tab\"")

	// Behaviour
	flags.Bool("commit", false, "Perform the import (default is a check run)")
	flags.Bool("new-items", false, "Create items that do not exist yet (name identity only)")
	flags.String("container", importer.DefaultContainer, "Item that new items are created under")
	flags.String("sub-record-type", "", "Import rows as sub-records of this type")
	flags.Bool("check-status", true, "Apply the status column")

	// Output
	flags.String("report-dir", "", "Directory for the issue log, run summary and row log")
}

// =============================================================================
// MAIN IMPORT FUNCTION
// =============================================================================

func runImport(cmd *cobra.Command) error {
	startTime := time.Now()
	out := cmd.OutOrStdout()

	// =========================================================================
	// STEP 1: LOAD CONFIGURATION
	// =========================================================================

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateImport(); err != nil {
		return err
	}
	log := newLogger(cfg)

	// =========================================================================
	// STEP 2: READ TABLES
	// =========================================================================

	mapping, data, err := readTables(cfg)
	if err != nil {
		return err
	}
	log.Debug().
		Str("data_file", cfg.DataFile).
		Str("map_file", cfg.MapFile).
		Int("map_rows", mapping.Len()).
		Int("data_rows", data.Len()).
		Msg("read input tables")

	// =========================================================================
	// STEP 3: OPEN STORE
	// =========================================================================

	store, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}

	// =========================================================================
	// STEP 4: RUN IMPORT
	// =========================================================================

	result, runErr := importer.New(store, cfg.ImporterOptions(), log).Run(cmd.Context(), mapping, data)

	// Rows committed before a failure stay committed, so the file store is
	// saved whenever the run was in commit mode.
	if err := store.Close(cfg.Commit); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to save record store: %w", err))
	}

	// =========================================================================
	// STEP 5: REPORTS
	// =========================================================================

	if cfg.ReportDir != "" {
		info := report.RunInfo{
			StartTime:     startTime,
			DataFile:      cfg.DataFile,
			MapFile:       cfg.MapFile,
			SubRecordType: cfg.SubRecordType,
			Store:         store.Driver,
		}
		if err := writeReports(result, info, cfg.ReportDir, log); err != nil {
			return errors.Join(runErr, err)
		}
	}

	// =========================================================================
	// STEP 6: PRINT SUMMARY
	// =========================================================================

	printSummary(out, result)
	return runErr
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// readTables reads the Map and Data tables named by cfg.
func readTables(cfg *config.Config) (mapping, data *types.Table, err error) {
	csvSettings := csvparser.Settings{Delimiter: cfg.CSV.Delimiter, HeaderRows: cfg.HeaderRows}

	if !cfg.IsCSV() && sameFile(cfg.MapFile, cfg.DataFile) {
		tables, err := xlsxparser.ReadSheets(cfg.DataFile, []string{cfg.MapSheet, cfg.DataSheet}, cfg.HeaderRows)
		if err != nil {
			return nil, nil, err
		}
		return tables[cfg.MapSheet], tables[cfg.DataSheet], nil
	}

	if cfg.IsCSV() {
		data, err = csvparser.Parse(cfg.DataFile, csvSettings)
	} else {
		data, err = xlsxparser.ReadSheet(cfg.DataFile, cfg.DataSheet, cfg.HeaderRows)
	}
	if err != nil {
		return nil, nil, err
	}

	if isCSVPath(cfg.MapFile) {
		mapping, err = csvparser.Parse(cfg.MapFile, csvSettings)
	} else {
		mapping, err = xlsxparser.ReadSheet(cfg.MapFile, cfg.MapSheet, cfg.HeaderRows)
	}
	if err != nil {
		return nil, nil, err
	}
	return mapping, data, nil
}

// writeReports writes the issue log, run summary and row log.
func writeReports(result *importer.Result, info report.RunInfo, dir string, log zerolog.Logger) error {
	now := time.Now()

	paths := make([]string, 0, 3)
	path, err := report.WriteIssueLog(result.Issues, dir, now)
	if err != nil {
		return err
	}
	paths = append(paths, path)

	if path, err = report.WriteRunSummary(result, info, dir, now); err != nil {
		return err
	}
	paths = append(paths, path)

	if path, err = report.WriteRowLog(result, dir, now); err != nil {
		return err
	}
	paths = append(paths, path)

	for _, p := range paths {
		if p != "" {
			log.Info().Str("path", p).Msg("wrote report")
		}
	}
	return nil
}

// printSummary prints the run statistics.
func printSummary(out io.Writer, result *importer.Result) {
	s := result.Stats
	mode := "CHECK (nothing written; use --commit to apply)"
	if result.Commit {
		mode = "COMMIT"
	}

	fmt.Fprintln(out, "=== Sheet Import ===")
	fmt.Fprintf(out, "Mode:                %s\n", mode)

	if len(result.Issues) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, validation.FormatIssues(result.Issues))
	}

	fmt.Fprintf(out, "Rows:                %d\n", s.Rows)
	fmt.Fprintf(out, "Applied:             %d\n", s.RowsApplied)
	fmt.Fprintf(out, "Unchanged:           %d\n", s.RowsUnchanged)
	fmt.Fprintf(out, "Skipped:             %d\n", s.RowsSkipped)
	fmt.Fprintf(out, "Items created:       %d\n", s.ItemsCreated)
	fmt.Fprintf(out, "Status changes:      %d\n", s.StatusChanges)
	fmt.Fprintf(out, "Fields updated:      %d\n", s.FieldsUpdated)
	fmt.Fprintf(out, "Sub-records created: %d\n", s.SubRecordsCreated)
	fmt.Fprintf(out, "Sub-records updated: %d\n", s.SubRecordsUpdated)
	fmt.Fprintf(out, "Time elapsed:        %s\n", s.Duration)

	if result.Error != nil {
		fmt.Fprintf(out, "\nImport stopped: %v\n", result.Error)
	}
}

func sameFile(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

func isCSVPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".csv" || ext == ".txt"
}

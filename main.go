// =============================================================================
// Sheet Import - Main Entry Point
// =============================================================================
//
// This is the main entry point for the Sheet Import CLI. It delegates
// command execution to the cmd package.
//
// USAGE:
//   sheetimport import   - Reconcile Data sheet rows into the record store
//   sheetimport clear    - Empty a field on every imported item
//   sheetimport seed     - Load a YAML store snapshot into PostgreSQL
//   sheetimport version  - Display the application version
//
// ARCHITECTURE:
//   - cmd/                    : CLI command definitions (Cobra)
//   - internal/binding        : Map sheet parsing into column bindings
//   - internal/validation     : Schema validation before any write
//   - internal/reconcile      : Per-row item and sub-record reconciliation
//   - internal/importer       : The import run and the clear operation
//   - internal/store          : Record store backends (YAML file, PostgreSQL)
//   - internal/xlsxparser     : XLSX sheet reading
//   - internal/csvparser      : CSV data reading
//   - pkg/report              : Issue logs, run summaries and row logs
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/sheet-import/cmd"
)

func main() {
	cmd.Execute()
}

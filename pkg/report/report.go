// =============================================================================
// Sheet Import - Run Reports
// =============================================================================
//
// This module writes the files an import run leaves behind:
//   - an issue log when schema validation stops the run
//   - a plain-text run summary
//   - a YAML row log with the outcome of every processed row
//
// File names carry a timestamp and a short random suffix so repeated runs
// never overwrite each other, e.g.
//   import_summary_20260301_143022_a1b2c3d4.txt
//
// =============================================================================

package report

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/sheet-import/internal/importer"
	"github.com/ginjaninja78/sheet-import/internal/validation"
)

const rule = "================================================================================\n"

// RunInfo describes the inputs of a run for the summary header.
type RunInfo struct {
	StartTime     time.Time
	DataFile      string
	MapFile       string
	SubRecordType string
	Store         string
}

// =============================================================================
// FILE NAMING
// =============================================================================

// FileName builds a report file name.
//
// PARAMETERS:
//   - format: The name with placeholders:
//       {timestamp} - YYYYMMDD_HHMMSS
//       {date}      - YYYYMMDD
//       {id}        - the first eight characters of a random UUID
//       {mode}      - "commit" or "check", from params
//   - params: Extra placeholder values, keyed without braces.
//   - now: The time used for {timestamp} and {date}.
//
// RETURNS:
//   - The file name with every known placeholder replaced.
func FileName(format string, params map[string]string, now time.Time) string {
	replacements := map[string]string{
		"{timestamp}": now.Format("20060102_150405"),
		"{date}":      now.Format("20060102"),
		"{id}":        uuid.NewString()[:8],
	}
	for key, value := range params {
		replacements["{"+key+"}"] = value
	}

	result := format
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}
	return result
}

// =============================================================================
// ISSUE LOG
// =============================================================================

// WriteIssueLog writes validation issues to a text file in dir.
//
// RETURNS:
//   - The path of the log, or "" when there are no issues.
//   - An error if the file cannot be written.
func WriteIssueLog(issues []validation.Issue, dir string, now time.Time) (string, error) {
	if len(issues) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, FileName("validation_issues_{timestamp}_{id}.txt", nil, now))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create issue log: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "Sheet Import - Validation Issues\nGenerated: %s\nTotal Issues: %d\n%s\n",
		now.Format("2006-01-02 15:04:05"), len(issues), rule)

	for i, issue := range issues {
		fmt.Fprintf(w, "Issue #%d\n  Kind:    %s\n  Message: %s\n", i+1, issue.Kind, issue.Message)
		if issue.Field != "" {
			fmt.Fprintf(w, "  Field:   %s\n", issue.Field)
		}
		if issue.List != "" {
			fmt.Fprintf(w, "  List:    %s\n", issue.List)
		}
		if issue.Value != "" {
			fmt.Fprintf(w, "  Value:   %s\n", issue.Value)
		}
		if issue.Row > 0 {
			fmt.Fprintf(w, "  Row:     %d\n", issue.Row)
		}
		w.WriteString("\n")
	}
	w.WriteString(rule + "End of Issue Log\n")

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush issue log: %w", err)
	}
	return path, nil
}

// =============================================================================
// RUN SUMMARY
// =============================================================================

// WriteRunSummary writes a plain-text summary of an import run to dir.
func WriteRunSummary(result *importer.Result, info RunInfo, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, FileName("import_summary_{mode}_{timestamp}_{id}.txt",
		map[string]string{"mode": mode(result.Commit)}, now))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	s := result.Stats
	outcome := "SUCCESS"
	if !result.Success {
		outcome = "FAILED"
	}

	fmt.Fprintf(w, "Sheet Import - Run Summary\n%s\n", rule)
	fmt.Fprintf(w, "Run Information:\n"+
		"  Start Time:      %s\n"+
		"  Duration:        %s\n"+
		"  Mode:            %s\n"+
		"  Outcome:         %s\n"+
		"  Data File:       %s\n"+
		"  Map File:        %s\n"+
		"  Store:           %s\n",
		info.StartTime.Format("2006-01-02 15:04:05"), s.Duration, mode(result.Commit), outcome,
		info.DataFile, info.MapFile, info.Store)
	if info.SubRecordType != "" {
		fmt.Fprintf(w, "  Sub-record Type: %s\n", info.SubRecordType)
	}
	if result.Error != nil {
		fmt.Fprintf(w, "  Error:           %s\n", result.Error)
	}

	fmt.Fprintf(w, "\nStatistics:\n"+
		"  Rows:                %d\n"+
		"  Applied:             %d\n"+
		"  Unchanged:           %d\n"+
		"  Skipped:             %d\n"+
		"  Items Created:       %d\n"+
		"  Status Changes:      %d\n"+
		"  Fields Updated:      %d\n"+
		"  Field Failures:      %d\n"+
		"  Sub-records Created: %d\n"+
		"  Sub-records Updated: %d\n"+
		"  Sync Failures:       %d\n"+
		"  Validation Issues:   %d\n\n",
		s.Rows, s.RowsApplied, s.RowsUnchanged, s.RowsSkipped,
		s.ItemsCreated, s.StatusChanges, s.FieldsUpdated, s.FieldFailures,
		s.SubRecordsCreated, s.SubRecordsUpdated, s.SyncFailures, len(result.Issues))

	var skipped []string
	for _, row := range result.Rows {
		if row.Reason != "" {
			skipped = append(skipped, fmt.Sprintf("  Row %d (%s): %s\n", row.Row, row.Identity, row.Reason))
		}
	}
	if len(skipped) > 0 {
		w.WriteString("Skipped Rows:\n")
		w.WriteString("--------------------------------------------------------------------------------\n")
		for _, line := range skipped {
			w.WriteString(line)
		}
		w.WriteString("\n")
	}

	w.WriteString(rule + "End of Summary\n")
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}
	return path, nil
}

// =============================================================================
// ROW LOG
// =============================================================================

// RowEntry is the YAML form of one row outcome.
type RowEntry struct {
	Row           int      `yaml:"row"`
	Identity      string   `yaml:"identity"`
	ItemID        string   `yaml:"item_id,omitempty"`
	Disposition   string   `yaml:"disposition"`
	Reason        string   `yaml:"reason,omitempty"`
	ItemCreated   bool     `yaml:"item_created,omitempty"`
	StatusChanged bool     `yaml:"status_changed,omitempty"`
	FieldsUpdated int      `yaml:"fields_updated,omitempty"`
	FieldFailures int      `yaml:"field_failures,omitempty"`
	SubRecord     *SubInfo `yaml:"sub_record,omitempty"`
}

// SubInfo is the sub-record part of a RowEntry.
type SubInfo struct {
	Mode     string   `yaml:"mode"`
	Serial   int      `yaml:"serial"`
	Created  bool     `yaml:"created,omitempty"`
	Updated  bool     `yaml:"updated,omitempty"`
	Changed  []string `yaml:"changed,omitempty"`
	Failures int      `yaml:"failures,omitempty"`
}

// RowEntries converts row outcomes to their YAML form.
func RowEntries(result *importer.Result) []RowEntry {
	entries := make([]RowEntry, 0, len(result.Rows))
	for _, row := range result.Rows {
		e := RowEntry{
			Row:           row.Row,
			Identity:      row.Identity,
			ItemID:        row.ItemID,
			Disposition:   row.Disposition.String(),
			Reason:        row.Reason,
			ItemCreated:   row.ItemCreated,
			StatusChanged: row.StatusChanged,
			FieldsUpdated: row.FieldsUpdated,
			FieldFailures: row.FieldFailures,
		}
		if sub := row.SubRecords; sub.Mode != "" {
			e.SubRecord = &SubInfo{
				Mode:     string(sub.Mode),
				Serial:   sub.Serial,
				Created:  sub.Created,
				Updated:  sub.Updated,
				Changed:  sub.Changed,
				Failures: sub.Failures,
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// WriteRowLog writes every row outcome to a YAML file in dir. Nothing is
// written when no row was processed.
func WriteRowLog(result *importer.Result, dir string, now time.Time) (string, error) {
	if len(result.Rows) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(map[string]any{
		"generated": now.Format(time.RFC3339),
		"mode":      mode(result.Commit),
		"rows":      RowEntries(result),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode row log: %w", err)
	}

	path := filepath.Join(dir, FileName("import_rows_{mode}_{timestamp}_{id}.yaml",
		map[string]string{"mode": mode(result.Commit)}, now))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write row log: %w", err)
	}
	return path, nil
}

func mode(commit bool) string {
	if commit {
		return "commit"
	}
	return "check"
}

package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/sheet-import/internal/importer"
	"github.com/ginjaninja78/sheet-import/internal/reconcile"
	"github.com/ginjaninja78/sheet-import/internal/validation"
)

var now = time.Date(2026, 3, 1, 14, 30, 22, 0, time.UTC)

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestFileName(t *testing.T) {
	name := FileName("summary_{mode}_{timestamp}_{id}.txt", map[string]string{"mode": "check"}, now)
	assert.True(t, strings.HasPrefix(name, "summary_check_20260301_143022_"), name)
	assert.Len(t, name, len("summary_check_20260301_143022_")+8+len(".txt"))

	assert.Equal(t, "d-20260301", FileName("d-{date}", nil, now))
}

func TestWriteIssueLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")

	path, err := WriteIssueLog(nil, dir, now)
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = WriteIssueLog([]validation.Issue{
		{Kind: validation.UnknownCategory, Field: "Colour", Message: `category "Colour" does not exist`},
		{Kind: validation.InvalidListValue, Field: "Region", List: "Regions", Value: "North", Row: 3, Message: "not in list"},
	}, dir, now)
	require.NoError(t, err)

	out := read(t, path)
	assert.Contains(t, out, "Total Issues: 2")
	assert.Contains(t, out, "Kind:    UnknownCategory")
	assert.Contains(t, out, "List:    Regions")
	assert.Contains(t, out, "Row:     3")
}

func sampleResult() *importer.Result {
	return &importer.Result{
		Success: true,
		Commit:  true,
		Rows: []reconcile.RowResult{
			{Row: 2, Identity: "Apollo", ItemID: "p-1", Disposition: reconcile.Applied, FieldsUpdated: 2},
			{Row: 3, Identity: "Gemini", Disposition: reconcile.Skipped, Reason: "item not found"},
			{Row: 4, Identity: "Mercury", ItemID: "p-3", Disposition: reconcile.Applied,
				SubRecords: reconcile.SubResult{Mode: reconcile.MatchComposite, Serial: 2, Created: true, Synced: true}},
		},
		Stats: importer.Stats{Rows: 3, RowsApplied: 2, RowsSkipped: 1, FieldsUpdated: 2, SubRecordsCreated: 1},
	}
}

func TestWriteRunSummary(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteRunSummary(sampleResult(), RunInfo{
		StartTime: now, DataFile: "budgets.xlsx", MapFile: "budgets.xlsx", SubRecordType: "Budget", Store: "file",
	}, dir, now)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "import_summary_commit_")

	out := read(t, path)
	assert.Contains(t, out, "Outcome:         SUCCESS")
	assert.Contains(t, out, "Sub-record Type: Budget")
	assert.Contains(t, out, "Skipped:             1")
	assert.Contains(t, out, "Row 3 (Gemini): item not found")
}

func TestWriteRunSummaryFailed(t *testing.T) {
	result := &importer.Result{Error: errors.New("schema validation failed: 1 issue(s)")}

	path, err := WriteRunSummary(result, RunInfo{StartTime: now}, t.TempDir(), now)
	require.NoError(t, err)

	out := read(t, path)
	assert.Contains(t, out, "Mode:            check")
	assert.Contains(t, out, "Outcome:         FAILED")
	assert.Contains(t, out, "schema validation failed")
	assert.NotContains(t, out, "Skipped Rows")
}

func TestWriteRowLog(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteRowLog(&importer.Result{}, dir, now)
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = WriteRowLog(sampleResult(), dir, now)
	require.NoError(t, err)

	var doc struct {
		Mode string     `yaml:"mode"`
		Rows []RowEntry `yaml:"rows"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(read(t, path)), &doc))

	assert.Equal(t, "commit", doc.Mode)
	require.Len(t, doc.Rows, 3)
	assert.Equal(t, "applied", doc.Rows[0].Disposition)
	assert.Nil(t, doc.Rows[0].SubRecord)
	assert.Equal(t, "item not found", doc.Rows[1].Reason)
	require.NotNil(t, doc.Rows[2].SubRecord)
	assert.Equal(t, "composite", doc.Rows[2].SubRecord.Mode)
	assert.True(t, doc.Rows[2].SubRecord.Created)
}

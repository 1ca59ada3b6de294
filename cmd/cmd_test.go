package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/sheet-import/internal/store/memstore"
)

const storeYAML = `
categories:
  - name: Amount
  - name: Region
    value_list: Regions
value_lists:
  Regions: [East, West]
items:
  - id: c-1
    name: IMPORTED ITEMS
    status: open
    type: portfolio
  - id: p-1
    name: Apollo
    status: open
    parent_id: c-1
    fields: {Amount: "1"}
`

// execute runs the CLI with args and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	resetViper()
	cfgFile, verbose = "", false
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-output", "discard"))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores every flag to its default between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func writeWorkbook(t *testing.T, path string, sheets map[string][][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for name, rows := range sheets {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	require.NoError(t, f.DeleteSheet("Sheet1"))
	require.NoError(t, f.SaveAs(path))
}

func setupImport(t *testing.T) (dir, workbook, storePath string) {
	t.Helper()
	dir = t.TempDir()
	chdir(t, dir)

	storePath = filepath.Join(dir, "store.yaml")
	require.NoError(t, os.WriteFile(storePath, []byte(storeYAML), 0o644))

	workbook = filepath.Join(dir, "import.xlsx")
	writeWorkbook(t, workbook, map[string][][]any{
		"Map": {
			{"Name", "Column", "Category", "Flag"},
			{"Project", "A", "", "Yes"},
			{"Amount", "B", "Amount", ""},
		},
		"Data": {
			{"Project", "Amount"},
			{"Apollo", "100"},
			{"Gemini", "5"},
		},
	})
	return dir, workbook, storePath
}

func TestImportCheckModeWritesNothing(t *testing.T) {
	_, workbook, storePath := setupImport(t)
	before, err := os.ReadFile(storePath)
	require.NoError(t, err)

	out, err := execute(t, "import", "--data", workbook, "--store-path", storePath, "--new-items")
	require.NoError(t, err)
	assert.Contains(t, out, "Mode:                CHECK")
	assert.Contains(t, out, "Items created:       1")

	after, err := os.ReadFile(storePath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestImportCommitSavesStore(t *testing.T) {
	dir, workbook, storePath := setupImport(t)
	reports := filepath.Join(dir, "reports")

	out, err := execute(t, "import", "--data", workbook, "--store-path", storePath,
		"--new-items", "--commit", "--report-dir", reports)
	require.NoError(t, err)
	assert.Contains(t, out, "Mode:                COMMIT")

	store, err := memstore.Load(storePath)
	require.NoError(t, err)

	apollo, err := store.FindItemByName(context.Background(), "Apollo")
	require.NoError(t, err)
	assert.Equal(t, "100", apollo.Field("Amount"))

	gemini, err := store.FindItemByName(context.Background(), "Gemini")
	require.NoError(t, err)
	require.NotNil(t, gemini)
	assert.Equal(t, "c-1", gemini.ParentID)
	assert.Equal(t, "5", gemini.Field("Amount"))

	entries, err := os.ReadDir(reports)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "run summary and row log")

	// A second commit finds nothing to change.
	out, err = execute(t, "import", "--data", workbook, "--store-path", storePath, "--commit")
	require.NoError(t, err)
	assert.Contains(t, out, "Unchanged:           2")
	assert.Contains(t, out, "Fields updated:      0")
}

func TestImportValidationFailure(t *testing.T) {
	dir, _, storePath := setupImport(t)
	workbook := filepath.Join(dir, "bad.xlsx")
	writeWorkbook(t, workbook, map[string][][]any{
		"Map": {
			{"Name", "Column", "Category", "Flag"},
			{"Project", "A", "", "Yes"},
			{"Region", "B", "Region", ""},
		},
		"Data": {
			{"Project", "Region"},
			{"Apollo", "North"},
		},
	})

	out, err := execute(t, "import", "--data", workbook, "--store-path", storePath, "--commit",
		"--report-dir", filepath.Join(dir, "reports"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
	assert.Contains(t, out, "InvalidListValue")

	matches, err := filepath.Glob(filepath.Join(dir, "reports", "validation_issues_*.txt"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestImportRequiresDataFile(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := execute(t, "import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_file is required")
}

func TestClearCommand(t *testing.T) {
	_, _, storePath := setupImport(t)

	out, err := execute(t, "clear", "--field", "Amount", "--store-path", storePath)
	require.NoError(t, err)
	assert.Contains(t, out, "Would clear:   1")

	out, err = execute(t, "clear", "--field", "Amount", "--store-path", storePath, "--commit")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared:       1")

	store, err := memstore.Load(storePath)
	require.NoError(t, err)
	assert.Empty(t, store.Item("p-1").Field("Amount"))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Sheet Import")
	assert.Contains(t, out, "Version:    "+Version)
	assert.Contains(t, out, "Commit:     ")
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

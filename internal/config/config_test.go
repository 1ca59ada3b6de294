package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no stray .env or
// sheetimport.yaml is picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "Data", cfg.DataSheet)
	assert.Equal(t, "Map", cfg.MapSheet)
	assert.Equal(t, 1, cfg.HeaderRows)
	assert.Equal(t, ",", cfg.CSV.Delimiter)
	assert.False(t, cfg.Commit)
	assert.False(t, cfg.NewItems)
	assert.True(t, cfg.CheckStatus)
	assert.Equal(t, "IMPORTED ITEMS", cfg.Container)
	assert.Equal(t, DriverFile, cfg.Store.Driver)
	assert.Equal(t, "store.yaml", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.ConfigFile)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, filepath.Join(dir, "sheetimport.yaml"), `
data_file: budgets.xlsx
sub_record_type: Budget
new_items: true
check_status: false
store:
  driver: postgres
  database_url: postgres://import@localhost/records
log:
  level: debug
`)

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "budgets.xlsx", cfg.DataFile)
	assert.Equal(t, "budgets.xlsx", cfg.MapFile, "map file defaults to the workbook")
	assert.Equal(t, "Budget", cfg.SubRecordType)
	assert.True(t, cfg.NewItems)
	assert.False(t, cfg.CheckStatus)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NotEmpty(t, cfg.ConfigFile)
}

func TestLoadExplicitConfigFileMissing(t *testing.T) {
	dir := inTempDir(t)

	_, err := Load(New(), filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, filepath.Join(dir, "sheetimport.yaml"), "container: FROM FILE\ncsv:\n  delimiter: \";\"\n")
	t.Setenv("SHEETIMPORT_CONTAINER", "FROM ENV")
	t.Setenv("SHEETIMPORT_COMMIT", "true")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "FROM ENV", cfg.Container)
	assert.True(t, cfg.Commit)
	assert.Equal(t, ";", cfg.CSV.Delimiter)
}

func TestDotEnvFile(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, filepath.Join(dir, ".env"), "SHEETIMPORT_SUB_RECORD_TYPE=Milestone\n")
	t.Cleanup(func() { os.Unsetenv("SHEETIMPORT_SUB_RECORD_TYPE") })

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "Milestone", cfg.SubRecordType)
}

func TestCSVDataNeedsMapFile(t *testing.T) {
	dir := inTempDir(t)
	data := filepath.Join(dir, "rows.csv")
	writeFile(t, data, "Project\nApollo\n")
	t.Setenv("SHEETIMPORT_DATA_FILE", data)

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.True(t, cfg.IsCSV())
	assert.Empty(t, cfg.MapFile)

	err = cfg.ValidateImport()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "map_file is required")
}

func TestValidateAccumulates(t *testing.T) {
	cfg := &Config{
		Store: StoreConfig{Driver: "mongo"},
		Log:   LogConfig{Level: "loud", Format: "xml"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "log.format")
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := &Config{
		Store: StoreConfig{Driver: DriverPostgres},
		Log:   LogConfig{Level: "info", Format: "auto"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")
}

func TestValidateImport(t *testing.T) {
	dir := t.TempDir()
	workbook := filepath.Join(dir, "import.xlsx")
	writeFile(t, workbook, "placeholder")

	cfg := &Config{
		DataFile: workbook,
		MapFile:  workbook,
		Store:    StoreConfig{Driver: DriverFile, Path: filepath.Join(dir, "store.yaml")},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
	assert.NoError(t, cfg.ValidateImport())

	cfg.DataFile = ""
	cfg.HeaderRows = -1
	err := cfg.ValidateImport()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_file is required")
	assert.Contains(t, err.Error(), "header_rows")
}

func TestDerivedOptions(t *testing.T) {
	cfg := &Config{
		Commit:        true,
		NewItems:      true,
		Container:     "INBOX",
		CheckStatus:   true,
		SubRecordType: "Budget",
		Log:           LogConfig{Level: "warn", Format: "json", Output: "stdout"},
	}

	opts := cfg.ImporterOptions()
	assert.True(t, opts.Commit)
	assert.True(t, opts.CreateItems)
	assert.Equal(t, "INBOX", opts.Container)
	assert.Equal(t, "Budget", opts.SubRecordType)

	logCfg := cfg.LoggingConfig()
	assert.Equal(t, "warn", logCfg.Level)
	assert.Equal(t, "json", logCfg.Format)
	assert.Equal(t, "stdout", logCfg.Output)
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

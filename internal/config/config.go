// =============================================================================
// Sheet Import - Configuration Module
// =============================================================================
//
// This module loads the settings of an import run. Values come from, in order
// of precedence:
//   1. Command-line flags (bound to viper keys by the cmd package)
//   2. Environment variables prefixed SHEETIMPORT_ (csv.delimiter becomes
//      SHEETIMPORT_CSV_DELIMITER)
//   3. .env and .env.local files in the working directory
//   4. The config file (--config, or ./sheetimport.yaml when present)
//   5. Defaults
//
// Example sheetimport.yaml:
//
//   data_file: budgets.xlsx
//   sub_record_type: Budget
//   new_items: true
//   store:
//     driver: postgres
//     database_url: postgres://import@localhost/records
//   log:
//     level: debug
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ginjaninja78/sheet-import/internal/importer"
	"github.com/ginjaninja78/sheet-import/internal/logging"
)

// EnvPrefix prefixes every environment variable read by the tool.
const EnvPrefix = "SHEETIMPORT"

// Store drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the settings of one run.
type Config struct {
	// =========================================================================
	// INPUT SETTINGS
	// =========================================================================

	// DataFile is the XLSX workbook or CSV file holding the rows to import.
	DataFile string `mapstructure:"data_file"`

	// DataSheet is the worksheet holding the data rows.
	// Default: "Data"
	DataSheet string `mapstructure:"data_sheet"`

	// MapFile is the workbook holding the Map sheet.
	// Default: DataFile (when it is a workbook)
	MapFile string `mapstructure:"map_file"`

	// MapSheet is the worksheet holding the column bindings.
	// Default: "Map"
	MapSheet string `mapstructure:"map_sheet"`

	// HeaderRows is the number of header rows skipped on both sheets.
	// Default: 1
	HeaderRows int `mapstructure:"header_rows"`

	CSV CSVConfig `mapstructure:"csv"`

	// =========================================================================
	// IMPORT SETTINGS
	// =========================================================================

	// Commit performs the import. Without it the run only reports what it
	// would do.
	Commit bool `mapstructure:"commit"`

	// NewItems creates items that do not exist yet (name identity only).
	NewItems bool `mapstructure:"new_items"`

	// Container is the item new items are created under.
	// Default: "IMPORTED ITEMS"
	Container string `mapstructure:"container"`

	// SubRecordType imports rows as sub-records of this type instead of
	// item fields.
	SubRecordType string `mapstructure:"sub_record_type"`

	// CheckStatus applies the status column.
	// Default: true
	CheckStatus bool `mapstructure:"check_status"`

	// =========================================================================
	// STORE, LOGGING AND REPORTS
	// =========================================================================

	Store StoreConfig `mapstructure:"store"`
	Log   LogConfig   `mapstructure:"log"`

	// ReportDir receives the issue log and run summary. Empty disables them.
	ReportDir string `mapstructure:"report_dir"`

	// ConfigFile is the config file that was read, if any.
	ConfigFile string `mapstructure:"-"`
}

// CSVConfig contains settings for CSV data files.
type CSVConfig struct {
	// Delimiter is ",", "|", ";" or "tab".
	Delimiter string `mapstructure:"delimiter"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	// Driver is "file" (YAML snapshot) or "postgres".
	Driver string `mapstructure:"driver"`

	// Path is the YAML snapshot for the file driver.
	Path string `mapstructure:"path"`

	// DatabaseURL is the connection string for the postgres driver.
	DatabaseURL string `mapstructure:"database_url"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// =============================================================================
// LOADING
// =============================================================================

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_file", "")
	v.SetDefault("data_sheet", "Data")
	v.SetDefault("map_file", "")
	v.SetDefault("map_sheet", "Map")
	v.SetDefault("header_rows", 1)
	v.SetDefault("csv.delimiter", ",")

	v.SetDefault("commit", false)
	v.SetDefault("new_items", false)
	v.SetDefault("container", importer.DefaultContainer)
	v.SetDefault("sub_record_type", "")
	v.SetDefault("check_status", true)

	v.SetDefault("store.driver", DriverFile)
	v.SetDefault("store.path", "store.yaml")
	v.SetDefault("store.database_url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("report_dir", "")
}

// Load reads .env files and the config file into v and decodes the result.
//
// PARAMETERS:
//   - v: A viper instance from New, with any flags already bound.
//   - configFile: An explicit config file. When empty, ./sheetimport.yaml is
//     read if it exists.
//
// RETURNS:
//   - The decoded configuration with derived defaults applied.
//   - An error if an explicit config file cannot be read or decoding fails.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	loadEnvFiles()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("sheetimport")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	applyDefaults(&cfg)
	return &cfg, nil
}

// loadEnvFiles loads .env then .env.local. Variables already set win.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

// applyDefaults fills settings derived from other settings.
func applyDefaults(cfg *Config) {
	if cfg.MapFile == "" && !cfg.IsCSV() {
		cfg.MapFile = cfg.DataFile
	}
	if cfg.DataSheet == "" {
		cfg.DataSheet = "Data"
	}
	if cfg.MapSheet == "" {
		cfg.MapSheet = "Map"
	}
	if cfg.Container == "" {
		cfg.Container = importer.DefaultContainer
	}
	if cfg.CSV.Delimiter == "" {
		cfg.CSV.Delimiter = ","
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the store and logging settings. It returns an error
// describing all failures.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case DriverFile:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the file store")
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres store")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver (%q) must be one of: file, postgres", c.Store.Driver))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level (%q) must be one of: trace, debug, info, warn, error", c.Log.Level))
	}

	validFormats := map[string]bool{"auto": true, "json": true, "console": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Sprintf("log.format (%q) must be one of: auto, json, console", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateImport checks everything Validate checks plus the input settings.
func (c *Config) ValidateImport() error {
	var errs []string
	if err := c.Validate(); err != nil {
		errs = append(errs, strings.TrimPrefix(err.Error(), "invalid configuration:\n  - "))
	}

	if c.DataFile == "" {
		errs = append(errs, "data_file is required")
	} else if _, err := os.Stat(c.DataFile); err != nil {
		errs = append(errs, fmt.Sprintf("data_file %s: %v", c.DataFile, err))
	}

	if c.IsCSV() && c.MapFile == "" {
		errs = append(errs, "map_file is required when data_file is a CSV file")
	}
	if c.MapFile != "" && c.MapFile != c.DataFile {
		if _, err := os.Stat(c.MapFile); err != nil {
			errs = append(errs, fmt.Sprintf("map_file %s: %v", c.MapFile, err))
		}
	}

	if c.HeaderRows < 0 {
		errs = append(errs, fmt.Sprintf("header_rows (%d) must not be negative", c.HeaderRows))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// IsCSV reports whether the data file is a CSV file.
func (c *Config) IsCSV() bool {
	ext := strings.ToLower(filepath.Ext(c.DataFile))
	return ext == ".csv" || ext == ".txt"
}

// ImporterOptions converts the import settings for the importer.
func (c *Config) ImporterOptions() importer.Options {
	return importer.Options{
		Commit:        c.Commit,
		CreateItems:   c.NewItems,
		Container:     c.Container,
		CheckStatus:   c.CheckStatus,
		SubRecordType: c.SubRecordType,
	}
}

// LoggingConfig converts the logging settings.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = c.Log.Format
	if c.Log.Output != "" {
		cfg.Output = c.Log.Output
	}
	return cfg
}

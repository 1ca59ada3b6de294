// =============================================================================
// Sheet Import - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every subcommand
// shares the configuration loaded here.
//
// COBRA CLI STRUCTURE:
//   rootCmd (sheetimport)
//   ├── importCmd  (sheetimport import)
//   ├── clearCmd   (sheetimport clear)
//   ├── seedCmd    (sheetimport seed)
//   └── versionCmd (sheetimport version)
//
// CONFIGURATION:
//   Flags are bound to viper keys before a command runs, so a flag, a
//   SHEETIMPORT_ environment variable and a config file entry all set the
//   same setting. See internal/config for the precedence order.
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ginjaninja78/sheet-import/internal/config"
	"github.com/ginjaninja78/sheet-import/internal/logging"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to an explicit configuration file.
var cfgFile string

// verbose switches logging to debug level.
var verbose bool

// v holds every setting for the running command.
var v = config.New()

// flagKeys maps flag names to the viper keys they set.
var flagKeys = map[string]string{
	"log-level":       "log.level",
	"log-format":      "log.format",
	"log-output":      "log.output",
	"data":            "data_file",
	"data-sheet":      "data_sheet",
	"map":             "map_file",
	"map-sheet":       "map_sheet",
	"header-rows":     "header_rows",
	"delimiter":       "csv.delimiter",
	"commit":          "commit",
	"new-items":       "new_items",
	"container":       "container",
	"sub-record-type": "sub_record_type",
	"check-status":    "check_status",
	"store":           "store.driver",
	"store-path":      "store.path",
	"database-url":    "store.database_url",
	"report-dir":      "report_dir",
}

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "sheetimport",
	Short: "Sheet Import - Reconcile spreadsheet rows into a record store",
	Long: `Sheet Import reads a Data sheet and a Map sheet from an XLSX workbook (or a
CSV export plus a Map workbook) and reconciles every row into the record
store: items are found by name or external id, optionally created, their
status and fields updated, or their dated sub-records matched and synced.

Runs are check-only unless --commit is given. Before anything is written,
every bound category, value list and sub-record type is validated against
the store's schema and the run stops on the first batch of issues.

Example Usage:
  sheetimport import --data budgets.xlsx                           # Describe what would change
  sheetimport import --data budgets.xlsx --commit                  # Apply item field updates
  sheetimport import --data budgets.xlsx --sub-record-type Budget --commit
  sheetimport clear --field "Budget Amount" --commit               # Empty a field on imported items`,

	SilenceUsage: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the CLI. It is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "Path to a configuration file (default ./sheetimport.yaml if present)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.String("log-format", "auto", "Log format: auto, json, console")
	flags.String("log-output", "stderr", "Log destination: stderr, stdout, discard or a file path")

	flags.String("store", config.DriverFile, "Record store driver: file or postgres")
	flags.String("store-path", "store.yaml", "YAML snapshot used by the file store")
	flags.String("database-url", "", "PostgreSQL connection string used by the postgres store")
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// loadConfig binds cmd's flags to viper and loads the configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the run logger from cfg.
func newLogger(cfg *config.Config) zerolog.Logger {
	log := logging.New(cfg.LoggingConfig())
	if cfg.ConfigFile != "" {
		log.Debug().Str("config_file", cfg.ConfigFile).Msg("using config file")
	}
	return log
}

// resetViper gives tests a clean configuration.
func resetViper() *viper.Viper {
	v = config.New()
	return v
}

// =============================================================================
// Sheet Import - Clear Command
// =============================================================================
//
// This file defines the 'clear' command, which empties one field on every
// item directly under the import container. It is used to reset a column
// before re-importing it.
//
// COMMAND USAGE:
//   sheetimport clear --field "Budget Amount" [--container NAME] [--commit]
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/sheet-import/internal/importer"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty a field on every item under the import container",
	Long: `The clear command empties one field on every direct child of the import
container. Items that already hold no value are left alone. Without --commit
the items that would be cleared are only listed in the log.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runClear(cmd)
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)

	flags := clearCmd.Flags()
	flags.String("field", "", "Category to clear (required)")
	flags.String("container", importer.DefaultContainer, "Item whose children are cleared")
	flags.Bool("commit", false, "Perform the clear (default is a check run)")

	clearCmd.MarkFlagRequired("field")
}

func runClear(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := newLogger(cfg)

	field, _ := cmd.Flags().GetString("field")

	store, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}

	result, runErr := importer.New(store, cfg.ImporterOptions(), log).Clear(cmd.Context(), field)
	if err := store.Close(cfg.Commit); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to save record store: %w", err))
	}
	if runErr != nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	verb := "Would clear"
	if cfg.Commit {
		verb = "Cleared"
	}
	fmt.Fprintln(out, "=== Sheet Import: Clear ===")
	fmt.Fprintf(out, "Items:         %d\n", result.Items)
	fmt.Fprintf(out, "%-14s %d\n", verb+":", result.Cleared)
	fmt.Fprintf(out, "Already empty: %d\n", result.AlreadyEmpty)
	fmt.Fprintf(out, "Failed:        %d\n", result.Failures)
	return nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/sheet-import/internal/config"
	"github.com/ginjaninja78/sheet-import/internal/store/memstore"
	"github.com/ginjaninja78/sheet-import/internal/store/pgstore"
)

// seedCmd copies a YAML store snapshot into the postgres store, so a schema
// and item tree prepared for the file store can be reused against a database.
var seedCmd = &cobra.Command{
	Use:   "seed --from store.yaml --database-url URL",
	Short: "Load a YAML store snapshot into the postgres store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Store.Driver = config.DriverPostgres
		if err := cfg.Validate(); err != nil {
			return err
		}
		log := newLogger(cfg)

		from, _ := cmd.Flags().GetString("from")
		if _, err := os.Stat(from); err != nil {
			return fmt.Errorf("snapshot %s: %w", from, err)
		}
		snapStore, err := memstore.Load(from)
		if err != nil {
			return err
		}
		snap := snapStore.Snapshot()

		store, err := pgstore.Open(cmd.Context(), cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Seed(cmd.Context(), snap); err != nil {
			return err
		}

		log.Info().
			Str("from", from).
			Int("categories", len(snap.Categories)).
			Int("items", len(snap.Items)).
			Msg("seeded record store")
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d categories, %d items and %d sub-record sets from %s\n",
			len(snap.Categories), len(snap.Items), len(snap.SubRecords), from)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().String("from", "store.yaml", "YAML snapshot to load")
}

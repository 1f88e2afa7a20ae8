package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/alphapipe/alphapipe/pkg/stores"
)

func newIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <bars.csv> [more.csv...]",
		Short: "Ingest bar data from CSV files",
		Long: `Load daily bars from CSV files into the bar database.

Each file needs a header with date and asset columns; open, high, low,
close, and volume columns are optional and may appear in any order.
Empty cells are stored as missing. Re-ingesting a (date, asset) pair
overwrites the previous bar.`,
		Example: `  # Ingest one file
  alphapipe ingest bars.csv

  # Ingest several files into a named database
  alphapipe --db prices.db ingest 2023.csv 2024.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			total := 0
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}
				bars, err := stores.ReadBarsCSV(f)
				_ = f.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if err := store.UpsertBars(ctx, bars); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}

				log.Info().
					Str("file", path).
					Int("bars", len(bars)).
					Msg("Ingested bars")
				total += len(bars)
			}

			count, err := store.CountBars(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Ingested %d bars (%d total in %s)\n", total, count, dbPath)
			return nil
		},
	}

	return cmd
}

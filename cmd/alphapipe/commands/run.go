package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/alphapipe/alphapipe/pkg/calendar"
	"github.com/alphapipe/alphapipe/pkg/config"
	"github.com/alphapipe/alphapipe/pkg/engine"
	"github.com/alphapipe/alphapipe/pkg/stores"
	"github.com/alphapipe/alphapipe/pkg/telemetry"
)

const sessionLayout = "2006-01-02"

func newRunCommand() *cobra.Command {
	var (
		start       string
		end         string
		assets      []string
		output      string
		maxParallel int
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Run a pipeline over stored bars",
		Long: `Evaluate a pipeline definition over the bars in the database.

The trading calendar and default asset universe are derived from the
ingested bars. Each run is recorded in the run history with its final
status and row count. Results are written as CSV, one row per
(session, asset) pair that passes the screen.`,
		Example: `  # Run over all ingested assets, results to stdout
  alphapipe run momentum.yaml --start 2024-01-02 --end 2024-03-28

  # Restrict the universe and write to a file
  alphapipe run momentum.yaml --start 2024-01-02 --end 2024-03-28 \
    --asset AAPL --asset MSFT -o results.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			startDate, err := time.Parse(sessionLayout, start)
			if err != nil {
				return fmt.Errorf("invalid --start date %q: %w", start, err)
			}
			endDate, err := time.Parse(sessionLayout, end)
			if err != nil {
				return fmt.Errorf("invalid --end date %q: %w", end, err)
			}

			pl, doc, err := config.NewParser().Load(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load pipeline: %w", err)
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.Sessions(ctx)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				return fmt.Errorf("no bars ingested; run 'alphapipe ingest' first")
			}
			cal := calendar.New(sessions)

			universe := assets
			if len(universe) == 0 {
				universe, err = store.Assets(ctx)
				if err != nil {
					return err
				}
			}

			log.Info().
				Str("pipeline", doc.Pipeline.Name).
				Str("start", start).
				Str("end", end).
				Int("assets", len(universe)).
				Msg("Running pipeline")

			now := time.Now()
			run := &stores.Run{
				ID:           uuid.New().String(),
				PipelineName: doc.Pipeline.Name,
				StartSession: start,
				EndSession:   end,
				Status:       stores.RunStatusRunning,
				StartedAt:    &now,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := store.CreateRun(ctx, run); err != nil {
				return err
			}

			logCfg := telemetry.DefaultConfig().Logging
			logCfg.Output = "stderr"
			if verbose {
				logCfg.Level = "debug"
			}
			engineLog, err := telemetry.NewLogger(logCfg)
			if err != nil {
				return err
			}

			eng := engine.New(
				engine.WithMaxParallel(maxParallel),
				engine.WithLogger(engineLog),
			)
			result, err := eng.Run(ctx, pl, cal, startDate, endDate, universe, store)
			if err != nil {
				msg := err.Error()
				if uerr := store.UpdateRunStatus(ctx, run.ID, stores.RunStatusFailed, 0, &msg); uerr != nil {
					log.Warn().Err(uerr).Msg("Failed to record run failure")
				}
				return fmt.Errorf("pipeline run failed: %w", err)
			}
			if err := store.UpdateRunStatus(ctx, run.ID, stores.RunStatusCompleted, result.Len(), nil); err != nil {
				log.Warn().Err(err).Msg("Failed to record run completion")
			}

			out := os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				out = f
			}
			if err := result.WriteCSV(out); err != nil {
				return fmt.Errorf("failed to write results: %w", err)
			}

			log.Info().
				Str("run_id", run.ID).
				Int("rows", result.Len()).
				Msg("Pipeline run completed")

			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "first session (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last session (YYYY-MM-DD)")
	cmd.Flags().StringSliceVarP(&assets, "asset", "a", nil, "restrict the asset universe (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "CSV output path (default stdout)")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 8, "maximum terms computed in parallel")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

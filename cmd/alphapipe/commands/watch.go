package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/alphapipe/alphapipe/pkg/config"
	"github.com/alphapipe/alphapipe/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <pipeline.yaml>",
		Short: "Watch a pipeline definition and revalidate on change",
		Long: `Watch a pipeline definition and recompile it whenever the file
changes. Validation errors are reported without stopping the watch, so a
definition can be iterated on until it compiles cleanly.`,
		Example: `  # Revalidate on every save
  alphapipe watch momentum.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			watcher := config.NewWatcher(config.NewParser(), nil)
			err := watcher.Watch(ctx, path, func(pl *engine.Pipeline, doc *config.Document) error {
				graph, err := pl.Graph()
				if err != nil {
					return err
				}
				log.Info().
					Str("pipeline", doc.Pipeline.Name).
					Int("nodes", len(graph.Order)).
					Int("levels", len(graph.Levels)).
					Msg("Pipeline recompiled")
				return nil
			})
			if err != nil {
				return err
			}

			fmt.Printf("Watching %s (Ctrl-C to stop)\n", path)
			<-ctx.Done()
			return nil
		},
	}

	return cmd
}

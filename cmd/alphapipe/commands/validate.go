package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/alphapipe/alphapipe/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var buildCheck bool

	cmd := &cobra.Command{
		Use:   "validate <pipeline.yaml>",
		Short: "Validate a pipeline definition",
		Long: `Validate a pipeline definition without running it.

This command checks:
  - YAML syntax and unknown fields
  - Schema conformance (CUE)
  - Starlark script syntax
  - Term references, parameters, and graph acyclicity (with --build)`,
		Example: `  # Validate a definition
  alphapipe validate momentum.yaml

  # Also build the computation graph
  alphapipe validate --build momentum.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			parser := config.NewParser()
			result, err := parser.ParseFile(ctx, path)
			if err != nil {
				return err
			}

			for _, e := range result.Errors {
				log.Error().
					Str("file", e.File).
					Str("path", e.Path).
					Msg(e.Message)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%s: %d validation error(s)", path, len(result.Errors))
			}

			if buildCheck {
				pl, err := parser.Build(result.Document)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				graph, err := pl.Graph()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				log.Info().
					Int("nodes", len(graph.Order)).
					Int("levels", len(graph.Levels)).
					Int("extra_sessions", graph.MaxExtra).
					Msg("Graph compiled")
			}

			fmt.Printf("%s: valid\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&buildCheck, "build", true, "also compile the computation graph")

	return cmd
}

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alphapipe/alphapipe/pkg/config"
)

func newGraphCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "graph <pipeline.yaml>",
		Short: "Export a pipeline's computation graph as DOT",
		Long: `Compile a pipeline definition and export its computation graph in
Graphviz DOT format. Shared terms appear once; edges run from inputs to
consumers, with mask edges dashed.`,
		Example: `  # Render a pipeline's graph
  alphapipe graph momentum.yaml | dot -Tsvg -o momentum.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pl, _, err := config.NewParser().Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load pipeline: %w", err)
			}
			graph, err := pl.Graph()
			if err != nil {
				return err
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
			_, err = fmt.Fprint(out, graph.ToDOT())
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "DOT output path (default stdout)")

	return cmd
}

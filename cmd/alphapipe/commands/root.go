package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	dbPath  string
	verbose bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "alphapipe",
		Short: "AlphaPipe - Declarative cross-sectional analytics engine",
		Long: `AlphaPipe evaluates declarative computation pipelines over panels of
assets and trading sessions.

Features:
  - Typed pipeline definitions via YAML with CUE schema validation
  - Built-in factors, filters, and classifiers over trailing windows
  - Custom factors via sandboxed Starlark scripts
  - SQLite-backed bar storage with batched ingestion
  - Structural deduplication of shared terms across outputs
  - Run history and CSV result export`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "alphapipe.db", "bar database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newIngestCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}

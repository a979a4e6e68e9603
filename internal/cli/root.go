// Package cli wires the fingraph commands: dataset submission, batch
// retrieval, graph loading, and evaluation.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mvettori/fingraph/internal/config"
	"github.com/mvettori/fingraph/internal/logging"
)

// logger is the package-level logger for CLI operations.
var logger zerolog.Logger //nolint:gochecknoglobals // Required for zerolog context integration

// cfg holds the loaded configuration, set once in PersistentPreRunE.
var cfg *config.Config //nolint:gochecknoglobals

// NewRootCmd creates the root Cobra command for the fingraph CLI. It
// wires up config loading, logging, and the subcommands (extract,
// retrieve, status, graph, eval).
func NewRootCmd(ver string) *cobra.Command {
	var logResult *logging.Result

	cmd := &cobra.Command{
		Use:     "fingraph",
		Short:   "Financial news entity and relationship extraction",
		Long:    "fingraph: extract entities and relationships from financial news via LLM batch jobs and load them into a property graph",
		Version: ver,
		Example: rootCmdExample,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			cfg = loaded

			result := setupLogging(cmd, cfg)
			logResult = &result
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logResult != nil {
				logResult.Close()
			}
		},
	}

	cmd.PersistentFlags().String("config", config.DefaultConfigFile, "config file path")
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.AddCommand(newExtractCmd(), newRetrieveCmd(), newStatusCmd(), newGraphCmd(), newEvalCmd())

	return cmd
}

const rootCmdExample = `  # Submit a news dataset for extraction
  fingraph extract --data news.csv

  # Add new records to an existing parent batch
  fingraph extract --data news.csv --parent parent_01JF8...

  # Check batch status without retrieving
  fingraph retrieve --parent parent_01JF8... --check-only

  # Wait for completion and retrieve results
  fingraph retrieve --parent parent_01JF8... --wait --wait-interval 60s

  # Load retrieved results into the graph database
  fingraph graph load --parent parent_01JF8...

  # Show the most-mentioned entities
  fingraph graph top --limit 20

  # Score extractions against gold annotations
  fingraph eval --gold gold.jsonl --parent parent_01JF8...`

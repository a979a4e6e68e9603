package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mvettori/fingraph/internal/batch"
	"github.com/mvettori/fingraph/internal/config"
	"github.com/mvettori/fingraph/internal/dataset"
	"github.com/mvettori/fingraph/internal/prompt"
	"github.com/mvettori/fingraph/internal/provider"
)

// newExtractCmd creates the extract command: load a news dataset, split
// it into batches, and submit them to the provider. With --parent, new
// records are appended to an existing parent batch; records already
// processed under that parent are skipped.
func newExtractCmd() *cobra.Command {
	var (
		dataPath   string
		parentID   string
		batchSize  int
		idColumn   string
		textColumn string
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Submit a news dataset for entity extraction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dataPath == "" {
				dataPath = cfg.Dataset.Path
			}
			if dataPath == "" {
				return fmt.Errorf("no dataset given: set --data or dataset.path in config")
			}
			if batchSize == 0 {
				batchSize = cfg.Batch.Size
			}
			if idColumn == "" {
				idColumn = cfg.Dataset.IDColumn
			}
			if textColumn == "" {
				textColumn = cfg.Dataset.TextColumn
			}

			records, err := dataset.Load(dataPath, dataset.Options{
				IDColumn:   idColumn,
				TextColumn: textColumn,
			})
			if err != nil {
				return err
			}
			logger.Info().Int("records", len(records)).Str("data", dataPath).Msg("dataset loaded")

			coord, err := newCoordinator(batchSize)
			if err != nil {
				return err
			}

			p := message.NewPrinter(language.English)
			ctx := cmd.Context()

			if parentID != "" {
				unit, err := coord.Resume(ctx, parentID, records)
				if err != nil {
					return err
				}
				if unit == nil {
					p.Fprintf(cmd.OutOrStdout(), "No new records: all %d already processed under %s\n",
						len(records), parentID)
					return nil
				}
				p.Fprintf(cmd.OutOrStdout(), "Submitted batch %s with %d new records under %s\n",
					unit.BatchID, len(unit.RecordIDs), parentID)
				return nil
			}

			parent, err := coord.CreateParent(ctx, records)
			if err != nil {
				return err
			}
			p.Fprintf(cmd.OutOrStdout(), "Created parent batch %s: %d records in %d batches\n",
				parent.ParentID, len(parent.ProcessedRecordIDs), len(parent.Children))
			return nil
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "dataset file (.csv, .jsonl, .xlsx)")
	cmd.Flags().StringVar(&parentID, "parent", "", "existing parent batch ID to append to")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per batch (default from config)")
	cmd.Flags().StringVar(&idColumn, "id-column", "", "record ID column name")
	cmd.Flags().StringVar(&textColumn, "text-column", "", "record text column name")
	return cmd
}

// newCoordinator builds the batch coordinator from the loaded config.
func newCoordinator(batchSize int) (*batch.Coordinator, error) {
	store, err := batch.NewStore(cfg.Batch.Dir)
	if err != nil {
		return nil, err
	}
	client, err := newProviderClient()
	if err != nil {
		return nil, err
	}
	tpl, err := prompt.Load(cfg.Prompt.File, cfg.Prompt.Task)
	if err != nil {
		return nil, err
	}
	formatter, err := prompt.NewFormatter(cfg.Model, tpl)
	if err != nil {
		return nil, err
	}
	return batch.NewCoordinator(store, client, formatter, batchSize, logger)
}

// newProviderClient builds the configured LLM batch client.
func newProviderClient() (provider.Client, error) {
	if cfg.APIKey() == "" {
		return nil, fmt.Errorf("no API key: set %s", config.EnvAPIKey)
	}
	return provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  cfg.APIKey(),
		BaseURL: cfg.BaseURL,
	}, logger)
}

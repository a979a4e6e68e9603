package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mvettori/fingraph/internal/batch"
)

// newRetrieveCmd creates the retrieve command: poll provider status for a
// batch or parent batch and pull results when ready. --check-only reports
// status without retrieving; --wait polls until every batch reaches a
// terminal state.
func newRetrieveCmd() *cobra.Command {
	var (
		parentID     string
		batchID      string
		checkOnly    bool
		wait         bool
		waitInterval time.Duration
		outputDir    string
	)

	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Retrieve batch results from the provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (parentID == "") == (batchID == "") {
				return fmt.Errorf("exactly one of --parent or --batch is required")
			}
			if checkOnly && wait {
				return fmt.Errorf("--check-only and --wait are mutually exclusive")
			}

			id := parentID
			opts := batch.Options{Parent: parentID != "", OutputDir: outputDir}
			if batchID != "" {
				id = batchID
			}
			switch {
			case checkOnly:
				opts.Mode = batch.ModeCheckOnly
			case wait:
				opts.Mode = batch.ModeWait
			default:
				opts.Mode = batch.ModeDefault
			}
			if waitInterval > 0 {
				opts.WaitInterval = waitInterval
			} else {
				opts.WaitInterval = cfg.Batch.WaitInterval
			}

			store, err := batch.NewStore(cfg.Batch.Dir)
			if err != nil {
				return err
			}
			client, err := newProviderClient()
			if err != nil {
				return err
			}

			res, err := batch.NewRetriever(store, client, logger).Retrieve(cmd.Context(), id, opts)
			if err != nil {
				return err
			}
			printRetrieveResult(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&parentID, "parent", "", "parent batch ID or directory")
	cmd.Flags().StringVar(&batchID, "batch", "", "standalone batch ID")
	cmd.Flags().BoolVar(&checkOnly, "check-only", false, "report status without retrieving results")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until all batches reach a terminal state")
	cmd.Flags().DurationVar(&waitInterval, "wait-interval", 0, "poll interval for --wait (default from config)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for result files (default: store results dir)")
	return cmd
}

func printRetrieveResult(cmd *cobra.Command, res *batch.Result) {
	p := message.NewPrinter(language.English)
	out := cmd.OutOrStdout()

	p.Fprintf(out, "%s: %s\n", res.ID, res.Status)
	if res.FailureReason != "" {
		p.Fprintf(out, "  failure: %s\n", res.FailureReason)
	}
	for _, c := range res.Children {
		p.Fprintf(out, "  %s: %s (%d records)\n", c.BatchID, c.Status, c.Records)
	}
	if len(res.Results) > 0 {
		p.Fprintf(out, "Retrieved %d results -> %s\n", len(res.Results), res.ResultPath)
	}
}

// newStatusCmd creates the status command, a retrieval check without
// provider polling: it reports the locally persisted state.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <parent-id>",
		Short: "Show locally persisted parent batch status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := batch.NewStore(cfg.Batch.Dir)
			if err != nil {
				return err
			}
			parent, err := store.LoadParent(args[0])
			if err != nil {
				return err
			}

			p := message.NewPrinter(language.English)
			out := cmd.OutOrStdout()
			p.Fprintf(out, "%s: %s (%d records, %d batches)\n",
				parent.ParentID, parent.DeriveStatus(), len(parent.ProcessedRecordIDs), len(parent.Children))
			for _, child := range parent.Children {
				p.Fprintf(out, "  %s: %s (%d records)\n", child.BatchID, child.Status, len(child.RecordIDs))
			}
			return nil
		},
	}
	return cmd
}

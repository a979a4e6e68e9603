package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mvettori/fingraph/internal/eval"
	"github.com/mvettori/fingraph/internal/graph"
)

// newEvalCmd creates the eval command: score retrieved extractions
// against a gold annotation file.
func newEvalCmd() *cobra.Command {
	var (
		goldPath  string
		parentID  string
		batchID   string
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score extractions against gold annotations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if goldPath == "" {
				return fmt.Errorf("--gold is required")
			}
			if (parentID == "") == (batchID == "") {
				return fmt.Errorf("exactly one of --parent or --batch is required")
			}

			gold, err := eval.LoadGold(goldPath)
			if err != nil {
				return err
			}
			results, err := loadResults(parentID, batchID)
			if err != nil {
				return err
			}

			predictions := make(map[string]*graph.Extraction, len(results))
			for recordID, raw := range results {
				ex, err := graph.ParseExtraction(raw)
				if err != nil {
					logger.Warn().Err(err).Str("record_id", recordID).Msg("skipping unparseable extraction")
					continue
				}
				predictions[recordID] = ex
			}

			ev, err := eval.New(threshold)
			if err != nil {
				return err
			}
			report, err := ev.Evaluate(gold, predictions)
			if err != nil {
				return err
			}
			printReport(cmd, report)
			return nil
		},
	}

	cmd.Flags().StringVar(&goldPath, "gold", "", "gold annotations JSONL file")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent batch ID whose results to score")
	cmd.Flags().StringVar(&batchID, "batch", "", "standalone batch ID whose results to score")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "entity name similarity threshold (default 0.8)")
	return cmd
}

func printReport(cmd *cobra.Command, r *eval.Report) {
	p := message.NewPrinter(language.English)
	out := cmd.OutOrStdout()

	p.Fprintf(out, "Scored %d gold records (%d without predictions), threshold %.2f\n",
		r.Records, r.Missing, r.Threshold)
	printMetrics(p, cmd, "entities", r.Entities)
	printMetrics(p, cmd, "relationships", r.Relationships)
}

func printMetrics(p *message.Printer, cmd *cobra.Command, label string, m eval.Metrics) {
	p.Fprintf(cmd.OutOrStdout(), "%-14s P %.3f  R %.3f  F1 %.3f  (tp %d, fp %d, fn %d)\n",
		label, m.Precision, m.Recall, m.F1, m.TruePositives, m.FalsePositives, m.FalseNegatives)
}

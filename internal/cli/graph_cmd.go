package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mvettori/fingraph/internal/batch"
	"github.com/mvettori/fingraph/internal/graph"
)

// newGraphCmd creates the graph command group.
func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "graph", Short: "Property graph commands"}
	cmd.AddCommand(newGraphLoadCmd(), newGraphTopCmd(), newGraphEntityCmd(), newGraphStatsCmd())
	return cmd
}

// newGraphLoadCmd loads retrieved extraction results into the graph
// database. Records that fail to parse are skipped with a warning; a
// record already in the graph is not loaded twice.
func newGraphLoadCmd() *cobra.Command {
	var (
		parentID string
		batchID  string
		dbPath   string
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load retrieved results into the graph database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (parentID == "") == (batchID == "") {
				return fmt.Errorf("exactly one of --parent or --batch is required")
			}
			results, err := loadResults(parentID, batchID)
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.Graph.DBPath
			}

			store, err := graph.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			loaded, skipped := 0, 0
			for recordID, raw := range results {
				ex, err := graph.ParseExtraction(raw)
				if err != nil {
					logger.Warn().Err(err).Str("record_id", recordID).Msg("skipping unparseable extraction")
					skipped++
					continue
				}
				if err := store.LoadExtraction(ctx, recordID, ex); err != nil {
					return fmt.Errorf("failed to load record %s: %w", recordID, err)
				}
				loaded++
			}

			p := message.NewPrinter(language.English)
			p.Fprintf(cmd.OutOrStdout(), "Loaded %d records into %s (%d skipped)\n", loaded, dbPath, skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&parentID, "parent", "", "parent batch ID whose results to load")
	cmd.Flags().StringVar(&batchID, "batch", "", "standalone batch ID whose results to load")
	cmd.Flags().StringVar(&dbPath, "db", "", "graph database file (default from config)")
	return cmd
}

func newGraphTopCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the most-mentioned entities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := graph.Open(cfg.Graph.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			entities, err := store.TopEntities(cmd.Context(), limit)
			if err != nil {
				return err
			}
			p := message.NewPrinter(language.English)
			out := cmd.OutOrStdout()
			for _, e := range entities {
				p.Fprintf(out, "%6d  %-24s %s\n", e.Mentions, e.EntityType, e.Name)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of entities to show")
	return cmd
}

func newGraphEntityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity <name>",
		Short: "Show relationships for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := graph.Open(cfg.Graph.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			rels, err := store.RelationshipsFor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rels {
				fmt.Fprintf(out, "%s -[%s]-> %s  (%s)\n", r.Source, r.RelationType, r.Target, r.RecordID)
			}
			if len(rels) == 0 {
				fmt.Fprintf(out, "no relationships for %q\n", args[0])
			}
			return nil
		},
	}
	return cmd
}

func newGraphStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show graph size counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := graph.Open(cfg.Graph.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			p := message.NewPrinter(language.English)
			p.Fprintf(cmd.OutOrStdout(), "entities: %d\nrelationships: %d\nrecords: %d\n",
				st.Entities, st.Relationships, st.Records)
			return nil
		},
	}
	return cmd
}

// loadResults reads the retrieved per-record outputs for a parent batch
// (union of its children's result files) or a standalone batch.
func loadResults(parentID, batchID string) (map[string]json.RawMessage, error) {
	store, err := batch.NewStore(cfg.Batch.Dir)
	if err != nil {
		return nil, err
	}

	if batchID != "" {
		unit, err := store.LoadUnit(batchID)
		if err != nil {
			return nil, err
		}
		if unit.ResultPath == "" {
			return nil, fmt.Errorf("batch %s has no retrieved results (status %s)", batchID, unit.Status)
		}
		return batch.ReadResults(unit.ResultPath)
	}

	parent, err := store.LoadParent(parentID)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage)
	for _, child := range parent.Children {
		if child.ResultPath == "" {
			continue
		}
		results, err := batch.ReadResults(child.ResultPath)
		if err != nil {
			return nil, err
		}
		for id, raw := range results {
			merged[id] = raw
		}
	}
	if len(merged) == 0 {
		return nil, fmt.Errorf("parent %s has no retrieved results: run retrieve first", parentID)
	}
	return merged, nil
}

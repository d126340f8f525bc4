package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/NewTurn2017/oc-memory/internal/output"
)

func newStatsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show engine statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Output format: text, json (default: text on a terminal, json otherwise)")
	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, format string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, vectorPath, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine(eng, vectorPath)

	stats, err := eng.Stats(ctx)
	if err != nil {
		return err
	}

	if resolveFormat(cmd.OutOrStdout(), format) == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	out := output.New(cmd.OutOrStdout())
	out.Statusf("", "total: %d   indexed: %d   mode: %s   embedder: %v", stats.TotalMemories, stats.IndexedCount, stats.SearchMode, stats.HasEmbedder)
	for t, n := range stats.ByType {
		out.Statusf("", "  type %-12s %d", t, n)
	}
	for p, n := range stats.ByPriority {
		out.Statusf("", "  priority %-9s %d", p, n)
	}
	return nil
}

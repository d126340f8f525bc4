package cmd

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/NewTurn2017/oc-memory/internal/output"
	"github.com/NewTurn2017/oc-memory/internal/search"
	"github.com/NewTurn2017/oc-memory/internal/store"
)

type searchOptions struct {
	limit      int
	indexOnly  bool
	format     string
	memoryType []string
	tags       []string
	after      string
	before     string
}

func (o searchOptions) toFilter() (search.Filter, error) {
	f := search.Filter{Tags: o.tags}
	for _, t := range o.memoryType {
		f.Types = append(f.Types, store.MemoryType(t))
	}
	if o.after != "" {
		after, err := time.Parse(time.RFC3339, o.after)
		if err != nil {
			return search.Filter{}, err
		}
		f.After = after
	}
	if o.before != "" {
		before, err := time.Parse(time.RFC3339, o.before)
		if err != nil {
			return search.Filter{}, err
		}
		f.Before = before
	}
	return f, nil
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored memories",
		Long: `Search stored memories using hybrid retrieval, combining
semantic similarity, keyword overlap, recency, and importance into one
ranked list.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&opts.indexOnly, "index-only", false, "Return metadata only, skip content hydration and recency tracking")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format: text, json (default: text on a terminal, json otherwise)")
	cmd.Flags().StringSliceVar(&opts.memoryType, "type", nil, "Restrict results to these memory types")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Restrict results to memories carrying all of these tags")
	cmd.Flags().StringVar(&opts.after, "after", "", "Only memories created at or after this RFC3339 timestamp")
	cmd.Flags().StringVar(&opts.before, "before", "", "Only memories created at or before this RFC3339 timestamp")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, vectorPath, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine(eng, vectorPath)

	filter, err := opts.toFilter()
	if err != nil {
		return err
	}

	resp, err := eng.Search(ctx, query, search.Options{Limit: opts.limit, IndexOnly: opts.indexOnly, Filter: filter})
	if err != nil {
		return err
	}

	if resolveFormat(cmd.OutOrStdout(), opts.format) == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	out := output.New(cmd.OutOrStdout())
	if resp.Partial {
		out.Warning("results are partial: the search deadline expired")
	}
	if len(resp.Hits) == 0 {
		out.Status("", "no matches")
		return nil
	}
	for _, hit := range resp.Hits {
		out.Statusf("", "%.3f  %s  (%s)", hit.Score, hit.Memory.Title, hit.Memory.ID)
	}
	return nil
}

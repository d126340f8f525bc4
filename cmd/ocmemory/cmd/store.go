package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NewTurn2017/oc-memory/internal/engine"
	"github.com/NewTurn2017/oc-memory/internal/output"
	"github.com/NewTurn2017/oc-memory/internal/store"
)

type storeOptions struct {
	title    string
	memType  string
	priority string
	tags     []string
	format   string
}

func newStoreCmd() *cobra.Command {
	var opts storeOptions

	cmd := &cobra.Command{
		Use:   "store <content>",
		Short: "Store a new memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			return runStore(cmd.Context(), cmd, content, opts)
		},
	}

	cmd.Flags().StringVar(&opts.title, "title", "", "Memory title")
	cmd.Flags().StringVar(&opts.memType, "type", string(store.MemoryTypeObservation), "Memory type: observation, decision, preference, fact, task, session, bugfix, discovery")
	cmd.Flags().StringVar(&opts.priority, "priority", string(store.PriorityNormal), "Priority: low, medium, high")
	cmd.Flags().StringSliceVar(&opts.tags, "tags", nil, "Comma-separated tags")
	cmd.Flags().StringVar(&opts.format, "format", "", "Output format: text, json (default: text on a terminal, json otherwise)")

	return cmd
}

func runStore(ctx context.Context, cmd *cobra.Command, content string, opts storeOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, vectorPath, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine(eng, vectorPath)

	result, err := eng.Store(ctx, engine.StoreInput{
		Title:    opts.title,
		Content:  content,
		Type:     store.MemoryType(opts.memType),
		Priority: store.Priority(opts.priority),
		Tags:     opts.tags,
	})
	if err != nil {
		return err
	}

	if resolveFormat(cmd.OutOrStdout(), opts.format) == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("stored %s", result.ID)
	if result.Degraded {
		out.Warning("write is degraded: neither index accepted it yet")
	}
	return nil
}

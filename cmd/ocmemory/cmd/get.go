package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/NewTurn2017/oc-memory/internal/output"
)

func newGetCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a memory by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), cmd, args[0], format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Output format: text, json (default: text on a terminal, json otherwise)")
	return cmd
}

func runGet(ctx context.Context, cmd *cobra.Command, id, format string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, vectorPath, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine(eng, vectorPath)

	memory, err := eng.Get(ctx, id)
	if err != nil {
		return err
	}

	if resolveFormat(cmd.OutOrStdout(), format) == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(memory)
	}

	out := output.New(cmd.OutOrStdout())
	out.Statusf("", "%s  [%s/%s]", memory.Title, memory.Type, memory.Priority)
	out.Code(memory.Content)
	return nil
}

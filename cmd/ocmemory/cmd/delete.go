package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/NewTurn2017/oc-memory/internal/output"
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a memory by id",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), cmd, args[0])
		},
	}
	return cmd
}

func runDelete(ctx context.Context, cmd *cobra.Command, id string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, vectorPath, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine(eng, vectorPath)

	deleted, err := eng.Delete(ctx, id)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if deleted {
		out.Successf("deleted %s", id)
	} else {
		out.Warningf("%s was already gone", id)
	}
	return nil
}

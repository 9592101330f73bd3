package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/luqma-backoffice/backend/internal/app"
)

func newDLQCmd(run backendsRunner) *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List claim repair jobs that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, b *app.Backends) error {
				if b.Queue == nil {
					return errors.New("redis is disabled; there is no job queue")
				}
				jobs, err := b.Queue.DeadLetters(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), jobs)
			})
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 50, "Maximum jobs to list")
	return cmd
}

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/luqma-backoffice/backend/internal/app"
)

func newInspectCmd(run backendsRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <uid>",
		Short: "Compare a principal's stored claims with its membership records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, b *app.Backends) error {
				in, err := b.ReconcileJob().Inspect(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), in)
			})
		},
	}
}

func newResyncCmd(run backendsRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "resync <uid>",
		Short: "Rebuild one principal's claims now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, b *app.Backends) error {
				res, err := b.ReconcileJob().ReconcilePrincipal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

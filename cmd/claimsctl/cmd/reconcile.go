package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luqma-backoffice/backend/internal/app"
	"github.com/luqma-backoffice/backend/internal/reconcile"
)

func newReconcileCmd(run backendsRunner) *cobra.Command {
	var opts reconcile.Options
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild every principal's claims from membership records",
		Long: `Scans every membership record, recomputes each principal's businessIds and roles and
overwrites claims that drifted. Failures are listed and do not stop the scan; the command
exits non-zero when any principal failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, b *app.Backends) error {
				report, err := b.ReconcileJob().Run(ctx, opts)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if len(report.Failed) > 0 {
					return fmt.Errorf("%d of %d principals failed", len(report.Failed), report.Principals)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Report drift without writing claims")
	cmd.Flags().BoolVar(&opts.Archive, "archive", false, "Upload the report to the configured bucket")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", reconcile.DefaultConcurrency, "Principals reconciled in parallel")
	return cmd
}

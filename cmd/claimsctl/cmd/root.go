package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/luqma-backoffice/backend/config"
	"github.com/luqma-backoffice/backend/internal/app"
)

// Opener connects the backends a command works against.
type Opener func(ctx context.Context, logger *zap.Logger) (*app.Backends, error)

func openFromEnv(ctx context.Context, logger *zap.Logger) (*app.Backends, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg, logger)
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd(openFromEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree. open is called once per command invocation.
func NewRootCmd(open Opener) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "claimsctl",
		Short: "Operate on principal access claims",
		Long: `claimsctl rebuilds access claims from membership records, inspects drift for a
single principal and lists claim repair jobs that exhausted their retries.
Configuration is read from the environment, like the server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")

	withBackends := func(cmd *cobra.Command, fn func(ctx context.Context, b *app.Backends) error) error {
		logger := newLogger(verbose)
		defer logger.Sync()
		b, err := open(cmd.Context(), logger)
		if err != nil {
			return fmt.Errorf("open backends: %w", err)
		}
		defer b.Close()
		return fn(cmd.Context(), b)
	}

	root.AddCommand(newReconcileCmd(withBackends))
	root.AddCommand(newInspectCmd(withBackends))
	root.AddCommand(newResyncCmd(withBackends))
	root.AddCommand(newDLQCmd(withBackends))
	return root
}

type backendsRunner func(cmd *cobra.Command, fn func(ctx context.Context, b *app.Backends) error) error

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

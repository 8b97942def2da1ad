package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prashanthpai/datacore"
	"github.com/prashanthpai/datacore/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the datacore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "datacore",
		Short:         "Routed, cached SQL from the command line",
		Long:          "Render statements, run cached reads against the configured primary and replicas, and invalidate cached entries.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "datacore.yaml", "configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewRenderCommand())
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewInvalidateCommand(opts))

	return cmd
}

// openDB loads the configuration and connects. The returned logger must
// be synced by the caller.
func openDB(ctx context.Context, opts *RootOptions) (*datacore.DB, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := cfg.Log.Logger()
	if err != nil {
		return nil, nil, err
	}

	db, err := datacore.Open(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return db, logger, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

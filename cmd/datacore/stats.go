package main

import (
	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Connect and print router and cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, logger, err := openDB(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			defer db.Close()

			return writeJSON(cmd.OutOrStdout(), db.Stats())
		},
	}
}

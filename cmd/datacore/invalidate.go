package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prashanthpai/datacore"
)

// NewInvalidateCommand creates the invalidate command.
func NewInvalidateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		strategy string
		inv      datacore.Invalidation
		ids      []string
	)

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Invalidate cached entries",
		Example: `  datacore invalidate --table orders
  datacore invalidate --strategy granular --table orders --ids 7,9
  datacore invalidate --strategy tags --tags dashboard`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := datacore.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			inv.Strategy = s
			for _, id := range ids {
				inv.IDs = append(inv.IDs, id)
			}

			ctx := cmd.Context()
			db, logger, err := openDB(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			defer db.Close()

			if err := db.Invalidate(ctx, inv); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated (%s)\n", s)
			return nil
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "broad", "broad|granular|ttl|versioned|tags")
	cmd.Flags().StringVarP(&inv.Table, "table", "t", "", "table whose entries are stale")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "record ids, for granular")
	cmd.Flags().StringSliceVar(&inv.Tags, "tags", nil, "tags, for tags")
	cmd.Flags().StringVar(&inv.Prefix, "prefix", "", "key prefix (default from config)")

	return cmd
}

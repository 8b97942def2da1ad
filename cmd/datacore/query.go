package main

import (
	"time"

	"github.com/spf13/cobra"
)

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		flags    statementFlags
		cacheTTL time.Duration
		tags     []string
		maxRows  int
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a read on a replica, through the cache when --cache-ttl is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, logger, err := openDB(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			defer db.Close()

			q := db.Table(flags.table)
			if err := flags.apply(q.Builder()); err != nil {
				return err
			}
			if cacheTTL > 0 || len(tags) > 0 {
				q.WithCache(cacheTTL, "").CacheTags(tags...).CacheMaxRows(maxRows)
			}

			item, err := q.Get(ctx)
			if err != nil {
				return err
			}
			rows := item.Maps()
			if rows == nil {
				rows = []map[string]interface{}{}
			}
			return writeJSON(cmd.OutOrStdout(), rows)
		},
	}

	flags.register(cmd)
	cmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 0, "cache the result for this long")
	cmd.Flags().StringSliceVar(&tags, "cache-tags", nil, "tags to register the cached result under")
	cmd.Flags().IntVar(&maxRows, "cache-max-rows", 0, "do not cache results with more rows")

	return cmd
}

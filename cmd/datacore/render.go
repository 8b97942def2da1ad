package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prashanthpai/datacore/query"
)

type renderOutput struct {
	SQL  string        `json:"sql"`
	Args []interface{} `json:"args"`
}

// NewRenderCommand creates the render command. It never connects.
func NewRenderCommand() *cobra.Command {
	var (
		flags   statementFlags
		dialect string
		count   bool
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the SQL and parameters of a read",
		Example: `  datacore render --table orders --where "status = open" --order created_at:desc --limit 10
  datacore render -t orders -w "id in 1,2,3" --dialect question`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := query.New(flags.table)
			switch strings.ToLower(dialect) {
			case "dollar", "postgres", "pgx":
				b.WithDialect(query.Dollar)
			case "question", "sqlite":
				b.WithDialect(query.Question)
			default:
				return fmt.Errorf("unknown dialect %q", dialect)
			}
			if err := flags.apply(b); err != nil {
				return err
			}

			render := b.Render
			if count {
				render = b.RenderCount
			}
			st, err := render()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), renderOutput{SQL: st.SQL, Args: st.Args})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&dialect, "dialect", "dollar", "placeholder style (dollar|question)")
	cmd.Flags().BoolVar(&count, "count", false, "render the count query instead")

	return cmd
}

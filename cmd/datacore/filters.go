package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prashanthpai/datacore/query"
)

// statementFlags are the flags shared by render and query.
type statementFlags struct {
	table   string
	columns []string
	where   []string
	order   []string
	groupBy []string
	limit   int64
	offset  int64
}

func (f *statementFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.table, "table", "t", "", "table to read")
	cmd.Flags().StringSliceVar(&f.columns, "select", nil, "columns to select (default *)")
	cmd.Flags().StringArrayVarP(&f.where, "where", "w", nil, `filter "column op value", repeatable; lists are comma separated`)
	cmd.Flags().StringArrayVar(&f.order, "order", nil, "ordering column[:asc|desc], repeatable")
	cmd.Flags().StringSliceVar(&f.groupBy, "group-by", nil, "grouping columns")
	cmd.Flags().Int64Var(&f.limit, "limit", -1, "row limit")
	cmd.Flags().Int64Var(&f.offset, "offset", -1, "row offset")
	_ = cmd.MarkFlagRequired("table")
}

// apply adds the flags to b and returns the first construction error.
func (f *statementFlags) apply(b *query.Builder) error {
	if len(f.columns) > 0 {
		b.Select(f.columns...)
	}
	for _, w := range f.where {
		col, op, value, err := parseFilter(w)
		if err != nil {
			return err
		}
		b.Where(col, op, value)
	}
	for _, o := range f.order {
		col, dir, _ := strings.Cut(o, ":")
		b.OrderBy(col, query.Direction(strings.ToUpper(dir)))
	}
	if len(f.groupBy) > 0 {
		b.GroupBy(f.groupBy...)
	}
	if f.limit >= 0 {
		b.Limit(f.limit)
	}
	if f.offset >= 0 {
		b.Offset(f.offset)
	}
	return b.Err()
}

// parseFilter splits "column op value". Operators may span several words
// ("NOT IN", "IS NOT NULL"); null tests take no value.
func parseFilter(s string) (string, query.Op, interface{}, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return "", "", nil, fmt.Errorf("filter %q: want \"column op value\"", s)
	}
	col := fields[0]

	if op, err := query.ParseOp(strings.Join(fields[1:], " ")); err == nil {
		if op == query.IsNull || op == query.IsNotNull {
			return col, op, nil, nil
		}
	}
	if len(fields) < 3 {
		return "", "", nil, fmt.Errorf("filter %q: missing value", s)
	}

	op, err := query.ParseOp(strings.Join(fields[1:len(fields)-1], " "))
	if err != nil {
		return "", "", nil, err
	}
	raw := fields[len(fields)-1]

	switch op {
	case query.In, query.NotIn, query.Between:
		parts := strings.Split(raw, ",")
		list := make([]interface{}, len(parts))
		for i, p := range parts {
			list[i] = literal(p)
		}
		return col, op, list, nil
	}
	return col, op, literal(raw), nil
}

// literal reads an integer, float or bool, falling back to text.
func literal(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	return s
}

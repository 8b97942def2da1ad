package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StatementType classifies a rendered statement.
type StatementType int

const (
	SelectStatement StatementType = iota
	CountStatement
	InsertStatement
	UpdateStatement
	DeleteStatement
)

func (t StatementType) String() string {
	switch t {
	case SelectStatement:
		return "select"
	case CountStatement:
		return "count"
	case InsertStatement:
		return "insert"
	case UpdateStatement:
		return "update"
	case DeleteStatement:
		return "delete"
	}
	return "unknown"
}

// IsWrite reports whether the statement mutates data.
func (t StatementType) IsWrite() bool {
	return t == InsertStatement || t == UpdateStatement || t == DeleteStatement
}

// Statement is a rendered plan: SQL text plus the ordered parameter list.
// The Nth placeholder in SQL binds Args[N-1].
type Statement struct {
	Type      StatementType
	Table     string
	SQL       string
	Args      []interface{}
	Returning bool
}

// renderer owns the single running placeholder counter for one statement.
type renderer struct {
	dialect Dialect
	sb      strings.Builder
	args    []interface{}
}

func (r *renderer) bind(v interface{}) string {
	r.args = append(r.args, v)
	if r.dialect == Question {
		return "?"
	}
	return "$" + strconv.Itoa(len(r.args))
}

func (r *renderer) write(parts ...string) {
	for _, p := range parts {
		r.sb.WriteString(p)
	}
}

func (r *renderer) statement(t StatementType, table string) Statement {
	return Statement{Type: t, Table: table, SQL: r.sb.String(), Args: r.args}
}

func (b *Builder) newRenderer() *renderer {
	return &renderer{dialect: b.dialect, args: []interface{}{}}
}

// Render renders the plan as a SELECT.
func (b *Builder) Render() (Statement, error) {
	if b.err != nil {
		return Statement{}, b.err
	}
	r := b.newRenderer()
	b.renderSelect(r, true)
	return r.statement(SelectStatement, b.table), nil
}

// RenderCount renders a row count over the plan. Ordering and paging are
// dropped. A grouped plan is counted by group.
func (b *Builder) RenderCount() (Statement, error) {
	if b.err != nil {
		return Statement{}, b.err
	}
	r := b.newRenderer()
	if len(b.groupBy) > 0 {
		r.write("SELECT COUNT(*) AS count FROM (")
		b.renderSelect(r, false)
		r.write(") AS grouped")
	} else {
		r.write("SELECT COUNT(*) AS count FROM ", b.table)
		b.renderJoins(r)
		b.renderWhere(r)
	}
	return r.statement(CountStatement, b.table), nil
}

func (b *Builder) renderSelect(r *renderer, paged bool) {
	cols := "*"
	if len(b.columns) > 0 {
		cols = strings.Join(b.columns, ", ")
	}
	r.write("SELECT ", cols, " FROM ", b.table)
	b.renderJoins(r)
	b.renderWhere(r)
	if len(b.groupBy) > 0 {
		r.write(" GROUP BY ", strings.Join(b.groupBy, ", "))
	}
	if b.having != "" {
		r.write(" HAVING ", b.having)
	}
	if !paged {
		return
	}
	if len(b.orders) > 0 {
		keys := make([]string, len(b.orders))
		for i, o := range b.orders {
			keys[i] = o.Column + " " + string(o.Direction)
		}
		r.write(" ORDER BY ", strings.Join(keys, ", "))
	}
	if b.limit != nil {
		r.write(" LIMIT ", r.bind(*b.limit))
	}
	if b.offset != nil {
		r.write(" OFFSET ", r.bind(*b.offset))
	}
}

func (b *Builder) renderJoins(r *renderer) {
	for _, j := range b.joins {
		r.write(" ", string(j.Kind), " JOIN ", j.Table)
		if j.Alias != "" {
			r.write(" AS ", j.Alias)
		}
		if j.On != "" {
			r.write(" ON ", j.On)
		}
	}
}

func (b *Builder) renderWhere(r *renderer) {
	for i, f := range b.filters {
		if i == 0 {
			r.write(" WHERE ")
		} else {
			r.write(" AND ")
		}
		r.write(f.Column, " ", string(f.Op))
		switch f.Op {
		case IsNull, IsNotNull:
		case In, NotIn:
			ph := make([]string, f.Value.Len())
			for k, it := range f.Value.list {
				ph[k] = r.bind(it.Arg())
			}
			r.write(" (", strings.Join(ph, ", "), ")")
		case Between:
			lo := r.bind(f.Value.list[0].Arg())
			hi := r.bind(f.Value.list[1].Arg())
			r.write(" ", lo, " AND ", hi)
		default:
			r.write(" ", r.bind(f.Value.Arg()))
		}
	}
}

func (b *Builder) renderReturning(r *renderer) {
	if len(b.returning) > 0 {
		r.write(" RETURNING ", strings.Join(b.returning, ", "))
	}
}

// sortedColumns validates assignment data and returns its columns in a
// stable order, with the converted values.
func sortedColumns(data map[string]interface{}) ([]string, []Value, error) {
	if len(data) == 0 {
		return nil, nil, ErrNoColumns
	}
	cols := make([]string, 0, len(data))
	for c := range data {
		if !identRe.MatchString(c) {
			return nil, nil, fmt.Errorf("%w: column %q", ErrInvalidIdentifier, c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	vals := make([]Value, len(cols))
	for i, c := range cols {
		v, err := valueOf(data[c], false)
		if err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", c, err)
		}
		vals[i] = v
	}
	return cols, vals, nil
}

// RenderInsert renders an INSERT of a single row. Columns are emitted in
// lexical order.
func (b *Builder) RenderInsert(data map[string]interface{}) (Statement, error) {
	if b.err != nil {
		return Statement{}, b.err
	}
	cols, vals, err := sortedColumns(data)
	if err != nil {
		return Statement{}, err
	}
	r := b.newRenderer()
	ph := make([]string, len(vals))
	for i, v := range vals {
		ph[i] = r.bind(v.Arg())
	}
	r.write("INSERT INTO ", b.table, " (", strings.Join(cols, ", "), ") VALUES (", strings.Join(ph, ", "), ")")
	b.renderReturning(r)
	st := r.statement(InsertStatement, b.table)
	st.Returning = len(b.returning) > 0
	return st, nil
}

// RenderUpdate renders an UPDATE. SET parameters precede WHERE parameters.
func (b *Builder) RenderUpdate(data map[string]interface{}) (Statement, error) {
	if b.err != nil {
		return Statement{}, b.err
	}
	if b.requireWhere && len(b.filters) == 0 {
		return Statement{}, ErrUnguardedMutation
	}
	cols, vals, err := sortedColumns(data)
	if err != nil {
		return Statement{}, err
	}
	r := b.newRenderer()
	r.write("UPDATE ", b.table, " SET ")
	for i, c := range cols {
		if i > 0 {
			r.write(", ")
		}
		r.write(c, " = ", r.bind(vals[i].Arg()))
	}
	b.renderWhere(r)
	b.renderReturning(r)
	st := r.statement(UpdateStatement, b.table)
	st.Returning = len(b.returning) > 0
	return st, nil
}

// RenderDelete renders a DELETE. Without predicates it affects every row
// unless RequireWhere was set.
func (b *Builder) RenderDelete() (Statement, error) {
	if b.err != nil {
		return Statement{}, b.err
	}
	if b.requireWhere && len(b.filters) == 0 {
		return Statement{}, ErrUnguardedMutation
	}
	r := b.newRenderer()
	r.write("DELETE FROM ", b.table)
	b.renderWhere(r)
	b.renderReturning(r)
	st := r.statement(DeleteStatement, b.table)
	st.Returning = len(b.returning) > 0
	return st, nil
}

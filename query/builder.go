// Package query accumulates a declarative description of a single-table
// statement and renders it into SQL text plus an ordered parameter list.
// It knows nothing about connections or caching.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect selects the positional placeholder syntax.
type Dialect int

const (
	// Dollar renders $1, $2, ... (PostgreSQL).
	Dollar Dialect = iota
	// Question renders ? for every parameter (SQLite, MySQL).
	Question
)

// JoinKind is the kind of a JOIN clause.
type JoinKind string

const (
	InnerJoin JoinKind = "INNER"
	LeftJoin  JoinKind = "LEFT"
	RightJoin JoinKind = "RIGHT"
	FullJoin  JoinKind = "FULL"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Filter is a single WHERE predicate.
type Filter struct {
	Column string
	Op     Op
	Value  Value
}

// Join describes a JOIN clause. On is trusted SQL text.
type Join struct {
	Kind  JoinKind
	Table string
	Alias string
	On    string
}

// Order is a single ORDER BY key.
type Order struct {
	Column    string
	Direction Direction
}

var (
	identRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)?$`)
	columnRe = regexp.MustCompile(`^(\*|[A-Za-z_][A-Za-z0-9_$]*(\.([A-Za-z_][A-Za-z0-9_$]*|\*))?)(\s+(?i:AS)\s+[A-Za-z_][A-Za-z0-9_$]*)?$`)
)

// Builder accumulates a query plan for a single table. It is not safe for
// concurrent use; create one per query.
//
// Construction errors are recorded on the call that introduced them and
// reported by the Render methods.
type Builder struct {
	dialect      Dialect
	table        string
	columns      []string
	filters      []Filter
	joins        []Join
	orders       []Order
	groupBy      []string
	having       string
	limit        *int64
	offset       *int64
	returning    []string
	requireWhere bool
	err          error
}

// New starts a plan against table.
func New(table string) *Builder {
	b := &Builder{}
	if table == "" {
		b.fail(ErrNoTable)
	} else if !identRe.MatchString(table) {
		b.fail(fmt.Errorf("%w: table %q", ErrInvalidIdentifier, table))
	}
	b.table = table
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) ident(what, name string) bool {
	if identRe.MatchString(name) {
		return true
	}
	b.fail(fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, what, name))
	return false
}

// Err returns the first construction error, if any.
func (b *Builder) Err() error { return b.err }

// Table returns the target table.
func (b *Builder) Table() string { return b.table }

// Filters returns a copy of the accumulated predicates.
func (b *Builder) Filters() []Filter { return append([]Filter(nil), b.filters...) }

// Clone returns an independent copy of the plan.
func (b *Builder) Clone() *Builder {
	c := *b
	c.columns = append([]string(nil), b.columns...)
	c.filters = append([]Filter(nil), b.filters...)
	c.joins = append([]Join(nil), b.joins...)
	c.orders = append([]Order(nil), b.orders...)
	c.groupBy = append([]string(nil), b.groupBy...)
	c.returning = append([]string(nil), b.returning...)
	if b.limit != nil {
		l := *b.limit
		c.limit = &l
	}
	if b.offset != nil {
		o := *b.offset
		c.offset = &o
	}
	return &c
}

// WithDialect sets the placeholder syntax. Default is Dollar.
func (b *Builder) WithDialect(d Dialect) *Builder {
	b.dialect = d
	return b
}

// Select sets the selected columns. Accepts identifiers, table.*, * and
// "column AS alias". No columns means all columns.
func (b *Builder) Select(columns ...string) *Builder {
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if !columnRe.MatchString(c) {
			b.fail(fmt.Errorf("%w: column %q", ErrInvalidIdentifier, c))
			continue
		}
		b.columns = append(b.columns, c)
	}
	return b
}

// Where appends a predicate. IN and NOT IN accept a slice (a scalar is
// treated as a one element list); BETWEEN requires exactly two values;
// IS NULL and IS NOT NULL ignore value.
func (b *Builder) Where(column string, op Op, value interface{}) *Builder {
	if !b.ident("column", column) {
		return b
	}
	op, err := ParseOp(string(op))
	if err != nil {
		b.fail(err)
		return b
	}

	var v Value
	switch op.placeholders() {
	case 0:
		v = Null()
	case -1, 2:
		lv, err := ValueOf(value)
		if err != nil {
			b.fail(fmt.Errorf("where %s: %w", column, err))
			return b
		}
		if !lv.IsList() {
			lv = List(lv)
		}
		if op == Between && lv.Len() != 2 {
			b.fail(fmt.Errorf("where %s: %w (got %d)", column, ErrBetweenArity, lv.Len()))
			return b
		}
		if lv.Len() == 0 {
			b.fail(fmt.Errorf("where %s: %w", column, ErrEmptyList))
			return b
		}
		v = lv
	default:
		sv, err := valueOf(value, false)
		if err != nil {
			b.fail(fmt.Errorf("where %s: %w", column, err))
			return b
		}
		v = sv
	}

	b.filters = append(b.filters, Filter{Column: column, Op: op, Value: v})
	return b
}

// WhereIn filters column to the values of a slice, one placeholder each.
func (b *Builder) WhereIn(column string, values interface{}) *Builder {
	return b.Where(column, In, values)
}

// WhereNotIn excludes the values of a slice.
func (b *Builder) WhereNotIn(column string, values interface{}) *Builder {
	return b.Where(column, NotIn, values)
}

// WhereBetween adds column BETWEEN low AND high. Both bounds must be scalars.
func (b *Builder) WhereBetween(column string, low, high interface{}) *Builder {
	lo, err := valueOf(low, false)
	if err != nil {
		b.fail(fmt.Errorf("where %s: %w", column, err))
		return b
	}
	hi, err := valueOf(high, false)
	if err != nil {
		b.fail(fmt.Errorf("where %s: %w", column, err))
		return b
	}
	return b.Where(column, Between, List(lo, hi))
}

// WhereNull adds column IS NULL.
func (b *Builder) WhereNull(column string) *Builder {
	return b.Where(column, IsNull, nil)
}

// WhereNotNull adds column IS NOT NULL.
func (b *Builder) WhereNotNull(column string) *Builder {
	return b.Where(column, IsNotNull, nil)
}

// Join appends a JOIN clause. on is used verbatim.
func (b *Builder) Join(kind JoinKind, table, on string) *Builder {
	return b.JoinAs(kind, table, "", on)
}

// JoinAs appends a JOIN clause with a table alias.
func (b *Builder) JoinAs(kind JoinKind, table, alias, on string) *Builder {
	switch kind {
	case InnerJoin, LeftJoin, RightJoin, FullJoin:
	default:
		b.fail(fmt.Errorf("%w: join kind %q", ErrInvalidOperator, kind))
		return b
	}
	if !b.ident("join table", table) {
		return b
	}
	if alias != "" && !b.ident("join alias", alias) {
		return b
	}
	b.joins = append(b.joins, Join{Kind: kind, Table: table, Alias: alias, On: on})
	return b
}

// Shorthands for Join.
func (b *Builder) InnerJoin(table, on string) *Builder { return b.Join(InnerJoin, table, on) }
func (b *Builder) LeftJoin(table, on string) *Builder { return b.Join(LeftJoin, table, on) }
func (b *Builder) RightJoin(table, on string) *Builder { return b.Join(RightJoin, table, on) }
func (b *Builder) FullJoin(table, on string) *Builder { return b.Join(FullJoin, table, on) }

// OrderBy appends a sort key. An empty direction means ASC.
func (b *Builder) OrderBy(column string, dir Direction) *Builder {
	if !b.ident("order column", column) {
		return b
	}
	switch Direction(strings.ToUpper(string(dir))) {
	case "", Asc:
		dir = Asc
	case Desc:
		dir = Desc
	default:
		b.fail(fmt.Errorf("%w: direction %q", ErrInvalidOperator, dir))
		return b
	}
	b.orders = append(b.orders, Order{Column: column, Direction: dir})
	return b
}

// GroupBy appends GROUP BY columns.
func (b *Builder) GroupBy(columns ...string) *Builder {
	for _, c := range columns {
		if b.ident("group column", c) {
			b.groupBy = append(b.groupBy, c)
		}
	}
	return b
}

// Having sets the HAVING predicate. text is used verbatim.
func (b *Builder) Having(text string) *Builder {
	b.having = strings.TrimSpace(text)
	return b
}

// Limit caps the number of rows. It is bound as a parameter.
func (b *Builder) Limit(n int64) *Builder {
	if n < 0 {
		b.fail(fmt.Errorf("%w: limit %d", ErrInvalidBound, n))
		return b
	}
	b.limit = &n
	return b
}

// Offset skips n rows. It is bound as a parameter after LIMIT.
func (b *Builder) Offset(n int64) *Builder {
	if n < 0 {
		b.fail(fmt.Errorf("%w: offset %d", ErrInvalidBound, n))
		return b
	}
	b.offset = &n
	return b
}

// Returning adds a RETURNING clause to INSERT, UPDATE and DELETE.
func (b *Builder) Returning(columns ...string) *Builder {
	for _, c := range columns {
		if c == "*" || b.ident("returning column", c) {
			b.returning = append(b.returning, c)
		}
	}
	return b
}

// RequireWhere makes UPDATE and DELETE rendering fail when the plan has no
// predicates.
func (b *Builder) RequireWhere() *Builder {
	b.requireWhere = true
	return b
}

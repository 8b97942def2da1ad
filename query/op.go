package query

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidIdentifier = errors.New("query: invalid identifier")
	ErrInvalidValue      = errors.New("query: invalid value")
	ErrInvalidOperator   = errors.New("query: invalid operator")
	ErrEmptyList         = errors.New("query: empty value list")
	ErrBetweenArity      = errors.New("query: BETWEEN takes exactly two values")
	ErrNoColumns         = errors.New("query: no columns to write")
	ErrNoTable           = errors.New("query: no table")
	ErrInvalidBound      = errors.New("query: limit and offset must be non-negative")
	// ErrUnguardedMutation is returned when RequireWhere is set and an UPDATE
	// or DELETE would affect every row.
	ErrUnguardedMutation = errors.New("query: UPDATE/DELETE without WHERE")
)

// Op is a filter operator.
type Op string

const (
	Eq        Op = "="
	Neq       Op = "!="
	Gt        Op = ">"
	Gte       Op = ">="
	Lt        Op = "<"
	Lte       Op = "<="
	Like      Op = "LIKE"
	ILike     Op = "ILIKE"
	In        Op = "IN"
	NotIn     Op = "NOT IN"
	IsNull    Op = "IS NULL"
	IsNotNull Op = "IS NOT NULL"
	Between   Op = "BETWEEN"
)

var opAliases = map[string]Op{
	"=":           Eq,
	"==":          Eq,
	"!=":          Neq,
	"<>":          Neq,
	"≠":           Neq,
	">":           Gt,
	">=":          Gte,
	"≥":           Gte,
	"<":           Lt,
	"<=":          Lte,
	"≤":           Lte,
	"LIKE":        Like,
	"ILIKE":       ILike,
	"IN":          In,
	"NOT IN":      NotIn,
	"IS NULL":     IsNull,
	"IS NOT NULL": IsNotNull,
	"BETWEEN":     Between,
}

// ParseOp maps textual operators, case-insensitively, onto Op.
func ParseOp(s string) (Op, error) {
	norm := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	if op, ok := opAliases[norm]; ok {
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOperator, s)
}

// placeholders returns how many parameters the operator binds; -1 means one
// per list element.
func (op Op) placeholders() int {
	switch op {
	case IsNull, IsNotNull:
		return 0
	case Between:
		return 2
	case In, NotIn:
		return -1
	default:
		return 1
	}
}

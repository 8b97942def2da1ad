package query

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestRenderOrdersExample(t *testing.T) {
	assert := require.New(t)

	st, err := New("orders").
		Where("status", Eq, "open").
		OrderBy("created_at", Desc).
		Limit(10).
		Render()
	assert.Nil(err)
	assert.Equal("SELECT * FROM orders WHERE status = $1 ORDER BY created_at DESC LIMIT $2", st.SQL)
	assert.Equal([]interface{}{"open", int64(10)}, st.Args)
	assert.Equal(SelectStatement, st.Type)
	assert.Equal("orders", st.Table)
}

func TestRenderGolden(t *testing.T) {
	tcs := map[string]func() (Statement, error){
		"orders_open": func() (Statement, error) {
			return New("orders").Where("status", Eq, "open").OrderBy("created_at", Desc).Limit(10).Render()
		},
		"join_filters_paging": func() (Statement, error) {
			return New("orders").
				Select("orders.id", "c.name AS customer").
				JoinAs(LeftJoin, "customers", "c", "c.id = orders.customer_id").
				WhereIn("orders.status", []string{"open", "held"}).
				WhereBetween("orders.total", 10, 20).
				WhereNotNull("orders.shipped_at").
				Where("c.name", ILike, "a%").
				OrderBy("orders.id", Asc).
				Limit(5).
				Offset(15).
				Render()
		},
		"grouped_count": func() (Statement, error) {
			return New("orders").
				Select("customer_id").
				Where("status", Eq, "open").
				GroupBy("customer_id").
				Having("COUNT(*) > 1").
				OrderBy("customer_id", Asc).
				Limit(3).
				RenderCount()
		},
		"update_returning": func() (Statement, error) {
			return New("orders").
				Where("id", Eq, 7).
				Returning("id").
				RenderUpdate(map[string]interface{}{"status": "closed", "total": 12.5})
		},
		"insert_question": func() (Statement, error) {
			return New("orders").
				WithDialect(Question).
				RenderInsert(map[string]interface{}{"status": "open", "qty": 3})
		},
		"delete_filtered": func() (Statement, error) {
			return New("sessions").
				WhereNull("user_id").
				Where("expires_at", Lt, "2024-01-01").
				RenderDelete()
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for name, build := range tcs {
		t.Run(name, func(t *testing.T) {
			st, err := build()
			require.Nil(t, err)
			g.Assert(t, name, []byte(fmt.Sprintf("%s\n%v\n", st.SQL, st.Args)))
		})
	}
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

func TestPlaceholderAlignment(t *testing.T) {
	assert := require.New(t)

	plans := []*Builder{
		New("t"),
		New("t").Limit(1),
		New("t").Offset(2),
		New("t").Where("a", Eq, 1).Limit(1).Offset(2),
		New("t").WhereIn("a", []int{1, 2, 3}).WhereBetween("b", 1, 9).Where("c", Neq, "x").Limit(4).Offset(8),
		New("t").WhereNull("a").WhereNotIn("b", []string{"x"}).Offset(3),
	}

	for i, b := range plans {
		st, err := b.Render()
		assert.Nil(err, "plan %d", i)

		matches := placeholderRe.FindAllStringSubmatch(st.SQL, -1)
		assert.Len(matches, len(st.Args), "plan %d: %s", i, st.SQL)
		for n, m := range matches {
			idx, err := strconv.Atoi(m[1])
			assert.Nil(err)
			assert.Equal(n+1, idx, "plan %d: %s", i, st.SQL)
		}
	}

	// the last value appended is the last parameter
	st, err := New("t").Where("a", Eq, "first").Limit(4).Offset(8).Render()
	assert.Nil(err)
	assert.Equal([]interface{}{"first", int64(4), int64(8)}, st.Args)
}

func TestQuestionDialect(t *testing.T) {
	assert := require.New(t)

	st, err := New("t").WithDialect(Question).WhereIn("a", []int{1, 2}).Limit(1).Render()
	assert.Nil(err)
	assert.Equal("SELECT * FROM t WHERE a IN (?, ?) LIMIT ?", st.SQL)
	assert.Equal([]interface{}{int64(1), int64(2), int64(1)}, st.Args)
}

func TestDeterministicRendering(t *testing.T) {
	assert := require.New(t)

	b := New("orders").
		Select("id", "status").
		WhereIn("status", []string{"a", "b"}).
		OrderBy("id", Asc).
		Limit(3)

	first, err := b.Render()
	assert.Nil(err)
	second, err := b.Render()
	assert.Nil(err)
	assert.Equal(first, second)

	data := map[string]interface{}{"z": 1, "a": 2, "m": 3}
	for i := 0; i < 10; i++ {
		st, err := New("t").RenderInsert(data)
		assert.Nil(err)
		assert.Equal("INSERT INTO t (a, m, z) VALUES ($1, $2, $3)", st.SQL)
		assert.Equal([]interface{}{int64(2), int64(3), int64(1)}, st.Args)
	}
}

func TestNoClausesOmitted(t *testing.T) {
	assert := require.New(t)

	st, err := New("users").Render()
	assert.Nil(err)
	assert.Equal("SELECT * FROM users", st.SQL)
	assert.Empty(st.Args)

	st, err = New("users").RenderCount()
	assert.Nil(err)
	assert.Equal("SELECT COUNT(*) AS count FROM users", st.SQL)

	st, err = New("users").Where("age", Gte, 18).OrderBy("id", "").Limit(5).RenderCount()
	assert.Nil(err)
	assert.Equal("SELECT COUNT(*) AS count FROM users WHERE age >= $1", st.SQL)
	assert.Equal([]interface{}{int64(18)}, st.Args)
}

func TestUnguardedMutation(t *testing.T) {
	assert := require.New(t)

	// allowed by default
	st, err := New("users").RenderDelete()
	assert.Nil(err)
	assert.Equal("DELETE FROM users", st.SQL)

	st, err = New("users").RenderUpdate(map[string]interface{}{"active": false})
	assert.Nil(err)
	assert.Equal("UPDATE users SET active = $1", st.SQL)

	_, err = New("users").RequireWhere().RenderDelete()
	assert.True(errors.Is(err, ErrUnguardedMutation))

	_, err = New("users").RequireWhere().RenderUpdate(map[string]interface{}{"active": false})
	assert.True(errors.Is(err, ErrUnguardedMutation))

	st, err = New("users").RequireWhere().Where("id", Eq, 1).Returning("*").RenderDelete()
	assert.Nil(err)
	assert.Equal("DELETE FROM users WHERE id = $1 RETURNING *", st.SQL)
	assert.True(st.Returning)
}

func TestConstructionErrors(t *testing.T) {
	assert := require.New(t)

	tcs := map[string]struct {
		b   *Builder
		err error
	}{
		"empty table":          {New(""), ErrNoTable},
		"bad table":            {New("users; DROP TABLE x"), ErrInvalidIdentifier},
		"bad column":           {New("t").Where("a b", Eq, 1), ErrInvalidIdentifier},
		"bad select":           {New("t").Select("id, name"), ErrInvalidIdentifier},
		"bad operator":         {New("t").Where("a", Op("~~"), 1), ErrInvalidOperator},
		"empty in":             {New("t").WhereIn("a", []int{}), ErrEmptyList},
		"between arity":        {New("t").Where("a", Between, []int{1, 2, 3}), ErrBetweenArity},
		"between scalar":       {New("t").Where("a", Between, 1), ErrBetweenArity},
		"list for eq":          {New("t").Where("a", Eq, []int{1}), ErrInvalidValue},
		"nested list":          {New("t").WhereIn("a", [][]int{{1}}), ErrInvalidValue},
		"bytes":                {New("t").Where("a", Eq, []byte("x")), ErrInvalidValue},
		"struct":               {New("t").Where("a", Eq, struct{}{}), ErrInvalidValue},
		"negative limit":       {New("t").Limit(-1), ErrInvalidBound},
		"negative offset":      {New("t").Offset(-1), ErrInvalidBound},
		"bad direction":        {New("t").OrderBy("a", "SIDEWAYS"), ErrInvalidOperator},
		"bad join kind":        {New("t").Join("CROSS", "u", "true"), ErrInvalidOperator},
		"first error is kept":  {New("t").Limit(-1).Where("a b", Eq, 1), ErrInvalidBound},
		"bad returning column": {New("t").Returning("a-b"), ErrInvalidIdentifier},
	}

	for name, tc := range tcs {
		_, err := tc.b.Render()
		assert.True(errors.Is(err, tc.err), "%s: got %v", name, err)
		assert.Equal(err, tc.b.Err(), name)
	}

	_, err := New("t").RenderInsert(nil)
	assert.True(errors.Is(err, ErrNoColumns))
	_, err = New("t").RenderUpdate(map[string]interface{}{"bad col": 1})
	assert.True(errors.Is(err, ErrInvalidIdentifier))
	_, err = New("t").RenderInsert(map[string]interface{}{"a": []int{1}})
	assert.True(errors.Is(err, ErrInvalidValue))
}

func TestOperatorAliases(t *testing.T) {
	assert := require.New(t)

	st, err := New("t").
		Where("a", Op("<>"), 1).
		Where("b", Op("≥"), 2).
		Where("c", Op("not   in"), []int{3}).
		Where("d", Op("is null"), nil).
		Render()
	assert.Nil(err)
	assert.Equal("SELECT * FROM t WHERE a != $1 AND b >= $2 AND c NOT IN ($3) AND d IS NULL", st.SQL)

	op, err := ParseOp(" ilike ")
	assert.Nil(err)
	assert.Equal(ILike, op)

	_, err = ParseOp("contains")
	assert.True(errors.Is(err, ErrInvalidOperator))
}

func TestScalarIn(t *testing.T) {
	assert := require.New(t)

	st, err := New("t").WhereIn("a", "x").Render()
	assert.Nil(err)
	assert.Equal("SELECT * FROM t WHERE a IN ($1)", st.SQL)
	assert.Equal([]interface{}{"x"}, st.Args)
}

func TestClone(t *testing.T) {
	assert := require.New(t)

	base := New("t").Where("a", Eq, 1).Limit(10)
	clone := base.Clone().Where("b", Eq, 2).Limit(1)

	st, err := base.Render()
	assert.Nil(err)
	assert.Equal("SELECT * FROM t WHERE a = $1 LIMIT $2", st.SQL)
	assert.Equal([]interface{}{int64(1), int64(10)}, st.Args)

	st, err = clone.Render()
	assert.Nil(err)
	assert.Equal("SELECT * FROM t WHERE a = $1 AND b = $2 LIMIT $3", st.SQL)
	assert.Equal([]interface{}{int64(1), int64(2), int64(1)}, st.Args)
	assert.Len(base.Filters(), 1)
}

func TestJoins(t *testing.T) {
	assert := require.New(t)

	st, err := New("a").
		InnerJoin("b", "b.a_id = a.id").
		RightJoin("c", "c.id = b.c_id").
		FullJoin("d", "d.id = c.d_id").
		LeftJoin("e", "e.id = a.e_id").
		Render()
	assert.Nil(err)
	assert.Equal("SELECT * FROM a INNER JOIN b ON b.a_id = a.id RIGHT JOIN c ON c.id = b.c_id "+
		"FULL JOIN d ON d.id = c.d_id LEFT JOIN e ON e.id = a.e_id", st.SQL)
}

type status string

func TestValueOf(t *testing.T) {
	assert := require.New(t)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	name := "x"
	var nilPtr *int

	tcs := []struct {
		in   interface{}
		kind Kind
		str  string
	}{
		{nil, KindNull, "null"},
		{"a", KindText, "s:a"},
		{status("open"), KindText, "s:open"},
		{&name, KindText, "s:x"},
		{nilPtr, KindNull, "null"},
		{42, KindInt, "i:42"},
		{uint(7), KindInt, "i:7"},
		{1.5, KindFloat, "f:1.5"},
		{true, KindBool, "b:true"},
		{now, KindDate, "d:2024-05-01T12:00:00Z"},
		{[]interface{}{1, "1"}, KindList, "l[i:1,s:1]"},
		{[2]bool{true, false}, KindList, "l[b:true,b:false]"},
		{Int(3), KindInt, "i:3"},
	}
	for _, tc := range tcs {
		v, err := ValueOf(tc.in)
		assert.Nil(err, "%v", tc.in)
		assert.Equal(tc.kind, v.Kind(), "%v", tc.in)
		assert.Equal(tc.str, v.String())
	}

	_, err := ValueOf(uint64(1 << 63))
	assert.True(errors.Is(err, ErrInvalidValue))
	_, err = ValueOf(map[string]int{})
	assert.True(errors.Is(err, ErrInvalidValue))

	assert.Equal([]interface{}{int64(1), "a"}, List(Int(1), Text("a")).Arg())
	assert.Panics(func() { List(List()) })
	assert.Equal("list", KindList.String())
}

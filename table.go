package datacore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prashanthpai/datacore/cache"
	"github.com/prashanthpai/datacore/query"
)

// DefaultPageSize applies when Paginate is called with a non-positive
// limit.
const DefaultPageSize = 20

// Query is a fluent statement against one table. Reads are cached only
// after WithCache (or one of the other Cache* calls); writes invalidate
// broadly unless InvalidateWith picks another strategy.
type Query struct {
	db    *DB
	tx    *Tx
	b     *query.Builder
	cache *CacheOptions
	inv   Invalidation
}

func newQuery(db *DB, tx *Tx, table string) *Query {
	return &Query{
		db:  db,
		tx:  tx,
		b:   query.New(table).WithDialect(db.dialect),
		inv: Invalidation{Strategy: Broad},
	}
}

// Builder exposes the underlying statement builder.
func (q *Query) Builder() *query.Builder { return q.b }

func (q *Query) Select(columns ...string) *Query {
	q.b.Select(columns...)
	return q
}

func (q *Query) Where(column string, op query.Op, value interface{}) *Query {
	q.b.Where(column, op, value)
	return q
}

func (q *Query) WhereIn(column string, values interface{}) *Query {
	q.b.WhereIn(column, values)
	return q
}

func (q *Query) WhereNotIn(column string, values interface{}) *Query {
	q.b.WhereNotIn(column, values)
	return q
}

func (q *Query) WhereBetween(column string, low, high interface{}) *Query {
	q.b.WhereBetween(column, low, high)
	return q
}

func (q *Query) WhereNull(column string) *Query {
	q.b.WhereNull(column)
	return q
}

func (q *Query) WhereNotNull(column string) *Query {
	q.b.WhereNotNull(column)
	return q
}

func (q *Query) Join(kind query.JoinKind, table, on string) *Query {
	q.b.Join(kind, table, on)
	return q
}

func (q *Query) JoinAs(kind query.JoinKind, table, alias, on string) *Query {
	q.b.JoinAs(kind, table, alias, on)
	return q
}

func (q *Query) InnerJoin(table, on string) *Query { return q.Join(query.InnerJoin, table, on) }

func (q *Query) LeftJoin(table, on string) *Query { return q.Join(query.LeftJoin, table, on) }

func (q *Query) RightJoin(table, on string) *Query { return q.Join(query.RightJoin, table, on) }

func (q *Query) FullJoin(table, on string) *Query { return q.Join(query.FullJoin, table, on) }

func (q *Query) OrderBy(column string, dir query.Direction) *Query {
	q.b.OrderBy(column, dir)
	return q
}

func (q *Query) GroupBy(columns ...string) *Query {
	q.b.GroupBy(columns...)
	return q
}

func (q *Query) Having(text string) *Query {
	q.b.Having(text)
	return q
}

func (q *Query) Limit(n int64) *Query {
	q.b.Limit(n)
	return q
}

func (q *Query) Offset(n int64) *Query {
	q.b.Offset(n)
	return q
}

func (q *Query) Returning(columns ...string) *Query {
	q.b.Returning(columns...)
	return q
}

// RequireWhere makes Update and Delete fail with query.ErrUnguardedMutation
// when no predicate was added.
func (q *Query) RequireWhere() *Query {
	q.b.RequireWhere()
	return q
}

func (q *Query) cacheOptions() *CacheOptions {
	if q.cache == nil {
		q.cache = &CacheOptions{}
	}
	return q.cache
}

// WithCache caches reads for ttl (zero means the layer default) under
// prefix (empty means the layer default).
func (q *Query) WithCache(ttl time.Duration, prefix string) *Query {
	o := q.cacheOptions()
	o.TTL = ttl
	o.Prefix = prefix
	return q
}

// CacheTags caches reads and registers them under tags.
func (q *Query) CacheTags(tags ...string) *Query {
	o := q.cacheOptions()
	o.Tags = append(o.Tags, tags...)
	return q
}

// CacheVersioned caches reads under the table's current version.
func (q *Query) CacheVersioned() *Query {
	q.cacheOptions().Versioned = true
	return q
}

// CacheMaxRows caches reads only when they return at most n rows.
func (q *Query) CacheMaxRows(n int) *Query {
	q.cacheOptions().MaxRows = n
	return q
}

// InvalidateWith selects the invalidation applied after writes. An empty
// Table means the query's table.
func (q *Query) InvalidateWith(inv Invalidation) *Query {
	q.inv = inv
	return q
}

func (q *Query) read(ctx context.Context, st query.Statement) (*cache.Item, error) {
	switch {
	case q.tx != nil:
		return q.tx.q.Query(ctx, st.SQL, st.Args...)
	case q.cache == nil:
		return q.db.router.Query(ctx, st.SQL, st.Args...)
	default:
		return q.db.layer.Read(ctx, st, *q.cache)
	}
}

func (q *Query) write(ctx context.Context, st query.Statement) (WriteResult, error) {
	inv := q.inv
	if inv.Table == "" {
		inv.Table = st.Table
	}
	if q.tx == nil {
		return q.db.layer.Write(ctx, st, inv)
	}

	res, err := runWrite(ctx, q.tx.q, st)
	if err != nil {
		return res, err
	}
	q.tx.enqueue(inv)
	return res, nil
}

// Get runs the query and returns every row.
func (q *Query) Get(ctx context.Context) (*cache.Item, error) {
	st, err := q.b.Render()
	if err != nil {
		return nil, err
	}
	return q.read(ctx, st)
}

// First returns the first row, or nil when there is none.
func (q *Query) First(ctx context.Context) (map[string]interface{}, error) {
	st, err := q.b.Clone().Limit(1).Render()
	if err != nil {
		return nil, err
	}
	item, err := q.read(ctx, st)
	if err != nil {
		return nil, err
	}
	if item.Len() == 0 {
		return nil, nil
	}
	return item.Maps()[0], nil
}

// Count returns the number of matching rows, or of groups when the query
// is grouped.
func (q *Query) Count(ctx context.Context) (int64, error) {
	st, err := q.b.RenderCount()
	if err != nil {
		return 0, err
	}
	item, err := q.read(ctx, st)
	if err != nil {
		return 0, err
	}
	if item.Len() == 0 || len(item.Rows[0]) == 0 {
		return 0, nil
	}
	return toInt64(item.Rows[0][0])
}

// Page is one page of results.
type Page struct {
	Items []map[string]interface{} `json:"items"`
	Total int64                    `json:"total"`
	Page  int64                    `json:"page"`
	Limit int64                    `json:"limit"`
	Pages int64                    `json:"pages"`
}

// Paginate returns page (1-based) of limit rows plus the total count. Any
// limit or offset already on the query is replaced.
func (q *Query) Paginate(ctx context.Context, page, limit int64) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}

	total, err := q.Count(ctx)
	if err != nil {
		return nil, err
	}

	st, err := q.b.Clone().Limit(limit).Offset((page - 1) * limit).Render()
	if err != nil {
		return nil, err
	}
	item, err := q.read(ctx, st)
	if err != nil {
		return nil, err
	}

	items := item.Maps()
	if items == nil {
		items = []map[string]interface{}{}
	}
	return &Page{
		Items: items,
		Total: total,
		Page:  page,
		Limit: limit,
		Pages: (total + limit - 1) / limit,
	}, nil
}

// Insert inserts one row.
func (q *Query) Insert(ctx context.Context, data map[string]interface{}) (WriteResult, error) {
	st, err := q.b.RenderInsert(data)
	if err != nil {
		return WriteResult{}, err
	}
	return q.write(ctx, st)
}

// Update sets data on every matching row.
func (q *Query) Update(ctx context.Context, data map[string]interface{}) (WriteResult, error) {
	st, err := q.b.RenderUpdate(data)
	if err != nil {
		return WriteResult{}, err
	}
	return q.write(ctx, st)
}

// Delete removes every matching row.
func (q *Query) Delete(ctx context.Context) (WriteResult, error) {
	st, err := q.b.RenderDelete()
	if err != nil {
		return WriteResult{}, err
	}
	return q.write(ctx, st)
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("datacore: count is %T, not a number", v)
}

package router

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync/atomic"

	"github.com/prashanthpai/datacore/cache"
)

// Querier runs parameterized statements against one backend.
type Querier interface {
	// Query runs a row-returning statement and materializes the result.
	Query(ctx context.Context, query string, args ...interface{}) (*cache.Item, error)
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
}

// Executor is a connection pool to a single physical backend. It must be
// safe for concurrent use.
type Executor interface {
	Querier
	// Probe is a lightweight liveness check.
	Probe(ctx context.Context) error
	// RunInTransaction runs fn on a single connection inside BEGIN/COMMIT.
	// Any error returned by fn rolls the transaction back and is returned;
	// if the rollback fails too the error is wrapped in a *RollbackError.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Querier) error) error
	Stats() PoolStats
	Close() error
}

// PoolStats describes an executor's pool.
type PoolStats struct {
	Total int `json:"total"`
	Idle  int `json:"idle"`
	InUse int `json:"in_use"`

	// WaitCount is the cumulative number of checkouts that had to wait
	// for a free connection. database/sql does not expose how many
	// callers are waiting right now.
	WaitCount int64 `json:"wait_count"`

	Queries uint64 `json:"queries"`
	Execs   uint64 `json:"execs"`
	Errors  uint64 `json:"errors"`
}

// SQLExecutor is an Executor backed by database/sql.
type SQLExecutor struct {
	db  *sql.DB
	obs *observer

	queries uint64
	execs   uint64
	errors  uint64
}

// NewSQLExecutor wraps db. Executors built by Open count writes at the
// driver level instead.
func NewSQLExecutor(db *sql.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// DB returns the underlying handle.
func (e *SQLExecutor) DB() *sql.DB { return e.db }

func (e *SQLExecutor) Query(ctx context.Context, query string, args ...interface{}) (*cache.Item, error) {
	return e.query(ctx, e.db, query, args)
}

func (e *SQLExecutor) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return e.exec(ctx, e.db, query, args)
}

type sqlConn interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (e *SQLExecutor) query(ctx context.Context, c sqlConn, query string, args []interface{}) (*cache.Item, error) {
	atomic.AddUint64(&e.queries, 1)
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		atomic.AddUint64(&e.errors, 1)
		return nil, err
	}
	item, err := materialize(rows)
	if err != nil {
		atomic.AddUint64(&e.errors, 1)
		return nil, err
	}
	return item, nil
}

func (e *SQLExecutor) exec(ctx context.Context, c sqlConn, query string, args []interface{}) (int64, error) {
	if e.obs == nil {
		atomic.AddUint64(&e.execs, 1)
	}
	res, err := c.ExecContext(ctx, query, args...)
	if err != nil {
		if e.obs == nil {
			atomic.AddUint64(&e.errors, 1)
		}
		return 0, err
	}
	return res.RowsAffected()
}

// materialize reads every row into a cache.Item and closes rows.
func materialize(rows *sql.Rows) (*cache.Item, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	item := &cache.Item{Cols: cols}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]driver.Value, len(cols))
		for i, v := range vals {
			row[i] = v
		}
		item.Rows = append(item.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return item, nil
}

func (e *SQLExecutor) Probe(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *SQLExecutor) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Querier) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &sqlTx{e: e, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return &RollbackError{Err: err, RollbackErr: rbErr}
		}
		return err
	}
	return tx.Commit()
}

func (e *SQLExecutor) Stats() PoolStats {
	s := e.db.Stats()
	ps := PoolStats{
		Total:     s.OpenConnections,
		Idle:      s.Idle,
		InUse:     s.InUse,
		WaitCount: s.WaitCount,
		Queries:   atomic.LoadUint64(&e.queries),
		Execs:     atomic.LoadUint64(&e.execs),
		Errors:    atomic.LoadUint64(&e.errors),
	}
	if e.obs != nil {
		ps.Execs += atomic.LoadUint64(&e.obs.execs)
		ps.Errors += atomic.LoadUint64(&e.obs.errors)
	}
	return ps
}

// Close closes the pool. database/sql waits for statements already running
// on the server to finish.
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

// sqlTx is the transactional handle passed to RunInTransaction callbacks.
type sqlTx struct {
	e  *SQLExecutor
	tx *sql.Tx
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...interface{}) (*cache.Item, error) {
	return t.e.query(ctx, t.tx, query, args)
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return t.e.exec(ctx, t.tx, query, args)
}

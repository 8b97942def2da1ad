package datacore

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/prashanthpai/datacore/cache"
	"github.com/prashanthpai/datacore/query"
	"github.com/prashanthpai/datacore/router"
)

// DB is the entry point for callers: it builds statements, routes them and
// caches reads.
type DB struct {
	router  *router.Router
	layer   *Layer
	dialect query.Dialect
	logger  *zap.Logger
}

// New assembles a DB from a router and a layer whose backend is that
// router. dialect selects the placeholder syntax of rendered statements.
func New(r *router.Router, l *Layer, dialect query.Dialect, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{router: r, layer: l, dialect: dialect, logger: logger}
}

func (db *DB) Router() *router.Router { return db.router }

func (db *DB) Layer() *Layer { return db.layer }

// Table starts a query against table.
func (db *DB) Table(name string) *Query {
	return newQuery(db, nil, name)
}

// Raw runs a hand written read. It is cached only when the SQL carries a
// "-- @cache-ttl N" comment; "-- @cache-max-rows N" skips caching larger
// results. table scopes the cache key for invalidation.
func (db *DB) Raw(ctx context.Context, table, sql string, args ...interface{}) (*cache.Item, error) {
	attrs := getAttrs(sql)
	if attrs == nil {
		return db.router.Query(ctx, sql, args...)
	}
	st := query.Statement{Type: query.SelectStatement, Table: table, SQL: sql, Args: args}
	return db.layer.Read(ctx, st, attrs.options())
}

// Invalidate applies inv immediately.
func (db *DB) Invalidate(ctx context.Context, inv Invalidation) error {
	return db.layer.Invalidate(ctx, inv)
}

// Transaction runs fn in a transaction on the primary. Writes issued
// through tx are invalidated only after the commit succeeds.
func (db *DB) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	var t *Tx
	err := db.router.Transaction(ctx, func(ctx context.Context, q router.Querier) error {
		t = &Tx{db: db, q: q}
		return fn(ctx, t)
	})
	if err != nil {
		return err
	}
	pending := t.invalidations()
	if len(pending) > 0 {
		db.logger.Debug("applying deferred invalidations", zap.Int("count", len(pending)))
	}
	for _, inv := range pending {
		_ = db.layer.Invalidate(ctx, inv)
	}
	return nil
}

// DBStats is a snapshot of the router and cache layer.
type DBStats struct {
	Router router.Stats `json:"router"`
	Cache  Stats        `json:"cache"`
}

// Stats returns a snapshot of the router and cache counters.
func (db *DB) Stats() DBStats {
	return DBStats{Router: db.router.Stats(), Cache: *db.layer.Stats()}
}

// Close disconnects the router and closes the cache store.
func (db *DB) Close() error {
	err := db.router.Disconnect()
	if c, ok := db.layer.Store().(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Tx is the handle passed to Transaction callbacks.
type Tx struct {
	db *DB
	q  router.Querier

	mu      sync.Mutex
	pending []Invalidation
}

// Table starts a query bound to the transaction. Reads on it bypass the
// cache.
func (tx *Tx) Table(name string) *Query {
	return newQuery(tx.db, tx, name)
}

func (tx *Tx) enqueue(inv Invalidation) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.pending = append(tx.pending, inv)
}

func (tx *Tx) invalidations() []Invalidation {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return append([]Invalidation(nil), tx.pending...)
}

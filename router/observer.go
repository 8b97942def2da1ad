package router

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v4/stdlib"
	"github.com/ngrok/sqlmw"
	"go.uber.org/zap"
	"modernc.org/sqlite"
)

// observer is a ngrok/sqlmw interceptor that counts write statements and
// logs driver failures for one target.
type observer struct {
	sqlmw.NullInterceptor

	target string
	logger *zap.Logger

	execs  uint64
	errors uint64
}

func newObserver(target string, logger *zap.Logger) *observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &observer{target: target, logger: logger}
}

func (o *observer) record(op, query string, err error) {
	if err == nil || errors.Is(err, driver.ErrSkip) {
		return
	}
	atomic.AddUint64(&o.errors, 1)
	o.logger.Debug("statement failed",
		zap.String("target", o.target),
		zap.String("op", op),
		zap.String("query", query),
		zap.Error(err))
}

// ConnExecContext intercepts DB.ExecContext and Tx.ExecContext calls.
func (o *observer) ConnExecContext(ctx context.Context, conn driver.ExecerContext, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := conn.ExecContext(ctx, query, args)
	if !errors.Is(err, driver.ErrSkip) {
		atomic.AddUint64(&o.execs, 1)
	}
	o.record("exec", query, err)
	return res, err
}

// StmtExecContext intercepts executions of prepared statements.
func (o *observer) StmtExecContext(ctx context.Context, conn driver.StmtExecContext, query string, args []driver.NamedValue) (driver.Result, error) {
	atomic.AddUint64(&o.execs, 1)
	res, err := conn.ExecContext(ctx, args)
	o.record("stmt_exec", query, err)
	return res, err
}

func (o *observer) ConnPing(ctx context.Context, conn driver.Pinger) error {
	err := conn.Ping(ctx)
	o.record("ping", "", err)
	return err
}

var (
	driversMu sync.RWMutex
	drivers   = map[string]func() driver.Driver{
		"pgx":      stdlib.GetDefaultDriver,
		"postgres": stdlib.GetDefaultDriver,
		"sqlite":   func() driver.Driver { return &sqlite.Driver{} },
	}
)

// RegisterDriver makes a database/sql driver available to Open under name.
func RegisterDriver(name string, drv driver.Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = func() driver.Driver { return drv }
}

func lookupDriver(name string) (driver.Driver, error) {
	if name == "" {
		name = "pgx"
	}
	driversMu.RLock()
	defer driversMu.RUnlock()
	f, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
	return f(), nil
}

// dsnConnector lets sql.OpenDB use a wrapped driver without registering it
// globally.
type dsnConnector struct {
	dsn string
	drv driver.Driver
}

func (c dsnConnector) Connect(_ context.Context) (driver.Conn, error) {
	return c.drv.Open(c.dsn)
}

func (c dsnConnector) Driver() driver.Driver {
	return c.drv
}

// Open is the default Opener. It wraps the target's driver with a
// statement observer and applies the pool bounds. No connection is made
// until the executor is probed or used.
func Open(logger *zap.Logger) Opener {
	return func(_ context.Context, t Target) (Executor, error) {
		drv, err := lookupDriver(t.Driver)
		if err != nil {
			return nil, err
		}

		obs := newObserver(t.Name, logger)
		db := sql.OpenDB(dsnConnector{dsn: t.DSN, drv: sqlmw.Driver(drv, obs)})
		if t.Pool.MaxOpenConns > 0 {
			db.SetMaxOpenConns(t.Pool.MaxOpenConns)
		}
		if t.Pool.MaxIdleConns > 0 {
			db.SetMaxIdleConns(t.Pool.MaxIdleConns)
		}
		if t.Pool.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(t.Pool.ConnMaxLifetime)
		}

		return &SQLExecutor{db: db, obs: obs}, nil
	}
}

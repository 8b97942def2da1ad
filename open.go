package datacore

import (
	"context"
	"fmt"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/prashanthpai/datacore/cache"
	"github.com/prashanthpai/datacore/config"
	"github.com/prashanthpai/datacore/query"
	"github.com/prashanthpai/datacore/router"
)

// sizes of the throwaway store behind a disabled layer
const (
	noneMaxCost     = 1 << 20
	noneNumCounters = 1e4
)

// Open builds and connects a DB from a loaded configuration. The router
// must reach its primary; an unreachable Redis is logged and tolerated
// since every cache failure degrades to the database.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config can't be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r, err := router.New(cfg.RouterConfig(), router.WithLogger(logger.Named("router")))
	if err != nil {
		return nil, err
	}
	if err := r.Connect(ctx); err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg.Cache, logger)
	if err != nil {
		_ = r.Disconnect()
		return nil, err
	}

	l, err := NewLayer(&Config{
		Backend:      r,
		Store:        store,
		Logger:       logger.Named("cache"),
		KeyPrefix:    cfg.Cache.KeyPrefix,
		DefaultTTL:   cfg.Cache.DefaultTTL,
		SingleFlight: cfg.Cache.SingleFlight,
	})
	if err != nil {
		_ = r.Disconnect()
		return nil, err
	}
	if cfg.Cache.Backend == config.BackendNone {
		l.Disable()
	}

	dialect := query.Dollar
	if cfg.Database.Driver == config.DriverSqlite {
		dialect = query.Question
	}
	return New(r, l, dialect, logger), nil
}

func newStore(ctx context.Context, c config.Cache, logger *zap.Logger) (cache.Store, error) {
	switch c.Backend {
	case config.BackendRedis:
		rc := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Redis.Addrs,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, reads will fall through to the database",
				zap.Strings("addrs", c.Redis.Addrs),
				zap.Error(err))
		}
		return NewRedis(rc), nil
	case config.BackendMemory:
		return NewRistretto(c.Memory.MaxCost, c.Memory.NumCounters)
	case config.BackendNone:
		return NewRistretto(noneMaxCost, noneNumCounters)
	}
	return nil, fmt.Errorf("unknown cache backend %q", c.Backend)
}

package datacore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/prashanthpai/datacore/cache"
	"github.com/prashanthpai/datacore/query"
)

const (
	DefaultKeyPrefix = "dc"
	DefaultTTL       = time.Minute
)

// Backend is the data path the layer fronts. *router.Router implements it:
// Query runs on a read executor, QueryWrite and ExecuteWrite on the write
// executor.
type Backend interface {
	Query(ctx context.Context, query string, args ...interface{}) (*cache.Item, error)
	QueryWrite(ctx context.Context, query string, args ...interface{}) (*cache.Item, error)
	ExecuteWrite(ctx context.Context, query string, args ...interface{}) (int64, error)
}

// Config is the configuration passed to NewLayer for creating new Layer
// instances.
type Config struct {
	// Backend runs statements on cache misses and writes. Required.
	Backend Backend
	// Store must be set to a type that implements the cache.Store interface
	// which abstracts the backend cache implementation. Required.
	Store cache.Store
	// Logger receives cache failures at warn level. Defaults to a no-op
	// logger.
	Logger *zap.Logger
	// OnError is called whenever a cache.Store method or HashFunc returns an
	// error. The error is a *CacheError. Data operations never fail because
	// of the cache; use this hook to count failures or to Disable the layer.
	OnError func(error)
	// HashFunc can be optionally set to provide a custom hashing function. By
	// default mitchellh/hashstructure is used, which internally uses FNV.
	HashFunc HashFunc
	// KeyPrefix namespaces every key the layer writes. Defaults to "dc".
	KeyPrefix string
	// DefaultTTL applies when a read does not carry its own TTL.
	DefaultTTL time.Duration
	// SingleFlight collapses concurrent misses on the same key into one
	// backend call.
	SingleFlight bool
}

// CacheOptions controls how a single read is cached.
type CacheOptions struct {
	// TTL of the entry. Zero means the layer's default TTL.
	TTL time.Duration
	// Prefix overrides the layer's key prefix.
	Prefix string
	// Tags registers the entry for tag based invalidation.
	Tags []string
	// Versioned embeds the table's version counter in the key.
	Versioned bool
	// MaxRows skips caching results with more rows. Zero means no limit.
	MaxRows int
}

// Stats contains cache layer statistics.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// Layer implements cache-aside reads and write invalidation in front of a
// Backend.
type Layer struct {
	backend    Backend
	store      cache.Store
	logger     *zap.Logger
	onErr      func(error)
	hashFunc   HashFunc
	prefix     string
	defaultTTL time.Duration
	group      *singleflight.Group

	stats    Stats
	disabled uint32
}

// NewLayer returns a new Layer initialised with the provided config.
func NewLayer(config *Config) (*Layer, error) {
	if config == nil {
		return nil, fmt.Errorf("config can't be nil")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("store must be set in Config")
	}
	if config.Backend == nil {
		return nil, fmt.Errorf("backend must be set in Config")
	}

	l := &Layer{
		backend:    config.Backend,
		store:      config.Store,
		logger:     config.Logger,
		onErr:      config.OnError,
		hashFunc:   config.HashFunc,
		prefix:     config.KeyPrefix,
		defaultTTL: config.DefaultTTL,
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.hashFunc == nil {
		l.hashFunc = defaultHashFunc
	}
	if l.prefix == "" {
		l.prefix = DefaultKeyPrefix
	}
	if l.defaultTTL <= 0 {
		l.defaultTTL = DefaultTTL
	}
	if config.SingleFlight {
		l.group = new(singleflight.Group)
	}
	return l, nil
}

// Enable enables the layer. Layer instances are enabled by default on
// creation.
func (l *Layer) Enable() {
	atomic.StoreUint32(&l.disabled, 0)
}

// Disable makes reads bypass the cache and go directly to the backend.
// Writes still invalidate.
func (l *Layer) Disable() {
	atomic.StoreUint32(&l.disabled, 1)
}

func (l *Layer) isDisabled() bool {
	return atomic.LoadUint32(&l.disabled) == 1
}

// Stats returns cache layer stats.
func (l *Layer) Stats() *Stats {
	return &Stats{
		Hits:   atomic.LoadUint64(&l.stats.Hits),
		Misses: atomic.LoadUint64(&l.stats.Misses),
		Errors: atomic.LoadUint64(&l.stats.Errors),
	}
}

// Store returns the underlying cache store.
func (l *Layer) Store() cache.Store { return l.store }

// Prefix returns the default key prefix.
func (l *Layer) Prefix() string { return l.prefix }

// fail records a cache failure. It never propagates to data operations.
func (l *Layer) fail(op, key string, err error) *CacheError {
	ce := &CacheError{Op: op, Key: key, Err: err}
	atomic.AddUint64(&l.stats.Errors, 1)
	l.logger.Warn("cache unavailable",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))
	if l.onErr != nil {
		l.onErr(ce)
	}
	return ce
}

func (l *Layer) prefixOf(p string) string {
	if p == "" {
		return l.prefix
	}
	return p
}

func (l *Layer) ttlOf(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return l.defaultTTL
	}
	return ttl
}

// Read runs a rendered read through the cache: a hit is served from the
// store without touching the backend; a miss runs on a read executor and
// the result is stored with the requested TTL.
func (l *Layer) Read(ctx context.Context, st query.Statement, opts CacheOptions) (*cache.Item, error) {
	fetch := func(ctx context.Context) (*cache.Item, error) {
		return l.backend.Query(ctx, st.SQL, st.Args...)
	}
	return l.read(ctx, st, opts, fetch)
}

func (l *Layer) read(ctx context.Context, st query.Statement, opts CacheOptions, fetch func(context.Context) (*cache.Item, error)) (*cache.Item, error) {
	if l.isDisabled() {
		return fetch(ctx)
	}

	key, err := l.ReadKey(ctx, st, opts)
	if err != nil {
		return fetch(ctx)
	}

	if item, ok := l.lookup(ctx, key); ok {
		return item, nil
	}

	load := func() (*cache.Item, error) {
		item, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		l.fill(ctx, key, item, opts)
		return item, nil
	}
	if l.group == nil {
		return load()
	}
	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		return load()
	})
	if err != nil {
		return nil, err
	}
	return v.(*cache.Item), nil
}

// ReadKey returns the key a read is cached under:
// prefix:table:list:<hash>, or prefix:table:v<N>:list:<hash> when
// versioned.
func (l *Layer) ReadKey(ctx context.Context, st query.Statement, opts CacheOptions) (string, error) {
	prefix := l.prefixOf(opts.Prefix)

	hash, err := l.hashFunc(st.SQL, st.Args)
	if err != nil {
		return "", l.fail("hash", "", fmt.Errorf("HashFunc failed: %w", err))
	}

	if !opts.Versioned {
		return listKey(prefix, st.Table, hash), nil
	}
	v, err := l.version(ctx, prefix, st.Table)
	if err != nil {
		return "", err
	}
	return versionedListKey(prefix, st.Table, v, hash), nil
}

func (l *Layer) lookup(ctx context.Context, key string) (*cache.Item, bool) {
	b, err := l.store.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		atomic.AddUint64(&l.stats.Misses, 1)
		return nil, false
	}
	if err != nil {
		l.fail("get", key, err)
		return nil, false
	}

	item, err := decodeItem(b)
	if err != nil {
		l.fail("decode", key, err)
		return nil, false
	}
	atomic.AddUint64(&l.stats.Hits, 1)
	return item, true
}

func (l *Layer) fill(ctx context.Context, key string, item *cache.Item, opts CacheOptions) {
	if opts.MaxRows > 0 && item.Len() > opts.MaxRows {
		return
	}

	b, err := encode(item)
	if err != nil {
		l.fail("encode", key, err)
		return
	}
	if err := l.store.Set(ctx, key, b, l.ttlOf(opts.TTL)); err != nil {
		l.fail("set", key, err)
		return
	}
	if len(opts.Tags) > 0 {
		_ = l.Tag(ctx, key, l.prefixOf(opts.Prefix), opts.Tags...)
	}
}

// WriteResult is the outcome of an INSERT, UPDATE or DELETE.
type WriteResult struct {
	RowsAffected int64
	// Returned holds the RETURNING rows, if the statement had any.
	Returned *cache.Item
}

type writer interface {
	Query(ctx context.Context, query string, args ...interface{}) (*cache.Item, error)
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
}

type backendWriter struct{ b Backend }

func (w backendWriter) Query(ctx context.Context, query string, args ...interface{}) (*cache.Item, error) {
	return w.b.QueryWrite(ctx, query, args...)
}

func (w backendWriter) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return w.b.ExecuteWrite(ctx, query, args...)
}

func runWrite(ctx context.Context, w writer, st query.Statement) (WriteResult, error) {
	if st.Returning {
		item, err := w.Query(ctx, st.SQL, st.Args...)
		if err != nil {
			return WriteResult{}, err
		}
		return WriteResult{RowsAffected: int64(item.Len()), Returned: item}, nil
	}
	n, err := w.Exec(ctx, st.SQL, st.Args...)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{RowsAffected: n}, nil
}

// Write runs a rendered write on the write executor and then applies inv.
// An empty inv.Table defaults to the statement's table. Invalidation
// failures are reported through OnError and the logger only.
func (l *Layer) Write(ctx context.Context, st query.Statement, inv Invalidation) (WriteResult, error) {
	res, err := runWrite(ctx, backendWriter{l.backend}, st)
	if err != nil {
		return res, err
	}
	if inv.Table == "" {
		inv.Table = st.Table
	}
	_ = l.Invalidate(ctx, inv)
	return res, nil
}

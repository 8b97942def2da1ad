package datacore

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/prashanthpai/datacore/cache"
)

// Remember returns the value cached under key, or calls fn, caches its
// result with opts.TTL and opts.Tags, and returns it. Keys are minted by
// the caller, typically with KeyFor or VersionedKey. Cache failures fall
// through to fn; errors from fn are returned and nothing is cached.
func Remember[T any](ctx context.Context, l *Layer, key string, opts CacheOptions, fn func(context.Context) (T, error)) (T, error) {
	if l.isDisabled() {
		return fn(ctx)
	}

	b, err := l.store.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		derr := decode(b, &v)
		if derr == nil {
			atomic.AddUint64(&l.stats.Hits, 1)
			return v, nil
		}
		l.fail("decode", key, derr)
	case errors.Is(err, cache.ErrNotFound):
		atomic.AddUint64(&l.stats.Misses, 1)
	default:
		l.fail("get", key, err)
	}

	v, err := fn(ctx)
	if err != nil {
		return v, err
	}
	_ = l.Put(ctx, key, v, opts)
	return v, nil
}

// Put caches v under key with opts.TTL and registers opts.Tags.
func (l *Layer) Put(ctx context.Context, key string, v interface{}, opts CacheOptions) error {
	b, err := encode(v)
	if err != nil {
		return l.fail("encode", key, err)
	}
	if err := l.store.Set(ctx, key, b, l.ttlOf(opts.TTL)); err != nil {
		return l.fail("set", key, err)
	}
	if len(opts.Tags) > 0 {
		return l.Tag(ctx, key, l.prefixOf(opts.Prefix), opts.Tags...)
	}
	return nil
}

// Forget deletes keys.
func (l *Layer) Forget(ctx context.Context, keys ...string) error {
	if err := l.store.Delete(ctx, keys...); err != nil {
		return l.fail("delete", "", err)
	}
	return nil
}

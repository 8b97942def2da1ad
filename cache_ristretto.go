package datacore

import (
	"context"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/prashanthpai/datacore/cache"
)

// Ristretto implements cache.Store in process. Values live in ristretto and
// may be evicted under cost pressure. Counters and sets are kept outside
// ristretto so that version counters and tag indexes are never evicted.
type Ristretto struct {
	c *ristretto.Cache
	// expiry tracks every live key of any kind; zero means no expiry
	expiry   *xsync.MapOf[string, time.Time]
	counters *xsync.MapOf[string, int64]
	sets     *xsync.MapOf[string, map[string]struct{}]
}

type ristrettoEntry struct {
	key   string
	value []byte
}

// NewRistretto creates a new in-process store. maxCost bounds the total
// size in bytes of cached values; numCounters should be about ten times
// the expected number of entries.
func NewRistretto(maxCost, numCounters int64) (*Ristretto, error) {
	r := &Ristretto{
		expiry:   xsync.NewMapOf[string, time.Time](),
		counters: xsync.NewMapOf[string, int64](),
		sets:     xsync.NewMapOf[string, map[string]struct{}](),
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item) {
			if e, ok := item.Value.(*ristrettoEntry); ok {
				r.expiry.Delete(e.key)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	r.c = c
	return r, nil
}

// live reports whether key exists, purging it when it has expired.
func (r *Ristretto) live(key string) bool {
	exp, ok := r.expiry.Load(key)
	if !ok {
		return false
	}
	if !exp.IsZero() && !time.Now().Before(exp) {
		r.purge(key)
		return false
	}
	return true
}

func (r *Ristretto) purge(key string) {
	r.c.Del(key)
	r.counters.Delete(key)
	r.sets.Delete(key)
	r.expiry.Delete(key)
}

func deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (r *Ristretto) Get(_ context.Context, key string) ([]byte, error) {
	if !r.live(key) {
		return nil, cache.ErrNotFound
	}
	if n, ok := r.counters.Load(key); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	if _, ok := r.sets.Load(key); ok {
		return nil, cache.ErrWrongType
	}
	v, ok := r.c.Get(key)
	if !ok {
		// dropped by the admission policy or evicted
		r.expiry.Delete(key)
		return nil, cache.ErrNotFound
	}
	e, ok := v.(*ristrettoEntry)
	if !ok {
		return nil, cache.ErrNotFound
	}
	return e.value, nil
}

// Set stores value with its size as cost. It waits for the write buffers
// to drain so that a following Get observes the value.
func (r *Ristretto) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	r.counters.Delete(key)
	r.sets.Delete(key)
	r.expiry.Store(key, deadline(ttl))
	r.c.SetWithTTL(key, &ristrettoEntry{key: key, value: value}, int64(len(value))+1, ttl)
	r.c.Wait()
	return nil
}

func (r *Ristretto) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		r.purge(k)
	}
	return nil
}

func (r *Ristretto) DeleteByPattern(_ context.Context, pattern string) (int, error) {
	var matched []string
	r.expiry.Range(func(key string, _ time.Time) bool {
		if matchGlob(pattern, key) {
			matched = append(matched, key)
		}
		return true
	})
	deleted := 0
	for _, k := range matched {
		if r.live(k) {
			deleted++
		}
		r.purge(k)
	}
	return deleted, nil
}

func (r *Ristretto) Exists(ctx context.Context, key string) (bool, error) {
	if !r.live(key) {
		return false, nil
	}
	if _, ok := r.counters.Load(key); ok {
		return true, nil
	}
	if _, ok := r.sets.Load(key); ok {
		return true, nil
	}
	_, err := r.Get(ctx, key)
	return err == nil, nil
}

// Increment is atomic per key. A plain value holding an integer seeds the
// counter, as with Redis INCR.
func (r *Ristretto) Increment(_ context.Context, key string) (int64, error) {
	alive := r.live(key)
	if _, ok := r.sets.Load(key); ok && alive {
		return 0, cache.ErrWrongType
	}

	var seed int64
	if alive {
		if v, ok := r.c.Get(key); ok {
			if e, ok := v.(*ristrettoEntry); ok {
				n, err := strconv.ParseInt(string(e.value), 10, 64)
				if err != nil {
					return 0, err
				}
				seed = n
			}
		}
	}

	r.expiry.LoadOrStore(key, time.Time{})
	n, _ := r.counters.Compute(key, func(old int64, loaded bool) (int64, bool) {
		if !loaded {
			return seed + 1, false
		}
		return old + 1, false
	})
	r.c.Del(key)
	return n, nil
}

func (r *Ristretto) Expire(_ context.Context, key string, ttl time.Duration) error {
	if !r.live(key) {
		return cache.ErrNotFound
	}
	if v, ok := r.c.Get(key); ok {
		if e, ok := v.(*ristrettoEntry); ok {
			r.c.SetWithTTL(key, e, int64(len(e.value))+1, ttl)
			r.c.Wait()
		}
	}
	r.expiry.Store(key, deadline(ttl))
	return nil
}

func (r *Ristretto) TTL(_ context.Context, key string) (time.Duration, error) {
	if !r.live(key) {
		return 0, cache.ErrNotFound
	}
	exp, _ := r.expiry.Load(key)
	if exp.IsZero() {
		return 0, nil
	}
	return time.Until(exp), nil
}

func (r *Ristretto) AddMembers(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	r.live(key)
	r.expiry.LoadOrStore(key, time.Time{})
	r.sets.Compute(key, func(old map[string]struct{}, _ bool) (map[string]struct{}, bool) {
		next := make(map[string]struct{}, len(old)+len(members))
		for m := range old {
			next[m] = struct{}{}
		}
		for _, m := range members {
			next[m] = struct{}{}
		}
		return next, false
	})
	return nil
}

func (r *Ristretto) Members(_ context.Context, key string) ([]string, error) {
	if !r.live(key) {
		return nil, nil
	}
	set, _ := r.sets.Load(key)
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

// Close stops ristretto's background goroutines.
func (r *Ristretto) Close() error {
	r.c.Close()
	return nil
}

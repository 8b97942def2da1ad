package datacore

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/go-redis/redis/v8"

	"github.com/prashanthpai/datacore/cache"
)

const (
	scanCount = 256
	delBatch  = 512
)

// Redis implements cache.Store with go-redis as the client library. Keys
// are used as given; the layer owns namespacing.
type Redis struct {
	c redis.UniversalClient
}

// NewRedis creates a new instance of redis backend using go-redis client.
func NewRedis(c redis.UniversalClient) *Redis {
	return &Redis{
		c: c,
	}
}

// Get gets a value from redis or returns cache.ErrNotFound.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.c.Get(ctx, key).Bytes()
	switch err {
	case nil:
		return b, nil
	case redis.Nil:
		return nil, cache.ErrNotFound
	default:
		return nil, wrongType(err)
	}
}

func wrongType(err error) error {
	if err != nil && strings.HasPrefix(err.Error(), "WRONGTYPE") {
		return fmt.Errorf("%w: %v", cache.ErrWrongType, err)
	}
	return err
}

// Set sets the given value into redis with provided TTL duration.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.c.Del(ctx, keys...).Err()
}

// DeleteByPattern walks the keyspace with SCAN MATCH and deletes matches in
// batches. Keys written concurrently with the walk may be missed.
func (r *Redis) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	var (
		batch   []string
		deleted int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.c.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	iter := r.c.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= delBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.c.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Increment(ctx context.Context, key string) (int64, error) {
	n, err := r.c.Incr(ctx, key).Result()
	return n, wrongType(err)
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.c.Expire(ctx, key, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return cache.ErrNotFound
	}
	return nil
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.c.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	switch {
	case d == -2:
		return 0, cache.ErrNotFound
	case d < 0:
		return 0, nil
	}
	return d, nil
}

func (r *Redis) AddMembers(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return r.c.SAdd(ctx, key, vals...).Err()
}

func (r *Redis) Members(ctx context.Context, key string) ([]string, error) {
	return r.c.SMembers(ctx, key).Result()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.c.Close()
}

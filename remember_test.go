package datacore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prashanthpai/datacore/mocks"
)

type summary struct {
	Open  int64
	Total float64
}

func TestRemember(t *testing.T) {
	assert := require.New(t)
	backend, _ := newMockBackend(t)
	ctx := context.Background()

	r, err := NewRistretto(1<<20, 1e4)
	assert.Nil(err)
	defer r.Close()

	l, err := NewLayer(&Config{Backend: backend, Store: r})
	assert.Nil(err)

	calls := 0
	fn := func(context.Context) (summary, error) {
		calls++
		return summary{Open: 2, Total: 42.5}, nil
	}
	opts := CacheOptions{TTL: time.Minute, Tags: []string{"dashboard"}}

	for i := 0; i < 3; i++ {
		v, err := Remember(ctx, l, "dc:orders:summary", opts, fn)
		assert.Nil(err)
		assert.Equal(summary{Open: 2, Total: 42.5}, v)
	}
	assert.Equal(1, calls)
	assert.Equal(uint64(1), l.Stats().Misses)
	assert.Equal(uint64(2), l.Stats().Hits)

	members, err := r.Members(ctx, tagKey("dc", "dashboard"))
	assert.Nil(err)
	assert.Equal([]string{"dc:orders:summary"}, members)

	assert.Nil(l.Forget(ctx, "dc:orders:summary"))
	_, err = Remember(ctx, l, "dc:orders:summary", opts, fn)
	assert.Nil(err)
	assert.Equal(2, calls)

	// errors from fn are returned and nothing is cached
	boom := errors.New("boom")
	_, err = Remember(ctx, l, "dc:orders:broken", opts, func(context.Context) (summary, error) {
		return summary{}, boom
	})
	assert.True(errors.Is(err, boom))
	ok, err := r.Exists(ctx, "dc:orders:broken")
	assert.Nil(err)
	assert.False(ok)
}

func TestRememberStoreDown(t *testing.T) {
	assert := require.New(t)
	backend, _ := newMockBackend(t)

	down := errors.New("connection refused")
	mStore := new(mocks.Store)
	mStore.On("Get", mock.Anything, "k").Return(nil, down)
	mStore.On("Set", mock.Anything, "k", mock.Anything, DefaultTTL).Return(down)

	var seen []error
	l, err := NewLayer(&Config{
		Backend: backend,
		Store:   mStore,
		OnError: func(err error) { seen = append(seen, err) },
	})
	assert.Nil(err)

	v, err := Remember(context.Background(), l, "k", CacheOptions{}, func(context.Context) (int64, error) {
		return 7, nil
	})
	assert.Nil(err)
	assert.Equal(int64(7), v)
	assert.Len(seen, 2)
	for _, e := range seen {
		assert.True(errors.Is(e, ErrCacheUnavailable))
		assert.True(errors.Is(e, down))
	}
	assert.Equal(uint64(2), l.Stats().Errors)
	assert.True(mStore.AssertExpectations(t))

	l.Disable()
	v, err = Remember(context.Background(), l, "k", CacheOptions{}, func(context.Context) (int64, error) {
		return 8, nil
	})
	assert.Nil(err)
	assert.Equal(int64(8), v)
	mStore.AssertNumberOfCalls(t, "Get", 1)
}

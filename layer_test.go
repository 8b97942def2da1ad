package datacore

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prashanthpai/datacore/cache"
	"github.com/prashanthpai/datacore/mocks"
	"github.com/prashanthpai/datacore/query"
	"github.com/prashanthpai/datacore/router"
)

// sqlBackend fronts a single executor for both roles.
type sqlBackend struct{ e *router.SQLExecutor }

func (b sqlBackend) Query(ctx context.Context, q string, args ...interface{}) (*cache.Item, error) {
	return b.e.Query(ctx, q, args...)
}

func (b sqlBackend) QueryWrite(ctx context.Context, q string, args ...interface{}) (*cache.Item, error) {
	return b.e.Query(ctx, q, args...)
}

func (b sqlBackend) ExecuteWrite(ctx context.Context, q string, args ...interface{}) (int64, error) {
	return b.e.Exec(ctx, q, args...)
}

const usersQuery = `SELECT name FROM users WHERE age > $1`

var usersStmt = query.Statement{
	Type:  query.SelectStatement,
	Table: "users",
	SQL:   usersQuery,
	Args:  []interface{}{18},
}

func newMockBackend(t *testing.T) (Backend, sqlmock.Sqlmock) {
	db, qMock, err := sqlmock.New()
	require.Nil(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlBackend{router.NewSQLExecutor(db)}, qMock
}

func runRead(t *testing.T, assert *require.Assertions, qMock sqlmock.Sqlmock, l *Layer, opts CacheOptions, cacheMissExpected bool) {
	if cacheMissExpected {
		qMock.ExpectQuery(regexp.QuoteMeta(usersQuery)).WithArgs(18).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("John").AddRow("Lisa"))
	}

	item, err := l.Read(context.Background(), usersStmt, opts)
	assert.Nil(err)

	var names []string
	for _, row := range item.Rows {
		names = append(names, row[0].(string))
	}

	assert.Equal([]string{"John", "Lisa"}, names)
	assert.Nil(qMock.ExpectationsWereMet())
}

func TestNewLayer(t *testing.T) {
	assert := require.New(t)
	backend, _ := newMockBackend(t)

	// failure cases
	inputs := []*Config{
		nil,
		{},
		{Store: new(mocks.Store)},
		{Backend: backend},
	}
	for _, input := range inputs {
		l, err := NewLayer(input)
		assert.Nil(l)
		assert.NotNil(err)
	}

	// success
	l, err := NewLayer(&Config{
		Backend: backend,
		Store:   new(mocks.Store),
	})
	assert.NotNil(l)
	assert.Nil(err)
	assert.Equal(DefaultKeyPrefix, l.Prefix())

	// stats
	s := l.Stats()
	assert.NotNil(s)
	assert.Equal(s.Hits, uint64(0))
	assert.Equal(s.Misses, uint64(0))
}

func TestCacheMiss(t *testing.T) {
	assert := require.New(t)
	backend, qMock := newMockBackend(t)

	tests := map[string]struct {
		err error
	}{
		"Get() failed":         {errors.New("some error")},
		"Get() passed: absent": {cache.ErrNotFound},
	}

	for tcName, td := range tests {
		t.Run(tcName, func(t *testing.T) {
			mStore := new(mocks.Store)
			mStore.On("Get", mock.Anything, mock.Anything).Return(nil, td.err)
			mStore.On("Set", mock.Anything, mock.Anything, mock.Anything, 30*time.Second).Return(nil)

			onErrCalled := 0
			l, err := NewLayer(&Config{
				Backend: backend,
				Store:   mStore,
				OnError: func(e error) {
					assert.True(errors.Is(e, ErrCacheUnavailable))
					onErrCalled++
				},
			})
			assert.Nil(err)

			runRead(t, assert, qMock, l, CacheOptions{TTL: 30 * time.Second}, true)

			if errors.Is(td.err, cache.ErrNotFound) {
				assert.Equal(0, onErrCalled)
				assert.Equal(uint64(1), l.Stats().Misses)
			} else {
				assert.Equal(1, onErrCalled)
				assert.Equal(uint64(1), l.Stats().Errors)
			}
			assert.True(mStore.AssertExpectations(t))
		})
	}
}

func TestCacheHit(t *testing.T) {
	assert := require.New(t)
	backend, qMock := newMockBackend(t)

	cacheItem := &cache.Item{
		Cols: []string{"name"},
		Rows: [][]driver.Value{
			{"John"},
			{"Lisa"},
		},
	}
	b, err := encode(cacheItem)
	assert.Nil(err)

	mStore := new(mocks.Store)
	mStore.On("Get", mock.Anything, mock.Anything).Return(b, nil)

	l, err := NewLayer(&Config{Backend: backend, Store: mStore})
	assert.Nil(err)

	cacheMissExpected := false
	runRead(t, assert, qMock, l, CacheOptions{}, cacheMissExpected)

	assert.True(mStore.AssertExpectations(t))
	assert.Equal(uint64(1), l.Stats().Hits)
}

func TestDisabled(t *testing.T) {
	assert := require.New(t)
	backend, qMock := newMockBackend(t)

	l, err := NewLayer(&Config{Backend: backend, Store: new(mocks.Store)})
	assert.Nil(err)

	tests := map[string]bool{
		"layer bypassed": false,
		"layer enabled":  true,
	}
	for tcName, enabled := range tests {
		t.Run(tcName, func(t *testing.T) {
			mStore := new(mocks.Store)

			if enabled {
				l.Enable()
				mStore.On("Get", mock.Anything, mock.Anything).Return(nil, cache.ErrNotFound) // cache miss
				mStore.On("Set", mock.Anything, mock.Anything, mock.Anything, DefaultTTL).Return(nil)
			} else {
				l.Disable()
			}
			l.store = mStore

			cacheMissExpected := true
			runRead(t, assert, qMock, l, CacheOptions{}, cacheMissExpected)

			assert.True(mStore.AssertExpectations(t))
		})
	}
}

func TestMaxRows(t *testing.T) {
	assert := require.New(t)
	backend, qMock := newMockBackend(t)

	mStore := new(mocks.Store)
	mStore.On("Get", mock.Anything, mock.Anything).Return(nil, cache.ErrNotFound) // cache miss
	// note that despite cache miss, no call must be made for Set as max rows
	// has been exceeded

	l, err := NewLayer(&Config{Backend: backend, Store: mStore})
	assert.Nil(err)

	// runRead() returns 2 rows; setting max rows limit to 1 here
	runRead(t, assert, qMock, l, CacheOptions{MaxRows: 1}, true)
	assert.True(mStore.AssertExpectations(t))
}

func TestHashFuncErr(t *testing.T) {
	assert := require.New(t)
	backend, qMock := newMockBackend(t)

	mStore := new(mocks.Store)
	hashFuncCalled := false
	onErrCalled := false
	l, err := NewLayer(&Config{
		Backend: backend,
		Store:   mStore,
		HashFunc: func(query string, args []interface{}) (string, error) {
			hashFuncCalled = true
			return "", errors.New("some error")
		},
		OnError: func(err error) {
			onErrCalled = true
		},
	})
	assert.Nil(err)

	runRead(t, assert, qMock, l, CacheOptions{}, true)
	assert.True(hashFuncCalled)
	assert.True(onErrCalled)
	assert.True(mStore.AssertExpectations(t))
	assert.Equal(l.Stats().Errors, uint64(1))
}

func TestCacheSetErr(t *testing.T) {
	assert := require.New(t)
	backend, qMock := newMockBackend(t)

	mStore := new(mocks.Store)
	mStore.On("Get", mock.Anything, mock.Anything).Return(nil, cache.ErrNotFound) // cache miss
	mStore.On("Set", mock.Anything, mock.Anything, mock.Anything, 30*time.Second).Return(errors.New("some error"))

	onErrCalled := false
	l, err := NewLayer(&Config{
		Backend: backend,
		Store:   mStore,
		OnError: func(err error) {
			onErrCalled = true
		},
	})
	assert.Nil(err)

	runRead(t, assert, qMock, l, CacheOptions{TTL: 30 * time.Second}, true)
	assert.True(onErrCalled)
	assert.True(mStore.AssertExpectations(t))
	assert.Equal(l.Stats().Errors, uint64(1))
}

func TestReadKey(t *testing.T) {
	assert := require.New(t)
	backend, _ := newMockBackend(t)

	mStore := new(mocks.Store)
	mStore.On("Get", mock.Anything, "__datacore:version:shop:users").Return([]byte("7"), nil)

	l, err := NewLayer(&Config{Backend: backend, Store: mStore, KeyPrefix: "shop", HashFunc: NoopHash})
	assert.Nil(err)
	ctx := context.Background()

	key, err := l.ReadKey(ctx, usersStmt, CacheOptions{})
	assert.Nil(err)
	assert.Equal("shop:users:list:SELECTnameFROMusersWHEREage>$1:[18]", key)

	key, err = l.ReadKey(ctx, usersStmt, CacheOptions{Prefix: "x"})
	assert.Nil(err)
	assert.Equal("x:users:list:SELECTnameFROMusersWHEREage>$1:[18]", key)

	key, err = l.ReadKey(ctx, usersStmt, CacheOptions{Versioned: true})
	assert.Nil(err)
	assert.Equal("shop:users:v7:list:SELECTnameFROMusersWHEREage>$1:[18]", key)

	assert.Equal("shop:users:42", l.KeyFor("users", 42))
	assert.True(mStore.AssertExpectations(t))
}

func TestInvalidate(t *testing.T) {
	assert := require.New(t)
	backend, _ := newMockBackend(t)
	ctx := context.Background()

	tests := map[string]struct {
		inv   Invalidation
		setup func(m *mocks.Store)
	}{
		"broad": {
			inv: Invalidation{Table: "users"},
			setup: func(m *mocks.Store) {
				m.On("DeleteByPattern", mock.Anything, "dc:*users*").Return(3, nil)
			},
		},
		"granular": {
			inv: Invalidation{Strategy: Granular, Table: "users", IDs: []interface{}{1, "b"}},
			setup: func(m *mocks.Store) {
				m.On("Delete", mock.Anything, "dc:users:1", "dc:users:b").Return(nil)
				m.On("DeleteByPattern", mock.Anything, "dc:users:list:*").Return(2, nil)
			},
		},
		"granular without ids is broad": {
			inv: Invalidation{Strategy: Granular, Table: "users"},
			setup: func(m *mocks.Store) {
				m.On("DeleteByPattern", mock.Anything, "dc:*users*").Return(0, nil)
			},
		},
		"ttl only": {
			inv:   Invalidation{Strategy: TTLOnly, Table: "users"},
			setup: func(m *mocks.Store) {},
		},
		"versioned": {
			inv: Invalidation{Strategy: Versioned, Table: "users", Prefix: "shop"},
			setup: func(m *mocks.Store) {
				m.On("Increment", mock.Anything, "__datacore:version:shop:users").Return(int64(2), nil)
			},
		},
		"tags": {
			inv: Invalidation{Strategy: Tags, Tags: []string{"vip"}},
			setup: func(m *mocks.Store) {
				m.On("Members", mock.Anything, "__datacore:tag:dc:vip").Return([]string{"dc:users:list:a", "dc:users:1"}, nil)
				m.On("Delete", mock.Anything, "dc:users:list:a", "dc:users:1").Return(nil)
				m.On("Delete", mock.Anything, "__datacore:tag:dc:vip").Return(nil)
			},
		},
	}

	for tcName, td := range tests {
		t.Run(tcName, func(t *testing.T) {
			mStore := new(mocks.Store)
			td.setup(mStore)

			l, err := NewLayer(&Config{Backend: backend, Store: mStore})
			assert.Nil(err)

			assert.Nil(l.Invalidate(ctx, td.inv))
			assert.True(mStore.AssertExpectations(t))
		})
	}

	l, err := NewLayer(&Config{Backend: backend, Store: new(mocks.Store)})
	assert.Nil(err)
	assert.NotNil(l.Invalidate(ctx, Invalidation{Strategy: Broad}))
	assert.NotNil(l.Invalidate(ctx, Invalidation{Strategy: Tags}))
}

func TestInvalidateErr(t *testing.T) {
	assert := require.New(t)
	backend, _ := newMockBackend(t)

	mStore := new(mocks.Store)
	mStore.On("DeleteByPattern", mock.Anything, mock.Anything).Return(0, errors.New("connection refused"))

	l, err := NewLayer(&Config{Backend: backend, Store: mStore})
	assert.Nil(err)

	err = l.Invalidate(context.Background(), Invalidation{Table: "users"})
	assert.True(errors.Is(err, ErrCacheUnavailable))

	var ce *CacheError
	assert.True(errors.As(err, &ce))
	assert.Equal("delete_pattern", ce.Op)
	assert.Equal("dc:*users*", ce.Key)
}

func TestWrite(t *testing.T) {
	assert := require.New(t)
	backend, qMock := newMockBackend(t)
	ctx := context.Background()

	mStore := new(mocks.Store)
	mStore.On("DeleteByPattern", mock.Anything, "dc:*users*").Return(0, errors.New("connection refused"))

	onErrCalled := 0
	l, err := NewLayer(&Config{
		Backend: backend,
		Store:   mStore,
		OnError: func(error) { onErrCalled++ },
	})
	assert.Nil(err)

	st, err := query.New("users").Where("id", query.Eq, 7).RenderUpdate(map[string]interface{}{"active": false})
	assert.Nil(err)

	// a failed invalidation never fails the write
	qMock.ExpectExec(regexp.QuoteMeta(st.SQL)).WithArgs(false, 7).WillReturnResult(sqlmock.NewResult(0, 1))
	res, err := l.Write(ctx, st, Invalidation{})
	assert.Nil(err)
	assert.Equal(int64(1), res.RowsAffected)
	assert.Equal(1, onErrCalled)

	// a failed write does not invalidate
	qMock.ExpectExec(regexp.QuoteMeta(st.SQL)).WithArgs(false, 7).WillReturnError(errors.New("deadlock"))
	_, err = l.Write(ctx, st, Invalidation{})
	assert.NotNil(err)
	assert.Equal(1, onErrCalled)

	// RETURNING runs as a query on the write path
	st, err = query.New("users").Returning("id").RenderInsert(map[string]interface{}{"name": "Ann"})
	assert.Nil(err)
	qMock.ExpectQuery(regexp.QuoteMeta(st.SQL)).WithArgs("Ann").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	res, err = l.Write(ctx, st, Invalidation{Strategy: TTLOnly})
	assert.Nil(err)
	assert.Equal(int64(1), res.RowsAffected)
	assert.Equal(int64(9), res.Returned.Rows[0][0])

	assert.Nil(qMock.ExpectationsWereMet())
	mStore.AssertNumberOfCalls(t, "DeleteByPattern", 1)
}

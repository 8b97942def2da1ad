package datacore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/prashanthpai/datacore/cache"
)

// Bookkeeping keys live outside every prefix so that a broad pattern
// delete never reaches version counters or tag indexes.
const reservedNamespace = "__datacore"

func listKey(prefix, table, hash string) string {
	return prefix + ":" + table + ":list:" + hash
}

func versionedListKey(prefix, table string, v int64, hash string) string {
	return prefix + ":" + table + ":v" + strconv.FormatInt(v, 10) + ":list:" + hash
}

func versionKey(prefix, table string) string {
	return reservedNamespace + ":version:" + prefix + ":" + table
}

func tagKey(prefix, tag string) string {
	return reservedNamespace + ":tag:" + prefix + ":" + tag
}

// KeyFor returns the key of a single record: prefix:table:id.
func (l *Layer) KeyFor(table string, id interface{}) string {
	return keyFor(l.prefix, table, id)
}

func keyFor(prefix, table string, id interface{}) string {
	return prefix + ":" + table + ":" + fmt.Sprint(id)
}

// VersionedKey mints prefix:table:v<N>:parts... where N is the table's
// current version, initialising the counter to 1 when absent. After a
// versioned invalidation the previous N is never minted again.
func (l *Layer) VersionedKey(ctx context.Context, table string, parts ...string) (string, error) {
	v, err := l.version(ctx, l.prefix, table)
	if err != nil {
		return "", err
	}
	key := l.prefix + ":" + table + ":v" + strconv.FormatInt(v, 10)
	if len(parts) > 0 {
		key += ":" + strings.Join(parts, ":")
	}
	return key, nil
}

// Version returns the table's current version counter, initialising it to
// 1 when absent.
func (l *Layer) Version(ctx context.Context, table string) (int64, error) {
	return l.version(ctx, l.prefix, table)
}

func (l *Layer) version(ctx context.Context, prefix, table string) (int64, error) {
	vk := versionKey(prefix, table)

	b, err := l.store.Get(ctx, vk)
	if err == nil {
		v, perr := strconv.ParseInt(string(b), 10, 64)
		if perr != nil {
			return 0, l.fail("version", vk, perr)
		}
		return v, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return 0, l.fail("version", vk, err)
	}

	// absent: increment from zero so concurrent initialisers can only move
	// the counter forward
	v, err := l.store.Increment(ctx, vk)
	if err != nil {
		return 0, l.fail("version", vk, err)
	}
	return v, nil
}

// Tag registers key under each tag so that a tag invalidation removes it.
// An empty prefix means the layer's default.
func (l *Layer) Tag(ctx context.Context, key, prefix string, tags ...string) error {
	prefix = l.prefixOf(prefix)
	for _, tag := range tags {
		tk := tagKey(prefix, tag)
		if err := l.store.AddMembers(ctx, tk, key); err != nil {
			return l.fail("tag", tk, err)
		}
	}
	return nil
}

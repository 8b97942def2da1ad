package datacore

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Strategy selects how a write invalidates cached reads.
type Strategy int

const (
	// Broad deletes every key matching prefix:*table*.
	Broad Strategy = iota
	// Granular deletes prefix:table:id for each affected id plus every
	// prefix:table:list:* key.
	Granular
	// TTLOnly deletes nothing and relies on short TTLs.
	TTLOnly
	// Versioned advances the table's version counter, which makes every
	// versioned key minted before it unreachable.
	Versioned
	// Tags deletes every key registered under the given tags, then the tag
	// indexes themselves.
	Tags
)

var strategyNames = map[Strategy]string{
	Broad:     "broad",
	Granular:  "granular",
	TTLOnly:   "ttl",
	Versioned: "versioned",
	Tags:      "tags",
}

func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy maps a strategy name onto Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "broad":
		return Broad, nil
	case "granular":
		return Granular, nil
	case "ttl", "ttl-only", "ttl_only":
		return TTLOnly, nil
	case "versioned":
		return Versioned, nil
	case "tags", "tag":
		return Tags, nil
	}
	return 0, fmt.Errorf("datacore: unknown invalidation strategy %q", s)
}

// Invalidation describes what a write makes stale. The zero value with a
// Table is a broad invalidation.
type Invalidation struct {
	Strategy Strategy
	Table    string
	// IDs are the affected record identifiers, for Granular.
	IDs []interface{}
	// Tags are the affected tags, for Tags.
	Tags []string
	// Prefix overrides the layer's key prefix.
	Prefix string
}

// Invalidate applies inv. Granular without IDs and Tags without tags fall
// back to Broad. Cache failures are reported through OnError and also
// returned, unlike invalidations triggered by writes.
func (l *Layer) Invalidate(ctx context.Context, inv Invalidation) error {
	if inv.Table == "" && inv.Strategy != Tags {
		return fmt.Errorf("datacore: invalidation needs a table")
	}
	prefix := l.prefixOf(inv.Prefix)

	strategy := inv.Strategy
	if (strategy == Granular && len(inv.IDs) == 0) || (strategy == Tags && len(inv.Tags) == 0) {
		if inv.Table == "" {
			return fmt.Errorf("datacore: invalidation needs a table")
		}
		strategy = Broad
	}

	var (
		removed int
		err     error
	)
	switch strategy {
	case Broad:
		removed, err = l.invalidateBroad(ctx, prefix, inv.Table)
	case Granular:
		removed, err = l.invalidateGranular(ctx, prefix, inv.Table, inv.IDs)
	case TTLOnly:
	case Versioned:
		err = l.invalidateVersioned(ctx, prefix, inv.Table)
	case Tags:
		removed, err = l.invalidateTags(ctx, prefix, inv.Tags)
	default:
		return fmt.Errorf("datacore: unknown invalidation strategy %v", strategy)
	}

	l.logger.Debug("invalidated",
		zap.Stringer("strategy", strategy),
		zap.String("table", inv.Table),
		zap.Int("removed", removed),
		zap.Error(err))
	return err
}

func (l *Layer) invalidateBroad(ctx context.Context, prefix, table string) (int, error) {
	pattern := prefix + ":*" + table + "*"
	n, err := l.store.DeleteByPattern(ctx, pattern)
	if err != nil {
		return n, l.fail("delete_pattern", pattern, err)
	}
	return n, nil
}

func (l *Layer) invalidateGranular(ctx context.Context, prefix, table string, ids []interface{}) (int, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyFor(prefix, table, id)
	}
	if err := l.store.Delete(ctx, keys...); err != nil {
		return 0, l.fail("delete", strings.Join(keys, ","), err)
	}

	pattern := prefix + ":" + table + ":list:*"
	n, err := l.store.DeleteByPattern(ctx, pattern)
	if err != nil {
		return len(keys), l.fail("delete_pattern", pattern, err)
	}
	return len(keys) + n, nil
}

func (l *Layer) invalidateVersioned(ctx context.Context, prefix, table string) error {
	vk := versionKey(prefix, table)
	if _, err := l.store.Increment(ctx, vk); err != nil {
		return l.fail("increment", vk, err)
	}
	return nil
}

func (l *Layer) invalidateTags(ctx context.Context, prefix string, tags []string) (int, error) {
	removed := 0
	for _, tag := range tags {
		tk := tagKey(prefix, tag)
		keys, err := l.store.Members(ctx, tk)
		if err != nil {
			return removed, l.fail("members", tk, err)
		}
		if len(keys) > 0 {
			if err := l.store.Delete(ctx, keys...); err != nil {
				return removed, l.fail("delete", tk, err)
			}
			removed += len(keys)
		}
		if err := l.store.Delete(ctx, tk); err != nil {
			return removed, l.fail("delete", tk, err)
		}
	}
	return removed, nil
}

package datacore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/mitchellh/hashstructure"
)

// HashFunc derives the statement-specific part of a cache key from the
// rendered SQL and its parameters.
type HashFunc func(query string, args []interface{}) (string, error)

func defaultHashFunc(query string, args []interface{}) (string, error) {
	// type-tag every argument so that 1 and "1" hash differently
	tagged := make([]string, len(args))
	for i, a := range args {
		tagged[i] = tagArg(a)
	}

	u64, err := hashstructure.Hash(struct {
		Query string
		Args  []string
	}{
		Query: query,
		Args:  tagged,
	}, nil)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("q%da%dh%s", len(query), len(args), strconv.FormatUint(u64, 10))
	return key, nil
}

// tagArg renders a as type:value. Times are reduced to their UTC instant,
// dropping the monotonic reading and location.
func tagArg(a interface{}) string {
	switch t := a.(type) {
	case time.Time:
		return "time.Time:" + t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t != nil {
			return tagArg(*t)
		}
	}
	return fmt.Sprintf("%T:%v", a, a)
}

// NoopHash returns a string representation of the query and args. Whitespaces
// in the query string is stripped off.
func NoopHash(query string, args []interface{}) (string, error) {
	var b strings.Builder
	b.Grow(len(query) + len(args)*10) // arbitrary
	for _, ch := range query {
		if !unicode.IsSpace(ch) {
			b.WriteRune(ch)
		}
	}
	b.WriteRune(':')
	b.WriteString(fmt.Sprintf("%v", args))

	return b.String(), nil
}

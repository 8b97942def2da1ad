package datacore

import (
	"regexp"
	"strconv"
	"time"
)

var (
	attrRegexp = regexp.MustCompile(`(@cache-ttl|@cache-max-rows) (\d+)`)
)

type attributes struct {
	ttl     int
	maxRows int
}

// getAttrs reads cache attributes from SQL comments. A statement is only
// cacheable when it carries @cache-ttl; @cache-max-rows is optional.
func getAttrs(query string) *attributes {
	matches := attrRegexp.FindAllStringSubmatch(query, 2)
	if len(matches) == 0 {
		return nil
	}

	var (
		attrs  attributes
		hasTTL bool
	)
	for _, match := range matches {
		if len(match) != 3 {
			return nil
		}
		switch match[1] {
		case "@cache-ttl":
			ttl, err := strconv.Atoi(match[2])
			if err != nil || ttl == 0 {
				return nil
			}
			attrs.ttl = ttl
			hasTTL = true
		case "@cache-max-rows":
			maxRows, _ := strconv.Atoi(match[2])
			attrs.maxRows = maxRows
		}
	}
	if !hasTTL {
		return nil
	}

	return &attrs
}

func (a *attributes) options() CacheOptions {
	return CacheOptions{
		TTL:     time.Duration(a.ttl) * time.Second,
		MaxRows: a.maxRows,
	}
}

package datacore

import (
	"errors"
	"fmt"
)

// ErrCacheUnavailable matches every *CacheError. Cache failures never fail
// a data operation; they reach callers only through Config.OnError, the
// logger and explicit Layer.Invalidate calls.
var ErrCacheUnavailable = errors.New("datacore: cache unavailable")

// CacheError describes a failed cache store operation.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("datacore: cache %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("datacore: cache %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

func (e *CacheError) Is(target error) bool {
	return target == ErrCacheUnavailable
}

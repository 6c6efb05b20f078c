package coordinator

import (
	"errors"
	"fmt"
)

// Sentinel errors. Match with errors.Is.
var (
	// ErrFetchFailed marks a lookup whose fetch function failed. Nothing is
	// cached for it.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrCacheUnavailable marks a failed store operation. Lookup logs and
	// absorbs these; Invalidate returns them.
	ErrCacheUnavailable = errors.New("cache unavailable")

	ErrInvalidNamespace = errors.New("invalid namespace")
	ErrInvalidFields    = errors.New("invalid identity fields")
	ErrNilFetch         = errors.New("fetch function is nil")
)

// FetchError carries the cause of a failed fetch.
type FetchError struct {
	Namespace string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s lookup: fetch failed: %v", e.Namespace, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is reports ErrFetchFailed as a match.
func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// CacheError describes a store failure for one key.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// Is reports ErrCacheUnavailable as a match.
func (e *CacheError) Is(target error) bool { return target == ErrCacheUnavailable }

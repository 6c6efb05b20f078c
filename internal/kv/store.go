// Package kv provides the key-value stores that back the lookup cache and
// chat sessions. Every backend implements Store: byte values with a per-write
// TTL, where an expired entry is indistinguishable from an absent one.
//
// Backends: Memory (in-process LRU), Redis, and Memcached.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the get/set/delete contract shared by all backends.
type Store interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	// A backend failure returns (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl. ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Closer is implemented by backends holding network resources.
type Closer interface {
	Close() error
}

// ErrUnavailable classifies failures talking to the backing store.
var ErrUnavailable = errors.New("kv store unavailable")

// OpError describes a failed store operation. It matches ErrUnavailable
// under errors.Is.
type OpError struct {
	Backend string
	Op      string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is reports ErrUnavailable as a match.
func (e *OpError) Is(target error) bool { return target == ErrUnavailable }

func opError(backend, op string, err error) error {
	return &OpError{Backend: backend, Op: op, Err: err}
}

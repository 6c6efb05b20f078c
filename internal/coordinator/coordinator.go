// Package coordinator implements cache-or-fetch lookups over a kv.Store.
//
// A lookup derives a deterministic key from a namespace and a set of
// identity fields, serves the stored value when present, and otherwise calls
// the supplied fetch function and stores its result with a TTL. Store
// failures never fail a lookup: reads degrade to a miss and writes are
// logged and dropped. Fetch failures are returned and never cached.
//
// Concurrent misses for the same key are not coalesced; each caller fetches
// and the last write wins.
package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/ferro-labs/verifygw/internal/kv"
	"github.com/ferro-labs/verifygw/internal/logging"
)

// DefaultTTL applies when neither the request nor the coordinator sets one.
const DefaultTTL = 5 * time.Minute

// Source tells where a lookup result came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceProvider Source = "provider"
)

// FetchFunc retrieves a fresh value for the identity fields as the caller
// supplied them.
type FetchFunc func(ctx context.Context, fields Fields) ([]byte, error)

// Request describes one lookup.
type Request struct {
	Namespace string
	Fields    Fields
	// Bypass skips the cache read. The fetched value still overwrites the
	// stored entry.
	Bypass bool
	// TTL of the stored value. Zero selects the coordinator default.
	TTL time.Duration
}

// Result is a successful lookup.
type Result struct {
	Value  []byte
	Source Source
	Key    string
}

// Coordinator is stateless apart from its collaborators and is safe for
// concurrent use.
type Coordinator struct {
	store      kv.Store
	keys       KeyDeriver
	defaultTTL time.Duration
	observer   Observer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDefaultTTL sets the TTL used when a request carries none.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithKeySecret mixes secret into every derived key.
func WithKeySecret(secret string) Option {
	return func(c *Coordinator) { c.keys = NewKeyDeriver(secret) }
}

// WithObserver installs a lookup observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// New creates a Coordinator over store.
func New(store kv.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		defaultTTL: DefaultTTL,
		observer:   NopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key a lookup for namespace and fields would use.
func (c *Coordinator) Key(namespace string, fields Fields) (string, error) {
	return c.keys.Derive(namespace, fields)
}

// Lookup returns the cached value for the request or fetches, stores and
// returns a fresh one. Errors are either invalid-request errors, returned
// before any I/O, or a *FetchError.
func (c *Coordinator) Lookup(ctx context.Context, req Request, fetch FetchFunc) (Result, error) {
	if fetch == nil {
		return Result{}, ErrNilFetch
	}
	key, err := c.keys.Derive(req.Namespace, req.Fields)
	if err != nil {
		return Result{}, err
	}
	ns := strings.TrimSpace(req.Namespace)
	log := logging.FromContext(ctx).With("namespace", ns, "cache_key", key)

	if req.Bypass {
		c.observer.Observe(ns, EventBypass)
	} else {
		value, ok, err := c.store.Get(ctx, key)
		switch {
		case err != nil:
			log.Warn("cache read degraded", "error", err)
			c.observer.Observe(ns, EventReadDegraded)
		case ok:
			c.observer.Observe(ns, EventHit)
			log.Debug("cache hit")
			return Result{Value: value, Source: SourceCache, Key: key}, nil
		default:
			c.observer.Observe(ns, EventMiss)
		}
	}

	start := time.Now()
	value, err := fetch(ctx, req.Fields.Clone())
	c.observer.ObserveFetch(ns, time.Since(start), err)
	if err != nil {
		log.Warn("fetch failed", "error", err)
		return Result{Key: key}, &FetchError{Namespace: ns, Err: err}
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.store.Set(ctx, key, value, ttl); err != nil {
		log.Error("cache write failed", "error", err)
		c.observer.Observe(ns, EventWriteFailed)
	}
	return Result{Value: value, Source: SourceProvider, Key: key}, nil
}

// Invalidate removes the stored entry for namespace and fields. Unlike
// Lookup it reports store failures, as a *CacheError.
func (c *Coordinator) Invalidate(ctx context.Context, namespace string, fields Fields) error {
	key, err := c.keys.Derive(namespace, fields)
	if err != nil {
		return err
	}
	if err := c.store.Delete(ctx, key); err != nil {
		return &CacheError{Op: "delete", Key: key, Err: err}
	}
	logging.FromContext(ctx).Debug("cache entry invalidated", "cache_key", key)
	return nil
}

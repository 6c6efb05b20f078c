package kv

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcached treats expirations above 30 days as absolute unix timestamps.
const maxMemcachedTTL = 30*24*time.Hour - time.Minute

// Memcached is a Store backed by one or more memcached servers.
type Memcached struct {
	client *memcache.Client
}

var _ Store = (*Memcached)(nil)

// NewMemcached creates a client for the given host:port servers.
func NewMemcached(timeout time.Duration, servers ...string) *Memcached {
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &Memcached{client: client}
}

// Get implements Store.
func (m *Memcached) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, opError("memcached", "get", err)
	}
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, opError("memcached", "get", err)
	}
	return item.Value, true, nil
}

// Set implements Store. TTLs are rounded up to whole seconds and clamped
// to memcached's relative-expiry limit.
func (m *Memcached) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return opError("memcached", "set", err)
	}
	err := m.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: expirationSeconds(ttl),
	})
	if err != nil {
		return opError("memcached", "set", err)
	}
	return nil
}

// Delete implements Store.
func (m *Memcached) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return opError("memcached", "delete", err)
	}
	err := m.client.Delete(key)
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return opError("memcached", "delete", err)
	}
	return nil
}

// Ping checks connectivity to every server.
func (m *Memcached) Ping(_ context.Context) error {
	return m.client.Ping()
}

// Close releases idle connections.
func (m *Memcached) Close() error {
	return m.client.Close()
}

func expirationSeconds(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	if ttl > maxMemcachedTTL {
		ttl = maxMemcachedTTL
	}
	secs := int32(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}

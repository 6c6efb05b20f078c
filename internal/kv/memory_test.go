package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemory_ImplementsStore(_ *testing.T) {
	var _ Store = (*Memory)(nil)
}

func TestMemory_SetAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	require.NoError(t, m.Set(ctx, "key1", []byte("value-1"), time.Minute))
	got, ok, err := m.Get(ctx, "key1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value-1", string(got))
}

func TestMemory_Miss(t *testing.T) {
	_, ok, err := NewMemory(10).Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_TTLExpiration(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemory(10, WithClock(clock.Now))

	require.NoError(t, m.Set(ctx, "key1", []byte("v"), 10*time.Second))

	clock.Advance(9 * time.Second)
	_, ok, _ := m.Get(ctx, "key1")
	assert.True(t, ok, "entry should still be live before its TTL")

	clock.Advance(time.Second)
	_, ok, _ = m.Get(ctx, "key1")
	assert.False(t, ok, "entry must be a miss once its TTL has elapsed")
	assert.Equal(t, 0, m.Len())
}

func TestMemory_ZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemory(10, WithClock(clock.Now))

	require.NoError(t, m.Set(ctx, "key1", []byte("v"), 0))
	clock.Advance(365 * 24 * time.Hour)
	_, ok, _ := m.Get(ctx, "key1")
	assert.True(t, ok)
}

func TestMemory_LRUEviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	_ = m.Set(ctx, "a", []byte("a"), time.Minute)
	_ = m.Set(ctx, "b", []byte("b"), time.Minute)
	_ = m.Set(ctx, "c", []byte("c"), time.Minute) // evicts "a"

	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok, "expected 'a' to be evicted")
	_, ok, _ = m.Get(ctx, "b")
	assert.True(t, ok)
	_, ok, _ = m.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemory_LRUAccessOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	_ = m.Set(ctx, "a", []byte("a"), time.Minute)
	_ = m.Set(ctx, "b", []byte("b"), time.Minute)

	_, _, _ = m.Get(ctx, "a") // "b" is now least recently used

	_ = m.Set(ctx, "c", []byte("c"), time.Minute)

	_, ok, _ := m.Get(ctx, "a")
	assert.True(t, ok, "recently read entry should survive")
	_, ok, _ = m.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry should be evicted")
}

func TestMemory_OverwriteResetsTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemory(10, WithClock(clock.Now))

	_ = m.Set(ctx, "key1", []byte("old"), 10*time.Second)
	clock.Advance(8 * time.Second)
	_ = m.Set(ctx, "key1", []byte("new"), 10*time.Second)
	clock.Advance(8 * time.Second)

	got, ok, _ := m.Get(ctx, "key1")
	require.True(t, ok)
	assert.Equal(t, "new", string(got))
	assert.Equal(t, 1, m.Len())
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	buf := []byte("original")
	_ = m.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'X'

	got, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "original", string(got))
	got[0] = 'Y'
	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "original", string(again))
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	_ = m.Set(ctx, "key1", []byte("v"), time.Minute)
	require.NoError(t, m.Delete(ctx, "key1"))
	require.NoError(t, m.Delete(ctx, "never-set"))

	_, ok, _ := m.Get(ctx, "key1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_Concurrent(_ *testing.T) {
	ctx := context.Background()
	m := NewMemory(100)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%26)
			_ = m.Set(ctx, key, []byte(key), time.Minute)
			_, _, _ = m.Get(ctx, key)
			m.Len()
		}(i)
	}
	wg.Wait()
}

func TestOpError_MatchesUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := opError("redis", "get", cause)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "redis get")
}

func TestExpirationSeconds(t *testing.T) {
	assert.Equal(t, int32(0), expirationSeconds(0))
	assert.Equal(t, int32(1), expirationSeconds(10*time.Millisecond))
	assert.Equal(t, int32(300), expirationSeconds(5*time.Minute))
	assert.Equal(t, int32(maxMemcachedTTL/time.Second), expirationSeconds(90*24*time.Hour))
}

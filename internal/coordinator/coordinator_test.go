package coordinator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ferro-labs/verifygw/internal/kv"
	"github.com/ferro-labs/verifygw/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore wraps a kv.Store and counts calls. getErr and setErr force
// failures.
type recordingStore struct {
	inner  kv.Store
	getErr error
	setErr error
	delErr error

	mu       sync.Mutex
	gets     int
	sets     int
	lastTTL  time.Duration
	lastSetK string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{inner: kv.NewMemory(100)}
}

func (s *recordingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	return s.inner.Get(ctx, key)
}

func (s *recordingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.sets++
	s.lastTTL = ttl
	s.lastSetK = key
	s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	return s.inner.Set(ctx, key, value, ttl)
}

func (s *recordingStore) Delete(ctx context.Context, key string) error {
	if s.delErr != nil {
		return s.delErr
	}
	return s.inner.Delete(ctx, key)
}

func (s *recordingStore) counts() (gets, sets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.sets
}

type countingFetch struct {
	calls atomic.Int32
	value []byte
	err   error
}

func (f *countingFetch) fetch(_ context.Context, _ Fields) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.value, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	events  []Event
	fetches int
}

func (o *recordingObserver) Observe(_ string, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) ObserveFetch(string, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches++
}

func verificationRequest() Request {
	return Request{
		Namespace: "verification",
		Fields:    Fields{"member_id": "M123", "dob": "1990-01-01", "last_name": "Doe"},
	}
}

func TestLookup_MissThenHit(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	c := New(store)
	f := &countingFetch{value: []byte(`{"status":"verified"}`)}

	first, err := c.Lookup(ctx, verificationRequest(), f.fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, first.Source)
	assert.Regexp(t, keyPattern, first.Key)

	second, err := c.Lookup(ctx, verificationRequest(), f.fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, first.Key, second.Key)

	assert.Equal(t, int32(1), f.calls.Load())
	_, sets := store.counts()
	assert.Equal(t, 1, sets)
}

func TestLookup_CaseInsensitiveIdentity(t *testing.T) {
	ctx := context.Background()
	c := New(kv.NewMemory(10))
	f := &countingFetch{value: []byte(`{"status":"verified"}`)}

	_, err := c.Lookup(ctx, Request{
		Namespace: "verification",
		Fields:    Fields{"member_id": "M123", "dob": "1990-01-01", "last_name": "Doe"},
	}, f.fetch)
	require.NoError(t, err)

	res, err := c.Lookup(ctx, Request{
		Namespace: "verification",
		Fields:    Fields{"member_id": "m123 ", "dob": "1990-01-01", "last_name": "doe"},
	}, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestLookup_BypassFetchesAndOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	c := New(store)

	old := &countingFetch{value: []byte("old")}
	_, err := c.Lookup(ctx, verificationRequest(), old.fetch)
	require.NoError(t, err)

	fresh := &countingFetch{value: []byte("new")}
	req := verificationRequest()
	req.Bypass = true
	res, err := c.Lookup(ctx, req, fresh.fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, res.Source)
	assert.Equal(t, "new", string(res.Value))
	assert.Equal(t, int32(1), fresh.calls.Load())

	gets, _ := store.counts()
	assert.Equal(t, 1, gets, "bypass must not read the cache")

	res, err = c.Lookup(ctx, verificationRequest(), fresh.fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "new", string(res.Value))
}

func TestLookup_FetchErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	c := New(store)
	cause := errors.New("provider timeout")
	f := &countingFetch{err: cause}

	res, err := c.Lookup(ctx, verificationRequest(), f.fetch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, res.Value)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "verification", fe.Namespace)

	_, sets := store.counts()
	assert.Equal(t, 0, sets)

	// the next lookup still misses
	ok := &countingFetch{value: []byte("v")}
	res, err = c.Lookup(ctx, verificationRequest(), ok.fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, res.Source)
}

func TestLookup_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	c := New(kv.NewMemory(10, kv.WithClock(clock)))
	f := &countingFetch{value: []byte("v")}
	req := verificationRequest()
	req.TTL = time.Minute

	_, err := c.Lookup(ctx, req, f.fetch)
	require.NoError(t, err)

	advance(59 * time.Second)
	res, err := c.Lookup(ctx, req, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)

	advance(time.Second)
	res, err = c.Lookup(ctx, req, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, res.Source)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestLookup_DefaultTTL(t *testing.T) {
	store := newRecordingStore()
	f := &countingFetch{value: []byte("v")}

	_, err := New(store).Lookup(context.Background(), verificationRequest(), f.fetch)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, store.lastTTL)

	req := verificationRequest()
	req.Bypass = true
	_, err = New(store, WithDefaultTTL(time.Hour)).Lookup(context.Background(), req, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, store.lastTTL)

	req.TTL = 30 * time.Second
	_, err = New(store, WithDefaultTTL(time.Hour)).Lookup(context.Background(), req, f.fetch)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, store.lastTTL)
}

func TestLookup_ReadFailureDegradesToMiss(t *testing.T) {
	var buf bytes.Buffer
	logging.SetupWriter(&buf, "debug", "json")
	t.Cleanup(func() { logging.SetupWriter(&bytes.Buffer{}, "info", "text") })

	store := newRecordingStore()
	store.getErr = errors.New("connection refused")
	obs := &recordingObserver{}
	c := New(store, WithObserver(obs))
	f := &countingFetch{value: []byte("v")}

	res, err := c.Lookup(context.Background(), verificationRequest(), f.fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, res.Source)
	assert.Equal(t, "v", string(res.Value))
	assert.Equal(t, int32(1), f.calls.Load())

	_, sets := store.counts()
	assert.Equal(t, 1, sets, "value is still written after a degraded read")
	assert.Contains(t, obs.events, EventReadDegraded)
	assert.Contains(t, buf.String(), "cache read degraded")
}

func TestLookup_WriteFailureIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	logging.SetupWriter(&buf, "debug", "json")
	t.Cleanup(func() { logging.SetupWriter(&bytes.Buffer{}, "info", "text") })

	store := newRecordingStore()
	store.setErr = kv.ErrUnavailable
	obs := &recordingObserver{}
	c := New(store, WithObserver(obs))
	f := &countingFetch{value: []byte("v")}

	res, err := c.Lookup(context.Background(), verificationRequest(), f.fetch)
	require.NoError(t, err)
	assert.Equal(t, "v", string(res.Value))
	assert.Equal(t, SourceProvider, res.Source)
	assert.Contains(t, obs.events, EventWriteFailed)
	assert.Contains(t, buf.String(), "cache write failed")
}

func TestLookup_ObserverEvents(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	c := New(kv.NewMemory(10), WithObserver(obs))
	f := &countingFetch{value: []byte("v")}

	_, _ = c.Lookup(ctx, verificationRequest(), f.fetch)
	_, _ = c.Lookup(ctx, verificationRequest(), f.fetch)
	req := verificationRequest()
	req.Bypass = true
	_, _ = c.Lookup(ctx, req, f.fetch)

	assert.Equal(t, []Event{EventMiss, EventHit, EventBypass}, obs.events)
	assert.Equal(t, 2, obs.fetches)
}

func TestLookup_FetchReceivesCallerFields(t *testing.T) {
	c := New(kv.NewMemory(10))
	var got Fields
	_, err := c.Lookup(context.Background(), Request{
		Namespace: "policy",
		Fields:    Fields{"last_name": "Doe"},
	}, func(_ context.Context, f Fields) ([]byte, error) {
		got = f
		f["last_name"] = "mutated"
		return []byte("v"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, Fields{"last_name": "mutated"}, got)
}

func TestLookup_InvalidRequests(t *testing.T) {
	store := newRecordingStore()
	c := New(store)
	f := &countingFetch{value: []byte("v")}

	_, err := c.Lookup(context.Background(), Request{Fields: Fields{"a": "b"}}, f.fetch)
	assert.ErrorIs(t, err, ErrInvalidNamespace)

	_, err = c.Lookup(context.Background(), verificationRequest(), nil)
	assert.ErrorIs(t, err, ErrNilFetch)

	gets, sets := store.counts()
	assert.Zero(t, gets)
	assert.Zero(t, sets)
	assert.Zero(t, f.calls.Load())
}

func TestLookup_KeySecretIsolatesEntries(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(10)
	a := New(store, WithKeySecret("one"))
	b := New(store, WithKeySecret("two"))
	f := &countingFetch{value: []byte("v")}

	_, err := a.Lookup(ctx, verificationRequest(), f.fetch)
	require.NoError(t, err)
	res, err := b.Lookup(ctx, verificationRequest(), f.fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, res.Source)
}

func TestLookup_ConcurrentMissesLastWriteWins(t *testing.T) {
	ctx := context.Background()
	c := New(kv.NewMemory(10))
	f := &countingFetch{value: []byte("v")}

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := c.Lookup(ctx, verificationRequest(), f.fetch)
			assert.NoError(t, err)
			assert.Equal(t, "v", string(res.Value))
		}()
	}
	close(start)
	wg.Wait()

	calls := f.calls.Load()
	assert.GreaterOrEqual(t, calls, int32(1))
	assert.LessOrEqual(t, calls, int32(20))
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	c := New(store)
	f := &countingFetch{value: []byte("v")}

	_, err := c.Lookup(ctx, verificationRequest(), f.fetch)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "verification", verificationRequest().Fields))

	res, err := c.Lookup(ctx, verificationRequest(), f.fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, res.Source)

	store.delErr = errors.New("down")
	err = c.Invalidate(ctx, "verification", verificationRequest().Fields)
	assert.ErrorIs(t, err, ErrCacheUnavailable)
}

type policyValue struct {
	PolicyNumber string `json:"policy_number"`
	Status       string `json:"status"`
}

func TestLookupJSON(t *testing.T) {
	ctx := context.Background()
	c := New(kv.NewMemory(10))
	var calls int
	fetch := func(context.Context, Fields) (policyValue, error) {
		calls++
		return policyValue{PolicyNumber: "POL12345", Status: "active"}, nil
	}

	v, src, err := LookupJSON(ctx, c, Request{Namespace: "policy", Fields: Fields{"member_id": "M1"}}, fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, src)
	assert.Equal(t, "POL12345", v.PolicyNumber)

	v, src, err = LookupJSON(ctx, c, Request{Namespace: "policy", Fields: Fields{"member_id": "m1"}}, fetch)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, src)
	assert.Equal(t, "active", v.Status)
	assert.Equal(t, 1, calls)
}

func TestLookupJSON_CorruptEntryIsRefetched(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(10)
	c := New(store)
	req := Request{Namespace: "policy", Fields: Fields{"member_id": "M1"}}
	key, err := c.Key(req.Namespace, req.Fields)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, key, []byte("{not json"), time.Minute))

	v, src, err := LookupJSON(ctx, c, req, func(context.Context, Fields) (policyValue, error) {
		return policyValue{PolicyNumber: "POL1"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, src)
	assert.Equal(t, "POL1", v.PolicyNumber)

	raw, ok, _ := store.Get(ctx, key)
	require.True(t, ok)
	assert.JSONEq(t, `{"policy_number":"POL1","status":""}`, string(raw))
}

func TestLookupJSON_FetchError(t *testing.T) {
	_, _, err := LookupJSON(context.Background(), New(kv.NewMemory(10)),
		Request{Namespace: "policy", Fields: Fields{"member_id": "M1"}},
		func(context.Context, Fields) (policyValue, error) {
			return policyValue{}, errors.New("boom")
		})
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestLookup_PolicyIdentityScenario(t *testing.T) {
	ctx := context.Background()
	c := New(kv.NewMemory(10))
	f := &countingFetch{value: []byte(`{"policy_number":"POL12345"}`)}

	upper := Fields{"member_id": "ABC123", "dob": "1990-01-01", "last_name": "Doe"}
	lower := Fields{"member_id": "ABC123", "dob": "1990-01-01", "last_name": "doe"}

	k1, err := c.Key("policy", upper)
	require.NoError(t, err)
	k2, err := c.Key("policy", lower)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Regexp(t, `^policy:[0-9a-f]{64}$`, k1)

	first, err := c.Lookup(ctx, Request{Namespace: "policy", Fields: upper}, f.fetch)
	require.NoError(t, err)
	second, err := c.Lookup(ctx, Request{Namespace: "policy", Fields: lower}, f.fetch)
	require.NoError(t, err)

	assert.Equal(t, SourceProvider, first.Source)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, int32(1), f.calls.Load())
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/ferro-labs/verifygw/internal/coordinator"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCacheObserver_Lookups(t *testing.T) {
	o := CacheObserver{}
	before := testutil.ToFloat64(CacheLookups.WithLabelValues("obs_test", "hit"))

	o.Observe("obs_test", coordinator.EventHit)
	o.Observe("obs_test", coordinator.EventHit)
	o.Observe("obs_test", coordinator.EventMiss)

	assert.Equal(t, before+2, testutil.ToFloat64(CacheLookups.WithLabelValues("obs_test", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CacheLookups.WithLabelValues("obs_test", "miss")))
}

func TestCacheObserver_StoreErrors(t *testing.T) {
	o := CacheObserver{}
	o.Observe("obs_err", coordinator.EventWriteFailed)
	o.Observe("obs_err", coordinator.EventReadDegraded)

	assert.Equal(t, 1.0, testutil.ToFloat64(CacheErrors.WithLabelValues("obs_err", "write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CacheErrors.WithLabelValues("obs_err", "read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CacheLookups.WithLabelValues("obs_err", "read_degraded")))
}

func TestCacheObserver_FetchDuration(t *testing.T) {
	o := CacheObserver{}
	o.ObserveFetch("obs_fetch", 20*time.Millisecond, nil)
	o.ObserveFetch("obs_fetch", time.Second, errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(FetchDuration, "verifygw_fetch_duration_seconds"))
}

package metrics

import (
	"time"

	"github.com/ferro-labs/verifygw/internal/coordinator"
)

// CacheObserver feeds coordinator lookup outcomes into the cache metrics.
type CacheObserver struct{}

var _ coordinator.Observer = CacheObserver{}

// Observe implements coordinator.Observer.
func (CacheObserver) Observe(namespace string, event coordinator.Event) {
	switch event {
	case coordinator.EventWriteFailed:
		CacheErrors.WithLabelValues(namespace, "write").Inc()
	case coordinator.EventReadDegraded:
		CacheErrors.WithLabelValues(namespace, "read").Inc()
		CacheLookups.WithLabelValues(namespace, string(event)).Inc()
	default:
		CacheLookups.WithLabelValues(namespace, string(event)).Inc()
	}
}

// ObserveFetch implements coordinator.Observer.
func (CacheObserver) ObserveFetch(namespace string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	FetchDuration.WithLabelValues(namespace, status).Observe(elapsed.Seconds())
}

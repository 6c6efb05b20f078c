package coordinator

import "time"

// Event is the outcome of the cache step of one lookup.
type Event string

const (
	EventHit          Event = "hit"
	EventMiss         Event = "miss"
	EventBypass       Event = "bypass"
	EventReadDegraded Event = "read_degraded"
	EventWriteFailed  Event = "write_failed"
)

// Observer receives lookup outcomes, typically to feed metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	Observe(namespace string, event Event)
	ObserveFetch(namespace string, elapsed time.Duration, err error)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) Observe(string, Event)                     {}
func (NopObserver) ObserveFetch(string, time.Duration, error) {}

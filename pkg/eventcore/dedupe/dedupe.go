// Package dedupe suppresses duplicate deliveries of already-processed events.
//
// The broker is at-least-once, so redelivery is normal. The tracker remembers
// recently acknowledged event ids in a bounded LRU sized to cover the
// broker's maximum redelivery window; anything older has aged out of the
// window and can safely be forgotten.
package dedupe

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity covers a generous redelivery window for a single consumer
// group without unbounded memory growth.
const DefaultCapacity = 65536

// Tracker is a bounded recent-id set shared by all partition workers of a
// dispatcher. It is safe for concurrent use.
type Tracker struct {
	seen *lru.Cache[string, struct{}]
}

// NewTracker creates a tracker holding at most capacity event ids.
// A capacity of 0 or less uses DefaultCapacity.
func NewTracker(capacity int) (*Tracker, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("create dedupe tracker: %w", err)
	}
	return &Tracker{seen: cache}, nil
}

// Seen reports whether the event id was recently acknowledged.
// A hit refreshes the id's recency.
func (t *Tracker) Seen(eventID string) bool {
	_, ok := t.seen.Get(eventID)
	return ok
}

// MarkSeen records an acknowledged event id. Call this only when the event
// reaches its ACKED terminal state - marking earlier would suppress the
// reprocessing a crash mid-retry depends on.
func (t *Tracker) MarkSeen(eventID string) {
	t.seen.Add(eventID, struct{}{})
}

// Len returns the number of ids currently tracked.
func (t *Tracker) Len() int {
	return t.seen.Len()
}

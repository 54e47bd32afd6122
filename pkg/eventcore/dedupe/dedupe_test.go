package dedupe_test

import (
	"fmt"
	"testing"

	"github.com/tusquake/eventcore/pkg/eventcore/dedupe"
)

func TestTracker(t *testing.T) {
	tracker, err := dedupe.NewTracker(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tracker.Seen("evt-1") {
		t.Error("expected evt-1 to be unseen")
	}

	tracker.MarkSeen("evt-1")
	if !tracker.Seen("evt-1") {
		t.Error("expected evt-1 to be seen after marking")
	}
	if tracker.Seen("evt-2") {
		t.Error("expected evt-2 to be unseen")
	}
}

func TestTrackerBounded(t *testing.T) {
	const capacity = 8
	tracker, err := dedupe.NewTracker(capacity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < capacity*2; i++ {
		tracker.MarkSeen(fmt.Sprintf("evt-%d", i))
	}

	if tracker.Len() != capacity {
		t.Errorf("expected %d tracked ids, got %d", capacity, tracker.Len())
	}

	// The oldest ids aged out; the newest survive.
	if tracker.Seen("evt-0") {
		t.Error("expected evt-0 to have been evicted")
	}
	if !tracker.Seen(fmt.Sprintf("evt-%d", capacity*2-1)) {
		t.Error("expected newest id to be tracked")
	}
}

func TestTrackerRecencyRefresh(t *testing.T) {
	tracker, err := dedupe.NewTracker(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tracker.MarkSeen("a")
	tracker.MarkSeen("b")

	// Touching "a" makes "b" the eviction candidate.
	tracker.Seen("a")
	tracker.MarkSeen("c")

	if !tracker.Seen("a") {
		t.Error("expected refreshed id to survive")
	}
	if tracker.Seen("b") {
		t.Error("expected stale id to be evicted")
	}
}

func TestTrackerDefaultCapacity(t *testing.T) {
	tracker, err := dedupe.NewTracker(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tracker.MarkSeen("evt-1")
	if !tracker.Seen("evt-1") {
		t.Error("expected default-capacity tracker to work")
	}
}

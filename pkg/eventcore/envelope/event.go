package envelope

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Event is a single domain notification. Events are immutable once created -
// the publisher assigns ID and OccurredAt exactly once, and no component
// mutates an event after that.
type Event struct {
	// ID is globally unique, assigned at publish time, and doubles as the
	// idempotency key for duplicate suppression.
	ID uuid.UUID

	// Type is the registered event type (e.g. "patient.created").
	Type string

	// SubjectID identifies the entity the event is about. It is also the
	// broker partition key, so all events for one subject share a partition.
	SubjectID string

	// Payload is opaque to the notification core.
	Payload []byte

	// OccurredAt is assigned from a monotonic wall clock at publish time.
	OccurredAt time.Time

	// SchemaVersion selects the envelope layout on the wire.
	SchemaVersion int
}

// Equal reports whether two events are identical field for field.
// Timestamps are compared by instant, not by location.
func (e Event) Equal(other Event) bool {
	return e.ID == other.ID &&
		e.Type == other.Type &&
		e.SubjectID == other.SubjectID &&
		bytes.Equal(e.Payload, other.Payload) &&
		e.OccurredAt.Equal(other.OccurredAt) &&
		e.SchemaVersion == other.SchemaVersion
}

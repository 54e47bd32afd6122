// Package deadletter provides the append-only sink for events that failed
// unrecoverably: malformed envelopes, fatal handler errors, and exhausted
// retry budgets.
//
// Every entry carries the full attempt history so an operator can replay the
// event with context. External consumers read the sink; only the dispatcher
// writes it.
package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/tusquake/eventcore/pkg/eventcore/envelope"
)

// Outcome classifies a single delivery attempt.
type Outcome int

const (
	// OutcomeSuccess means the handler processed the event.
	OutcomeSuccess Outcome = iota

	// OutcomeRetryableFailure means the handler asked for another attempt.
	OutcomeRetryableFailure

	// OutcomeFatalFailure means the handler reported a terminal failure.
	OutcomeFatalFailure
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryableFailure:
		return "retryable-failure"
	case OutcomeFatalFailure:
		return "fatal-failure"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so attempt histories
// serialize readably.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*o = OutcomeSuccess
	case "retryable-failure":
		*o = OutcomeRetryableFailure
	case "fatal-failure":
		*o = OutcomeFatalFailure
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}
	return nil
}

// Attempt records one dispatch try. Attempts exist for observability and
// operator inspection, never for correctness.
type Attempt struct {
	// Number is 1 for the first try.
	Number int `json:"number"`

	// DispatchedAt is when the handler was invoked.
	DispatchedAt time.Time `json:"dispatched_at"`

	// Outcome classifies the result.
	Outcome Outcome `json:"outcome"`

	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
}

// Entry is one dead-lettered event with its final failure reason and full
// attempt history.
type Entry struct {
	// Event is the decoded event, when decoding succeeded. For malformed
	// envelopes only Raw is populated.
	Event envelope.Event `json:"event"`

	// Raw is the original envelope bytes as received from the broker.
	Raw []byte `json:"raw,omitempty"`

	// Handler names the handler whose failure dead-lettered the event,
	// empty for decode failures.
	Handler string `json:"handler,omitempty"`

	// Reason is the final failure reason.
	Reason string `json:"reason"`

	// Attempts is the delivery attempt history, oldest first.
	Attempts []Attempt `json:"attempts,omitempty"`

	// CreatedAt is when the entry was appended.
	CreatedAt time.Time `json:"created_at"`
}

// Sink receives dead-lettered events. Append is the only write operation;
// the sink is append-only by contract.
type Sink interface {
	Append(ctx context.Context, entry *Entry) error
}

// Store is a sink that also supports operator inspection.
type Store interface {
	Sink

	// List returns up to limit entries in append order. A limit of 0 or
	// less returns all entries.
	List(ctx context.Context, limit int) ([]*Entry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Close releases store resources.
	Close() error
}

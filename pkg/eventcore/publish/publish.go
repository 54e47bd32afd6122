// Package publish is the producer-facing API of the notification core.
//
// Upstream services hand in an EventDraft whenever an entity changes; the
// publisher assigns delivery metadata (id, timestamp), encodes the envelope,
// and returns only after the broker has acknowledged the write. Transport
// failures come back inside the Result rather than as raised errors - the
// caller owns retry policy.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tusquake/eventcore/pkg/eventcore/broker"
	"github.com/tusquake/eventcore/pkg/eventcore/envelope"
	"github.com/tusquake/eventcore/pkg/eventcore/observability"
)

// Draft is an event as constructed by an upstream producer, before delivery
// metadata is assigned.
type Draft struct {
	// Type must be registered in the type registry.
	Type string

	// SubjectID must be non-empty; it is the partition key.
	SubjectID string

	// Payload is opaque bytes.
	Payload []byte

	// OccurredAt is optional. When zero the publisher assigns it from a
	// monotonic wall clock.
	OccurredAt time.Time

	// SchemaVersion is optional. When zero the registered type's version
	// is used.
	SchemaVersion int
}

// Error reports a failed publish.
type Error struct {
	// Err is the underlying failure.
	Err error

	// Retryable indicates the caller may retry the publish. Validation
	// failures are not retryable; transport unavailability usually is.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("publish: %v (retryable: %t)", e.Err, e.Retryable)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Result is the outcome of a publish call.
type Result struct {
	// Event is the fully-formed event, populated on success.
	Event envelope.Event

	// Err is a *Error on failure, nil on success.
	Err error
}

// Failed reports whether the publish failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Retryable reports whether a failed publish is worth retrying.
func (r Result) Retryable() bool {
	if pubErr, ok := r.Err.(*Error); ok {
		return pubErr.Retryable
	}
	return false
}

// Config configures a Publisher.
type Config struct {
	// Broker is the delivery transport. Required.
	Broker broker.Broker

	// Types is the registry of known event types. Required; drafts with
	// unregistered types are rejected.
	Types *envelope.Registry

	// Metrics receives the per-type publish counter. Default: NoopMetrics.
	Metrics observability.MetricsRecorder

	// Spans traces publish calls. Default: NoopSpanManager.
	Spans observability.SpanManager

	// Logger for structured publish logging. Optional.
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Publisher assigns delivery metadata to drafts and hands them to the broker.
// Safe for concurrent use.
type Publisher struct {
	cfg Config

	// mu guards lastStamp; OccurredAt assignments are strictly increasing
	// even when the wall clock steps backwards.
	mu        sync.Mutex
	lastStamp time.Time
}

// New creates a Publisher.
func New(cfg Config) (*Publisher, error) {
	if cfg.Broker == nil {
		return nil, fmt.Errorf("publisher: broker is required")
	}
	if cfg.Types == nil {
		return nil, fmt.Errorf("publisher: type registry is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Publisher{cfg: cfg}, nil
}

// Publish validates the draft, assigns id and timestamp, and sends the
// encoded envelope. It returns only after the broker acknowledges the write
// is durably queued. Failures are reported in the Result, never raised.
func (p *Publisher) Publish(ctx context.Context, draft Draft) Result {
	ctx, span := p.cfg.Spans.StartPublishSpan(ctx, draft.Type, draft.SubjectID)

	result := p.publish(ctx, draft)

	p.cfg.Spans.EndSpanWithError(span, result.Err)
	p.cfg.Metrics.RecordPublish(ctx, draft.Type, result.Err)
	return result
}

func (p *Publisher) publish(ctx context.Context, draft Draft) Result {
	if draft.SubjectID == "" {
		return Result{Err: &Error{
			Err:       fmt.Errorf("subject id is required"),
			Retryable: false,
		}}
	}

	def, ok := p.cfg.Types.Get(draft.Type)
	if !ok {
		return Result{Err: &Error{
			Err:       fmt.Errorf("unknown event type %q", draft.Type),
			Retryable: false,
		}}
	}

	occurredAt := draft.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = p.stamp()
	}
	version := draft.SchemaVersion
	if version == 0 {
		version = def.Version
	}

	evt := envelope.Event{
		ID:            uuid.New(),
		Type:          draft.Type,
		SubjectID:     draft.SubjectID,
		Payload:       draft.Payload,
		OccurredAt:    occurredAt.UTC(),
		SchemaVersion: version,
	}

	data, err := envelope.Encode(evt)
	if err != nil {
		return Result{Err: &Error{Err: err, Retryable: false}}
	}

	if err := p.cfg.Broker.Send(ctx, evt.SubjectID, data); err != nil {
		// Transport unavailability is worth retrying; a cancelled publish
		// context is the caller giving up.
		retryable := ctx.Err() == nil
		observability.LogPublishError(p.cfg.Logger, evt.Type, evt.SubjectID, retryable, err)
		return Result{Err: &Error{Err: err, Retryable: retryable}}
	}

	observability.LogPublished(p.cfg.Logger, evt.ID.String(), evt.Type, evt.SubjectID)
	return Result{Event: evt}
}

// stamp returns a wall-clock timestamp that never moves backwards across
// calls, so events published in sequence carry strictly increasing
// OccurredAt values even through clock adjustments.
func (p *Publisher) stamp() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Now().UTC()
	if !now.After(p.lastStamp) {
		now = p.lastStamp.Add(time.Nanosecond)
	}
	p.lastStamp = now
	return now
}

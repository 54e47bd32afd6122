package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tusquake/eventcore/pkg/eventcore/broker"
	"github.com/tusquake/eventcore/pkg/eventcore/deadletter"
	"github.com/tusquake/eventcore/pkg/eventcore/envelope"
	ecerrors "github.com/tusquake/eventcore/pkg/eventcore/errors"
	"github.com/tusquake/eventcore/pkg/eventcore/observability"
)

// reconnectBackoff paces partition worker reconnects after broker connection
// loss. Connection loss pauses the worker; it never crashes the process.
var reconnectBackoff = ecerrors.RetryConfig{
	MaxAttempts: 1 << 30, // reconnect indefinitely
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
	Jitter:      0.2,
}

// worker owns one partition. All its state is partition-local; the only
// shared state it touches is the dedupe tracker, which is concurrency-safe.
type worker struct {
	dispatcher *Dispatcher
	consumer   broker.Consumer
	partition  int

	// handlerCtx outlives the run context by the shutdown grace, so
	// in-flight handler calls can finish.
	handlerCtx context.Context

	logger *slog.Logger
}

// run pulls and processes messages in strict arrival order until ctx is
// cancelled. The next message is not pulled until the current one reaches a
// terminal state; this preserves per-key ordering at the cost of
// head-of-line blocking on slow handlers.
func (w *worker) run(ctx context.Context) {
	connFailures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := w.consumer.Poll(ctx, w.partition)
		if errors.Is(err, broker.ErrPollTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			connFailures++
			delay := reconnectBackoff.Backoff(connFailures)
			observability.LogWorkerPaused(w.logger, w.partition, float64(delay.Milliseconds()), err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
		connFailures = 0

		w.process(ctx, msg)
	}
}

// process drives one message from RECEIVED to a terminal state and commits
// the offset. Only ACKED and DEAD_LETTERED commit.
func (w *worker) process(ctx context.Context, msg broker.Message) {
	// Commits and dead-letter appends must survive run cancellation or the
	// checkpoint is lost on shutdown.
	commitCtx := context.WithoutCancel(ctx)

	evt, err := envelope.Decode(msg.Value)
	if err != nil {
		// Malformed payloads are never retried.
		w.deadLetter(commitCtx, &deadletter.Entry{
			Raw:       msg.Value,
			Reason:    fmt.Sprintf("decode failed: %v", err),
			CreatedAt: time.Now().UTC(),
		})
		w.commit(commitCtx, msg)
		return
	}

	dctx, span := w.dispatcher.cfg.Spans.StartDispatchSpan(ctx, evt.Type, evt.ID.String(), w.partition)
	eventID := evt.ID.String()

	// Schema version gate: a version outside the registered type's accepted
	// set is terminal before any handler runs, like a decode failure.
	if types := w.dispatcher.cfg.Types; types != nil {
		if def, ok := types.Get(evt.Type); ok && !def.AcceptsVersion(evt.SchemaVersion) {
			rejectErr := fmt.Errorf("unsupported schema version %d for type %s", evt.SchemaVersion, evt.Type)
			w.deadLetter(commitCtx, &deadletter.Entry{
				Event:     evt,
				Raw:       msg.Value,
				Reason:    rejectErr.Error(),
				CreatedAt: time.Now().UTC(),
			})
			w.commit(commitCtx, msg)
			w.dispatcher.cfg.Spans.EndSpanWithError(span, rejectErr)
			return
		}
	}

	// Duplicate suppression: an already-acked id goes straight to ACKED
	// without invoking handlers.
	if w.dispatcher.cfg.Tracker.Seen(eventID) {
		w.dispatcher.cfg.Metrics.RecordDuplicate(dctx, evt.Type)
		observability.LogDuplicateSuppressed(w.logger, eventID)
		w.commit(commitCtx, msg)
		w.dispatcher.cfg.Spans.EndSpanWithError(span, nil)
		return
	}

	subs := w.dispatcher.handlersFor(evt.Type)

	// Handlers run sequentially for a message, so one handler's retry
	// backoff delays first delivery to the handlers after it. Delivery is
	// still independent: a handler's terminal failure never withholds the
	// event from the rest.
	allAcked := true
	var lastErr error
	for _, sub := range subs {
		if !w.deliver(dctx, evt, msg, sub) {
			allAcked = false
			lastErr = fmt.Errorf("handler %s dead-lettered event %s", sub.HandlerID, eventID)
		}
	}

	if allAcked {
		// Marking only happens on full success: a crash mid-retry must
		// permit reprocessing.
		w.dispatcher.cfg.Tracker.MarkSeen(eventID)
	}

	// Both terminal states advance the commit checkpoint.
	w.commit(commitCtx, msg)
	w.dispatcher.cfg.Spans.EndSpanWithError(span, lastErr)
}

// deliver drives delivery to a single handler, applying the retry budget.
// It returns true when the handler acked the event and false when the event
// was dead-lettered for this handler. Retries run inline on the partition
// worker; handlers registered after this one wait until it reaches a
// terminal outcome.
func (w *worker) deliver(ctx context.Context, evt envelope.Event, msg broker.Message, sub *Subscription) bool {
	retry := w.dispatcher.cfg.Retry
	metrics := w.dispatcher.cfg.Metrics
	eventID := evt.ID.String()

	var attempts []deadletter.Attempt

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := sub.handler.Handle(w.handlerCtx, evt)
		duration := time.Since(start)

		record := deadletter.Attempt{
			Number:       attempt,
			DispatchedAt: start.UTC(),
		}

		if err == nil {
			record.Outcome = deadletter.OutcomeSuccess
			attempts = append(attempts, record)
			metrics.RecordAttempt(ctx, evt.Type, record.Outcome.String(), attempt, duration)
			observability.LogDelivered(w.logger, eventID, sub.HandlerID, attempt)
			return true
		}

		if ecerrors.IsRetryable(err) {
			record.Outcome = deadletter.OutcomeRetryableFailure
		} else {
			record.Outcome = deadletter.OutcomeFatalFailure
		}
		record.Error = err.Error()
		attempts = append(attempts, record)
		metrics.RecordAttempt(ctx, evt.Type, record.Outcome.String(), attempt, duration)

		if record.Outcome == deadletter.OutcomeFatalFailure {
			w.deadLetterEvent(ctx, evt, msg, sub, attempts,
				fmt.Sprintf("fatal handler error: %v", err))
			return false
		}

		if retry.Exhausted(attempt) {
			w.deadLetterEvent(ctx, evt, msg, sub, attempts,
				fmt.Sprintf("retry budget exhausted after %d attempts: %v", attempt, err))
			return false
		}

		// HANDLING -> RETRY_SCHEDULED: sleep the backoff, cancellable on
		// shutdown.
		delay := retry.Backoff(attempt)
		observability.LogRetryScheduled(w.logger, eventID, sub.HandlerID, attempt, float64(delay.Milliseconds()))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Shutdown during a pending retry: dead-letter rather than
			// lose the commit state.
			w.dispatcher.shutdownDrops.Add(1)
			w.deadLetterEvent(ctx, evt, msg, sub, attempts,
				fmt.Sprintf("shutdown during retry wait after %d attempts: %v", attempt, err))
			return false
		}
	}
}

// deadLetterEvent appends a dead-letter entry for a decoded event.
func (w *worker) deadLetterEvent(
	ctx context.Context,
	evt envelope.Event,
	msg broker.Message,
	sub *Subscription,
	attempts []deadletter.Attempt,
	reason string,
) {
	w.dispatcher.cfg.Metrics.RecordDeadLetter(ctx, evt.Type, reason)
	observability.LogDeadLettered(w.logger, evt.ID.String(), evt.Type, reason, len(attempts))

	entry := &deadletter.Entry{
		Event:     evt,
		Raw:       msg.Value,
		Handler:   sub.HandlerID,
		Reason:    reason,
		Attempts:  attempts,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.dispatcher.cfg.DeadLetters.Append(context.WithoutCancel(ctx), entry); err != nil {
		// The log record keeps the failure from being silent even when
		// the sink itself is down.
		if w.logger != nil {
			w.logger.Error("dead-letter append failed",
				slog.String("event_id", evt.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// deadLetter appends an entry that never reached a handler: malformed
// payloads (no decoded event) and rejected schema versions.
func (w *worker) deadLetter(ctx context.Context, entry *deadletter.Entry) {
	eventID := ""
	if entry.Event.ID != uuid.Nil {
		eventID = entry.Event.ID.String()
	}
	w.dispatcher.cfg.Metrics.RecordDeadLetter(ctx, entry.Event.Type, entry.Reason)
	observability.LogDeadLettered(w.logger, eventID, entry.Event.Type, entry.Reason, 0)

	if err := w.dispatcher.cfg.DeadLetters.Append(ctx, entry); err != nil {
		if w.logger != nil {
			w.logger.Error("dead-letter append failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// commit advances the checkpoint for a terminal message.
func (w *worker) commit(ctx context.Context, msg broker.Message) {
	if err := w.consumer.Commit(ctx, msg.Partition, msg.Offset); err != nil {
		if w.logger != nil {
			w.logger.Error("offset commit failed",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Package dispatch receives raw transport messages, decodes them, and routes
// them to registered handlers with retry, backoff, and dead-lettering.
//
// Each message moves through a small state machine:
//
//	RECEIVED -> DECODING -> HANDLING -> ACKED
//	                     |           -> RETRY_SCHEDULED -> HANDLING ...
//	                     |           -> DEAD_LETTERED
//	                     -> DEAD_LETTERED (malformed, never retried)
//
// Only the two terminal states (ACKED, DEAD_LETTERED) advance the broker
// commit checkpoint; a crash anywhere earlier results in redelivery, never in
// silent loss.
//
// One worker runs per broker partition. Within a partition, messages are
// processed strictly in arrival order and the next message is not pulled
// until the current one reaches a terminal state. This preserves per-subject
// ordering at the cost of head-of-line blocking behind a slow or retrying
// handler - a deliberate tradeoff.
//
// Handlers are registered explicitly before Run; registration resolves into a
// plain map from event type to handler list. There is no reflection-based
// discovery.
package dispatch

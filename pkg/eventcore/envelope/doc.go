// Package envelope defines the event model and the versioned binary wire
// format used between publishers and subscribers.
//
// An encoded envelope carries a schema version tag so that readers can keep
// decoding older payload shapes through a version-dispatch table. Encoding is
// deterministic: the same Event always yields identical bytes, which makes
// envelopes safe to use as idempotency payloads and in content hashes.
//
// Decoding never panics. Failures are reported as *DecodeError with a Kind of
// either KindMalformed (corrupt or truncated bytes, never worth retrying) or
// KindUnsupportedVersion (a version this reader does not know). The caller
// decides disposition; the dispatcher dead-letters both.
package envelope

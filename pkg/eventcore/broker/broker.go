// Package broker abstracts the at-least-once delivery transport: a
// partitioned log that preserves order per partition key.
//
// Two implementations are provided: an in-process broker for tests and
// single-binary deployments, and a Redis Streams client for multi-process
// fan-out. Both guarantee that messages with the same key land in the same
// partition in send order; there is no cross-key ordering.
//
// Consumer offset commits are decoupled from reads. The dispatcher commits
// only after a message reaches a terminal state, never before, so a crash
// between read and commit results in redelivery rather than silent loss.
package broker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
)

// Message is a raw transport message.
type Message struct {
	// Key is the partition key the producer sent with.
	Key string

	// Value is the opaque envelope bytes.
	Value []byte

	// Partition the message was assigned to.
	Partition int

	// Offset is the message's position within its partition. Offsets are
	// dense and monotonically increasing per partition.
	Offset int64
}

// ErrPollTimeout is returned by Consumer.Poll when no message arrives within
// the poll timeout. Callers loop on it.
var ErrPollTimeout = errors.New("broker: poll timeout")

// ErrClosed is returned from operations on a closed broker or consumer.
var ErrClosed = errors.New("broker: closed")

// Error wraps a transport failure.
type Error struct {
	// Op is the operation that failed ("send", "poll", "commit", "subscribe").
	Op string

	// Err is the underlying error.
	Err error

	// ConnectionLost marks failures where the broker connection dropped.
	// Workers pause and reconnect with backoff on these instead of crashing.
	ConnectionLost bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ConnectionLost {
		return fmt.Sprintf("broker %s: connection lost: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsConnectionLost reports whether err is a broker connection-loss failure.
func IsConnectionLost(err error) bool {
	var brokerErr *Error
	return errors.As(err, &brokerErr) && brokerErr.ConnectionLost
}

// Broker is the producer-side transport.
type Broker interface {
	// Send durably queues value in the partition selected by key and
	// returns once the broker has acknowledged the write.
	Send(ctx context.Context, key string, value []byte) error

	// Subscribe joins a consumer group and returns a consumer over all
	// partitions. Uncommitted messages are redelivered to new consumers of
	// the same group.
	Subscribe(ctx context.Context, group string) (Consumer, error)

	// Close releases broker resources.
	Close() error
}

// Consumer is the subscriber-side stream.
type Consumer interface {
	// Partitions returns the partition count. Partition indexes are
	// 0..Partitions()-1 and stable for the life of the consumer.
	Partitions() int

	// Poll blocks until a message is available on the partition, the poll
	// timeout elapses (ErrPollTimeout), or ctx is done.
	Poll(ctx context.Context, partition int) (Message, error)

	// Commit advances the group checkpoint for the partition through
	// offset. Messages at or below a committed offset are not redelivered.
	Commit(ctx context.Context, partition int, offset int64) error

	// Close leaves the group.
	Close() error
}

// PartitionFor maps a key to a partition. Identical keys always map to the
// same partition, which is what gives per-subject ordering.
func PartitionFor(key string, partitions int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}

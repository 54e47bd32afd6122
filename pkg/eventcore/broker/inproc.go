package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// InprocConfig configures the in-process broker.
type InprocConfig struct {
	// Partitions is the partition count. Default: 4.
	Partitions int

	// PollTimeout bounds how long Poll blocks waiting for a message.
	// Default: 1 second.
	PollTimeout time.Duration
}

// DefaultInprocConfig provides reasonable defaults.
var DefaultInprocConfig = InprocConfig{
	Partitions:  4,
	PollTimeout: time.Second,
}

// Inproc is an in-memory partitioned log. Messages are retained for the life
// of the broker; consumer groups track a committed offset per partition, so a
// consumer that resubscribes after a crash re-reads everything its group
// never committed.
type Inproc struct {
	cfg InprocConfig

	partitions []*inprocPartition

	groupsMu sync.Mutex
	groups   map[string]*inprocGroup

	closed  atomic.Bool
	closeCh chan struct{}
}

type inprocPartition struct {
	mu     sync.Mutex
	msgs   []Message
	notify chan struct{} // closed and replaced on every append
}

type inprocGroup struct {
	mu sync.Mutex
	// next holds, per partition, the offset of the next uncommitted message.
	next []int64
}

// NewInproc creates an in-process broker.
func NewInproc(cfg InprocConfig) *Inproc {
	if cfg.Partitions <= 0 {
		cfg.Partitions = DefaultInprocConfig.Partitions
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultInprocConfig.PollTimeout
	}

	parts := make([]*inprocPartition, cfg.Partitions)
	for i := range parts {
		parts[i] = &inprocPartition{notify: make(chan struct{})}
	}
	return &Inproc{
		cfg:        cfg,
		partitions: parts,
		groups:     make(map[string]*inprocGroup),
		closeCh:    make(chan struct{}),
	}
}

// Send implements Broker. The write is acknowledged once the message is
// appended to its partition.
func (b *Inproc) Send(ctx context.Context, key string, value []byte) error {
	if b.closed.Load() {
		return &Error{Op: "send", Err: ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return &Error{Op: "send", Err: err}
	}

	p := PartitionFor(key, b.cfg.Partitions)
	part := b.partitions[p]

	part.mu.Lock()
	msg := Message{
		Key:       key,
		Value:     value,
		Partition: p,
		Offset:    int64(len(part.msgs)),
	}
	part.msgs = append(part.msgs, msg)
	close(part.notify)
	part.notify = make(chan struct{})
	part.mu.Unlock()

	return nil
}

// Subscribe implements Broker. Consumers of the same group share a committed
// checkpoint; each new consumer resumes from it.
func (b *Inproc) Subscribe(ctx context.Context, group string) (Consumer, error) {
	if b.closed.Load() {
		return nil, &Error{Op: "subscribe", Err: ErrClosed}
	}

	b.groupsMu.Lock()
	g, ok := b.groups[group]
	if !ok {
		g = &inprocGroup{next: make([]int64, b.cfg.Partitions)}
		b.groups[group] = g
	}
	b.groupsMu.Unlock()

	g.mu.Lock()
	positions := make([]int64, len(g.next))
	copy(positions, g.next)
	g.mu.Unlock()

	return &inprocConsumer{
		broker:    b,
		group:     g,
		positions: positions,
	}, nil
}

// Close implements Broker. Blocked Poll calls return ErrClosed.
func (b *Inproc) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		close(b.closeCh)
	}
	return nil
}

// Len returns the number of messages in a partition. Intended for tests and
// operator tooling.
func (b *Inproc) Len(partition int) int {
	part := b.partitions[partition]
	part.mu.Lock()
	defer part.mu.Unlock()
	return len(part.msgs)
}

type inprocConsumer struct {
	broker *Inproc
	group  *inprocGroup

	mu        sync.Mutex
	positions []int64
	closed    bool
}

// Partitions implements Consumer.
func (c *inprocConsumer) Partitions() int {
	return c.broker.cfg.Partitions
}

// Poll implements Consumer.
func (c *inprocConsumer) Poll(ctx context.Context, partition int) (Message, error) {
	deadline := time.NewTimer(c.broker.cfg.PollTimeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return Message{}, &Error{Op: "poll", Err: ErrClosed}
		}
		pos := c.positions[partition]
		c.mu.Unlock()

		part := c.broker.partitions[partition]
		part.mu.Lock()
		if pos < int64(len(part.msgs)) {
			msg := part.msgs[pos]
			part.mu.Unlock()

			c.mu.Lock()
			c.positions[partition] = pos + 1
			c.mu.Unlock()
			return msg, nil
		}
		notify := part.notify
		part.mu.Unlock()

		select {
		case <-notify:
		case <-deadline.C:
			return Message{}, ErrPollTimeout
		case <-ctx.Done():
			return Message{}, &Error{Op: "poll", Err: ctx.Err()}
		case <-c.broker.closeCh:
			return Message{}, &Error{Op: "poll", Err: ErrClosed}
		}
	}
}

// Commit implements Consumer. Commits are monotonic; committing an older
// offset is a no-op.
func (c *inprocConsumer) Commit(ctx context.Context, partition int, offset int64) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "commit", Err: err}
	}

	c.group.mu.Lock()
	if offset+1 > c.group.next[partition] {
		c.group.next[partition] = offset + 1
	}
	c.group.mu.Unlock()
	return nil
}

// Close implements Consumer.
func (c *inprocConsumer) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

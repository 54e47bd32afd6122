package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis Streams broker.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password for the Redis server, if any.
	Password string

	// DB is the Redis database number.
	DB int

	// Topic is the logical topic name. Each partition is one stream named
	// "<topic>.<partition>".
	Topic string

	// Partitions is the partition count. Default: 4.
	Partitions int

	// PollTimeout bounds how long Poll blocks. Default: 1 second.
	PollTimeout time.Duration

	// ClaimMinIdle is how long a pending entry must sit unacknowledged
	// before another consumer of the group may claim it. Default: 30s.
	ClaimMinIdle time.Duration
}

// Redis is a Broker over Redis Streams with consumer groups. One stream per
// partition preserves per-key ordering; XACK is the commit checkpoint, so
// entries a crashed consumer never acknowledged are reclaimed and redelivered.
type Redis struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedis creates a Redis Streams broker.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("redis broker: topic is required")
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = 30 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{cfg: cfg, client: client}, nil
}

func (b *Redis) stream(partition int) string {
	return fmt.Sprintf("%s.%d", b.cfg.Topic, partition)
}

// Send implements Broker. XADD acknowledges once the entry is appended.
func (b *Redis) Send(ctx context.Context, key string, value []byte) error {
	p := PartitionFor(key, b.cfg.Partitions)
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream(p),
		Values: map[string]any{"key": key, "value": value},
	}).Err()
	if err != nil {
		return &Error{Op: "send", Err: err, ConnectionLost: isConnErr(err)}
	}
	return nil
}

// Subscribe implements Broker. The consumer group is created on first use.
func (b *Redis) Subscribe(ctx context.Context, group string) (Consumer, error) {
	for p := 0; p < b.cfg.Partitions; p++ {
		err := b.client.XGroupCreateMkStream(ctx, b.stream(p), group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, &Error{Op: "subscribe", Err: err, ConnectionLost: isConnErr(err)}
		}
	}

	c := &redisConsumer{
		broker: b,
		group:  group,
		name:   "consumer-" + uuid.NewString(),
		ids:    make([]map[int64]string, b.cfg.Partitions),
		next:   make([]int64, b.cfg.Partitions),
	}
	for p := range c.ids {
		c.ids[p] = make(map[int64]string)
	}
	return c, nil
}

// Close implements Broker.
func (b *Redis) Close() error {
	return b.client.Close()
}

type redisConsumer struct {
	broker *Redis
	group  string
	name   string

	mu sync.Mutex
	// ids maps the synthetic per-partition offset handed to callers back to
	// the stream entry id needed for XACK.
	ids  []map[int64]string
	next []int64
}

// Partitions implements Consumer.
func (c *redisConsumer) Partitions() int {
	return c.broker.cfg.Partitions
}

// Poll implements Consumer. Stale pending entries from dead consumers of the
// group are claimed before new entries are read, so uncommitted messages are
// redelivered rather than lost.
func (c *redisConsumer) Poll(ctx context.Context, partition int) (Message, error) {
	stream := c.broker.stream(partition)

	claimed, _, err := c.broker.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  c.broker.cfg.ClaimMinIdle,
		Start:    "0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Message{}, &Error{Op: "poll", Err: err, ConnectionLost: isConnErr(err)}
	}
	if len(claimed) > 0 {
		return c.toMessage(partition, claimed[0]), nil
	}

	streams, err := c.broker.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    c.broker.cfg.PollTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return Message{}, ErrPollTimeout
	}
	if err != nil {
		return Message{}, &Error{Op: "poll", Err: err, ConnectionLost: isConnErr(err)}
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return Message{}, ErrPollTimeout
	}
	return c.toMessage(partition, streams[0].Messages[0]), nil
}

func (c *redisConsumer) toMessage(partition int, entry redis.XMessage) Message {
	key, _ := entry.Values["key"].(string)
	var value []byte
	switch v := entry.Values["value"].(type) {
	case string:
		value = []byte(v)
	case []byte:
		value = v
	}

	c.mu.Lock()
	offset := c.next[partition]
	c.next[partition]++
	c.ids[partition][offset] = entry.ID
	c.mu.Unlock()

	return Message{Key: key, Value: value, Partition: partition, Offset: offset}
}

// Commit implements Consumer. Commit maps to XACK of the entry behind the
// offset.
func (c *redisConsumer) Commit(ctx context.Context, partition int, offset int64) error {
	c.mu.Lock()
	id, ok := c.ids[partition][offset]
	if ok {
		delete(c.ids[partition], offset)
	}
	c.mu.Unlock()
	if !ok {
		return &Error{Op: "commit", Err: fmt.Errorf("unknown offset %d for partition %d", offset, partition)}
	}

	if err := c.broker.client.XAck(ctx, c.broker.stream(partition), c.group, id).Err(); err != nil {
		return &Error{Op: "commit", Err: err, ConnectionLost: isConnErr(err)}
	}
	return nil
}

// Close implements Consumer.
func (c *redisConsumer) Close() error {
	return nil
}

// isConnErr reports whether a go-redis error looks like lost connectivity
// rather than a usage error.
func isConnErr(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	var redisErr redis.Error
	// Server replied with an error: the connection is fine.
	return !errors.As(err, &redisErr)
}

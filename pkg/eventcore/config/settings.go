package config

import (
	"fmt"
	"time"

	ecerrors "github.com/tusquake/eventcore/pkg/eventcore/errors"
)

// Default values applied when the config file leaves a key unset.
const (
	DefaultTopic           = "events"
	DefaultDeadLetterTopic = "events.deadletter"
	DefaultGroup           = "eventcore"
	DefaultPartitions      = 8
	DefaultPollTimeout     = 2 * time.Second
	DefaultShutdownGrace   = 5 * time.Second
	DefaultDedupeCapacity  = 65536
)

// Settings is the resolved runtime configuration of the notification core.
type Settings struct {
	// Topic is the broker topic events are published to.
	Topic string

	// DeadLetterTopic is the topic the dead-letter republisher writes to.
	DeadLetterTopic string

	// Group is the consumer group id for the dispatcher.
	Group string

	// Partitions is the broker partition count.
	Partitions int

	// PollTimeout bounds a single broker poll.
	PollTimeout time.Duration

	// ShutdownGrace is how long in-flight handlers may run after shutdown
	// begins.
	ShutdownGrace time.Duration

	// Retry bounds the per-handler retry budget.
	Retry ecerrors.RetryConfig

	// DedupeCapacity is the bound of the duplicate-suppression cache.
	DedupeCapacity int

	// Redis connection settings, used when the Redis Streams broker is
	// selected. Addr empty means the in-process broker.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Defaults returns a Settings with every field at its default.
func Defaults() Settings {
	return Settings{
		Topic:           DefaultTopic,
		DeadLetterTopic: DefaultDeadLetterTopic,
		Group:           DefaultGroup,
		Partitions:      DefaultPartitions,
		PollTimeout:     DefaultPollTimeout,
		ShutdownGrace:   DefaultShutdownGrace,
		Retry:           ecerrors.DefaultRetry,
		DedupeCapacity:  DefaultDedupeCapacity,
	}
}

// Resolve extracts Settings from a loaded Config, applying defaults for
// missing keys. Expected layout:
//
//	topic: patient
//	dead_letter_topic: patient.deadletter
//	group: patient-service-group
//	partitions: 8
//	poll_timeout: 2s
//	shutdown_grace: 5s
//	retry:
//	  max_attempts: 5
//	  base_delay: 500ms
//	  max_delay: 30s
//	  jitter: 0.2
//	dedupe_capacity: 65536
//	redis:
//	  addr: localhost:6379
//	  db: 0
func Resolve(cfg Config) (Settings, error) {
	def := Defaults()

	s := Settings{
		Topic:           cfg.String("topic", def.Topic),
		DeadLetterTopic: cfg.String("dead_letter_topic", def.DeadLetterTopic),
		Group:           cfg.String("group", def.Group),
		Partitions:      cfg.Int("partitions", def.Partitions),
		PollTimeout:     cfg.Duration("poll_timeout", def.PollTimeout),
		ShutdownGrace:   cfg.Duration("shutdown_grace", def.ShutdownGrace),
		DedupeCapacity:  cfg.Int("dedupe_capacity", def.DedupeCapacity),
	}

	retry := cfg.Sub("retry")
	s.Retry = ecerrors.RetryConfig{
		MaxAttempts: retry.Int("max_attempts", def.Retry.MaxAttempts),
		BaseDelay:   retry.Duration("base_delay", def.Retry.BaseDelay),
		MaxDelay:    retry.Duration("max_delay", def.Retry.MaxDelay),
		Jitter:      retry.Float("jitter", def.Retry.Jitter),
	}

	redis := cfg.Sub("redis")
	s.RedisAddr = redis.String("addr", "")
	s.RedisPassword = redis.String("password", "")
	s.RedisDB = redis.Int("db", 0)

	return s, s.Validate()
}

// Load reads and resolves a settings file.
func Load(path string) (Settings, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	return Resolve(cfg)
}

// Validate checks that the settings are internally consistent.
func (s Settings) Validate() error {
	if s.Topic == "" {
		return fmt.Errorf("settings: topic is required")
	}
	if s.Group == "" {
		return fmt.Errorf("settings: group is required")
	}
	if s.Partitions <= 0 {
		return fmt.Errorf("settings: partitions must be positive, got %d", s.Partitions)
	}
	if s.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("settings: retry max_attempts must be positive, got %d", s.Retry.MaxAttempts)
	}
	if s.Retry.BaseDelay < 0 || s.Retry.MaxDelay < 0 {
		return fmt.Errorf("settings: retry delays must be non-negative")
	}
	if s.Retry.Jitter < 0 || s.Retry.Jitter > 1 {
		return fmt.Errorf("settings: retry jitter must be in [0, 1], got %g", s.Retry.Jitter)
	}
	if s.DedupeCapacity <= 0 {
		return fmt.Errorf("settings: dedupe_capacity must be positive, got %d", s.DedupeCapacity)
	}
	return nil
}

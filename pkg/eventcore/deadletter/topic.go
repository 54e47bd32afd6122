package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tusquake/eventcore/pkg/eventcore/broker"
)

// Topic republishes dead letters to a separate broker topic so external
// operator tooling can consume them as a stream. The record is JSON rather
// than the binary envelope: dead letters are read by humans and replay tools,
// not by the codec.
type Topic struct {
	broker broker.Broker
}

// NewTopic creates a sink that appends to the given broker. The broker should
// be constructed against the dead-letter topic, not the main event topic.
func NewTopic(b broker.Broker) *Topic {
	return &Topic{broker: b}
}

// Append implements Sink. The entry is keyed by subject id so dead letters
// for one subject stay ordered.
func (t *Topic) Append(ctx context.Context, entry *Entry) error {
	record, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	key := entry.Event.SubjectID
	if key == "" {
		key = entry.Event.ID.String()
	}
	if err := t.broker.Send(ctx, key, record); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

package queue

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// KafkaSource consumes event envelopes from a Kafka topic as part of a
// consumer group, committing offsets per acknowledged message.
type KafkaSource struct {
	reader *kafka.Reader
}

// NewKafkaSource builds a consumer-group reader. The group ID splits the
// topic across running indexers instead of replaying it to each.
func NewKafkaSource(brokers []string, topic, groupID string) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	slog.Info("[Kafka] Consuming topic", "topic", topic, "group_id", groupID)

	return &KafkaSource{reader: reader}
}

// Fetch blocks until a message arrives or the context ends.
func (s *KafkaSource) Fetch(ctx context.Context) (*Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	return NewMessage(m.Value,
		func() error {
			// Background context so a final flush can still commit after
			// the run context is cancelled.
			return s.reader.CommitMessages(context.Background(), m)
		},
		// No explicit requeue: leaving the offset uncommitted makes the
		// group redeliver the message after a rebalance or restart.
		nil,
	), nil
}

// Close disconnects from the brokers.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes notifications to a Kafka topic, keyed by listing
// id so events for one listing stay ordered within a partition.
type KafkaDispatcher struct {
	writer messageWriter
}

// NewKafkaDispatcher creates a dispatcher writing to topic on brokers.
func NewKafkaDispatcher(brokers []string, topic string) (*KafkaDispatcher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka dispatcher requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka dispatcher requires a topic")
	}
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

// Send implements domain.NotificationDispatcher.
func (d *KafkaDispatcher) Send(ctx context.Context, userID string, kind domain.NotificationKind, payload domain.Notification) error {
	value, err := json.Marshal(newEnvelope(userID, kind, payload))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(payload.ListingID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
		},
		Time: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish %s for listing %s: %w", kind, payload.ListingID, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/pulsefeed/social-graph-service/internal/domain"
)

// KafkaBridge publishes relationship events to a Kafka topic, keyed by the
// target user id so one user's notifications stay in partition order.
type KafkaBridge struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaBridge creates a Kafka producer bridge.
func NewKafkaBridge(brokers, topic string) (*KafkaBridge, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	if topic == "" {
		topic = "relationship-events"
	}

	return &KafkaBridge{producer: p, topic: topic}, nil
}

// Publish sends the event as JSON. Delivery is asynchronous; the delivery
// report is discarded because the bridge is best-effort by contract.
func (b *KafkaBridge) Publish(ctx context.Context, event domain.RelationshipEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal relationship event: %w", err)
	}

	return b.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &b.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.TargetID),
		Value:          data,
	}, nil)
}

// Close flushes pending messages and closes the producer.
func (b *KafkaBridge) Close() error {
	b.producer.Flush(5000)
	b.producer.Close()
	return nil
}

var _ NotificationBridge = (*KafkaBridge)(nil)

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaAdapter publishes notifications as JSON keyed by session id.
type KafkaAdapter struct {
	writer *kafka.Writer
}

func NewKafkaAdapter(brokers []string, topic string) *KafkaAdapter {
	return &KafkaAdapter{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (k *KafkaAdapter) Name() string { return "kafka" }

func (k *KafkaAdapter) Send(ctx context.Context, n Notification) error {
	msg, err := kafkaMessage(n)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaAdapter) Close() error {
	return k.writer.Close()
}

func kafkaMessage(n Notification) (kafka.Message, error) {
	value, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal notification: %w", err)
	}
	return kafka.Message{
		Key:   []byte(n.SessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(n.Event)},
		},
	}, nil
}

package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka publishes notifications to a topic consumed by the mail relay.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka builds a publisher for the given brokers and topic.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

var _ Notifier = (*Kafka)(nil)

type envelope struct {
	Notification
	QueuedAt time.Time `json:"queued_at"`
}

func (k *Kafka) Send(ctx context.Context, n Notification) error {
	data, err := json.Marshal(envelope{Notification: n, QueuedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.To),
		Value: data,
	})
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/abhisek/tierkit/internal/logging"
)

// typeHeader carries Message.Type on the Kafka record.
const typeHeader = "event-type"

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes messages to one topic, partitioned by key.
type KafkaPublisher struct {
	w     messageWriter
	topic string
	log   *slog.Logger
}

// NewKafka returns a publisher writing to topic on brokers. Writes wait
// for all in-sync replicas.
func NewKafka(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newKafka(w, topic)
}

func newKafka(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: w, topic: topic, log: logging.New("publish")}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafka.Message{
			Key:     m.Key,
			Value:   m.Value,
			Time:    m.Time,
			Headers: []kafka.Header{{Key: typeHeader, Value: []byte(m.Type)}},
		}
	}
	if err := p.w.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("write %d messages to %s: %w", len(out), p.topic, err)
	}
	p.log.Debug("published", "topic", p.topic, "messages", len(out))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

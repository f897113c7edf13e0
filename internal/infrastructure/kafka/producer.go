package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

//go:generate mockgen -destination=mocks/mock_producer.go -package=mocks . KafkaProducer

// KafkaProducer publishes payment events. Send blocks until the broker acks.
type KafkaProducer interface {
	Send(ctx context.Context, topic string, key string, value []byte) error
	Close() error
}

const sendTimeout = 5 * time.Second

type Producer struct {
	writer *kafka.Writer
}

// NewProducer builds a synchronous writer: retries are owned by the caller,
// so a single attempt is made per Send and the error is surfaced.
func NewProducer(brokers []string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            1,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           sendTimeout,
		AllowAutoTopicCreation: true,
	}}
}

func (p *Producer) Send(ctx context.Context, topic string, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", topic, key, err)
	}
	slog.Debug("payment event written", "topic", topic, "key", key)
	return nil
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/copduh/Interviewzwt/internal/infrastructure/redis"
	"github.com/segmentio/kafka-go"
)

var errMalformedEvent = errors.New("malformed payment event")

// Consumer drops cached balances when a payment event changes them.
type Consumer struct {
	reader      *kafka.Reader
	redisClient redis.RedisClient
}

func NewConsumer(brokers []string, topic, groupID string, redisClient redis.RedisClient) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		redisClient: redisClient,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Kafka consumer stopped", "topic", c.reader.Config().Topic)
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key))
		if err := c.HandleMessage(ctx, msg.Value); err != nil {
			slog.Error("failed to handle payment event", "topic", msg.Topic, "key", string(msg.Key), "error", err)
		}
	}
}

// HandleMessage applies one payment event. Events that do not touch a balance are ignored.
func (c *Consumer) HandleMessage(ctx context.Context, value []byte) error {
	var event PaymentEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}

	switch event.EventType {
	case EventCreditsGranted, EventCreditsConsumed:
		if event.UserID == 0 {
			return fmt.Errorf("%w: missing user_id", errMalformedEvent)
		}
		// Events for one user may arrive out of order, so the cache is dropped
		// and the next read repopulates it from Postgres.
		if err := c.redisClient.Del(ctx, redis.CreditsKey(event.UserID)); err != nil {
			return fmt.Errorf("failed to invalidate credits cache: %w", err)
		}
		slog.Info("credit cache invalidated", "event_type", event.EventType, "user_id", event.UserID, "order_id", event.OrderID)
	case EventOrderCreated:
		slog.Debug("order created event skipped", "order_id", event.OrderID)
	default:
		slog.Warn("unknown payment event type", "event_type", event.EventType)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

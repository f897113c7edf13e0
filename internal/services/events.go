package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/copduh/Interviewzwt/internal/infrastructure/kafka"
)

const (
	publishRetries = 3
	publishBackoff = time.Second
)

// eventPublisher sends payment events in the background. A nil producer
// turns publishing off.
type eventPublisher struct {
	producer kafka.KafkaProducer
	retries  int
	backoff  time.Duration
	wg       sync.WaitGroup
}

func newEventPublisher(producer kafka.KafkaProducer) *eventPublisher {
	return &eventPublisher{producer: producer, retries: publishRetries, backoff: publishBackoff}
}

func (p *eventPublisher) publish(event kafka.PaymentEvent) {
	if p == nil || p.producer == nil {
		return
	}
	event.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal kafka event", "event_type", event.EventType, "order_id", event.OrderID, "error", err)
		return
	}

	key := event.OrderID
	if key == "" {
		key = "user:" + strconv.FormatInt(event.UserID, 10)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		var lastErr error
		for i := 0; i < p.retries; i++ {
			if i > 0 {
				time.Sleep(p.backoff * time.Duration(i))
			}
			lastErr = p.producer.Send(context.Background(), kafka.TopicPayments, key, payload)
			if lastErr == nil {
				slog.Info("payment event sent",
					"event_type", event.EventType,
					"order_id", event.OrderID,
					"user_id", event.UserID)
				return
			}
		}
		slog.Error("failed to send payment event after retries",
			"event_type", event.EventType,
			"order_id", event.OrderID,
			"user_id", event.UserID,
			"error", lastErr)
	}()
}

// wait blocks until in-flight events are sent or dropped.
func (p *eventPublisher) wait() {
	if p == nil {
		return
	}
	p.wg.Wait()
}

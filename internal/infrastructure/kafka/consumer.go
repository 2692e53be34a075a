package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/PaymentBoxService/internal/infrastructure/redis"
	"github.com/honeynil/PaymentBoxService/internal/models"
	"github.com/segmentio/kafka-go"
)

// Consumer reads payment box events and evicts the cached view of the changed box,
// so replicas other than the writer never serve a stale record.
type Consumer struct {
	reader *kafka.Reader
	cache  redis.RedisClient
}

func NewConsumer(brokers []string, topic, groupID string, cache redis.RedisClient) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		cache: cache,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
				slog.Info("Kafka consumer stopped", "topic", c.reader.Config().Topic)
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		if err := HandleMessage(ctx, c.cache, msg); err != nil {
			slog.Error("failed to handle Kafka message", "topic", msg.Topic, "key", string(msg.Key), "error", err)
		}
	}
}

func HandleMessage(ctx context.Context, cache redis.RedisClient, msg kafka.Message) error {
	var event models.PaymentBoxEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal payment box event: %w", err)
	}
	if event.PaymentBoxID == "" {
		return fmt.Errorf("payment box event without payment_box_id")
	}

	if err := cache.Del(ctx, redis.PaymentBoxKey(event.PaymentBoxID)); err != nil {
		return fmt.Errorf("failed to evict payment box %s: %w", event.PaymentBoxID, err)
	}
	slog.Info("payment box cache evicted", "payment_box_id", event.PaymentBoxID, "event_type", event.EventType, "version", event.Version)
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

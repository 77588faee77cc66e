package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"stockline/backend/internal/metrics"
)

// KafkaPublisher writes every event to one topic keyed by SKU, so all
// movements of a product land on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic:  topic,
		logger: logger,
	}
}

func (p *KafkaPublisher) Notify(ctx context.Context, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := evt.SKU
	if key == "" {
		key = evt.StoreID
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	})
	if err != nil {
		metrics.KafkaPublishFailureTotal.WithLabelValues(p.topic).Inc()
		p.logger.Error("failed to publish event", zap.String("topic", p.topic), zap.String("event_type", string(evt.Type)), zap.Error(err))
		return err
	}
	metrics.KafkaPublishSuccessTotal.WithLabelValues(p.topic).Inc()
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

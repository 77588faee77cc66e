package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"stockline/backend/internal/metrics"
)

const OrderCreatedType = "OrderCreated"

type OrderCreatedEvent struct {
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	Payload   OrderPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

type OrderPayload struct {
	ID      string             `json:"id"`
	StoreID string             `json:"store_id"`
	Items   []OrderItemPayload `json:"items"`
}

type OrderItemPayload struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// OrderHandler turns a sales order into stock deductions. Implementations
// must be idempotent per order id because Kafka redelivers.
type OrderHandler interface {
	ApplySalesOrder(ctx context.Context, order OrderPayload) error
}

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type OrderListener struct {
	reader  MessageReader
	handler OrderHandler
	topic   string
	logger  *zap.Logger
	backoff time.Duration
}

func NewOrderReader(brokers []string, topic string, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6,
	})
}

func NewOrderListener(reader MessageReader, topic string, handler OrderHandler, logger *zap.Logger) *OrderListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderListener{
		reader:  reader,
		handler: handler,
		topic:   topic,
		logger:  logger,
		backoff: time.Second,
	}
}

// Start blocks until ctx is cancelled.
func (l *OrderListener) Start(ctx context.Context) {
	l.logger.Info("starting order listener", zap.String("topic", l.topic))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("stopping order listener")
			return
		default:
		}

		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.KafkaSubscriberFailureTotal.WithLabelValues(l.topic).Inc()
			l.logger.Error("failed to read kafka message", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.backoff):
			}
			continue
		}
		l.processMessage(ctx, msg.Value)
	}
}

func (l *OrderListener) processMessage(ctx context.Context, value []byte) {
	var event OrderCreatedEvent
	if err := json.Unmarshal(value, &event); err != nil {
		l.logger.Error("failed to unmarshal order event", zap.Error(err))
		return
	}
	if event.EventType != OrderCreatedType {
		return
	}

	l.logger.Info("processing order event", zap.String("order_id", event.Payload.ID), zap.Int("lines", len(event.Payload.Items)))
	if err := l.handler.ApplySalesOrder(ctx, event.Payload); err != nil {
		metrics.KafkaSubscriberFailureTotal.WithLabelValues(l.topic).Inc()
		l.logger.Error("failed to apply sales order",
			zap.String("order_id", event.Payload.ID),
			zap.String("store_id", event.Payload.StoreID),
			zap.Error(err),
		)
	}
}

func (l *OrderListener) Close() error {
	return l.reader.Close()
}

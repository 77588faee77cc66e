package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockline/backend/internal/domain"
)

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, Event) error { return f.err }

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	rec := NewRecorder()
	boom := errors.New("boom")
	fan := Fanout{rec, failingNotifier{err: boom}, nil, Noop{}}

	evt := ForTransaction(TransactionRecorded, domain.InventoryTransaction{ID: "itx-1", StoreID: "main-store", SKU: "SKU-1"})
	err := fan.Notify(context.Background(), evt)

	require.ErrorIs(t, err, boom)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, "SKU-1", rec.Events()[0].SKU)
	assert.Equal(t, "itx-1", rec.Events()[0].Transaction.ID)
	assert.Len(t, rec.OfType(LowStock), 0)
}

type fakeReader struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) Close() error { return nil }

type orderSink struct {
	mu     sync.Mutex
	orders []OrderPayload
	done   chan struct{}
}

func (s *orderSink) ApplySalesOrder(_ context.Context, order OrderPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, order)
	if len(s.orders) == 1 {
		close(s.done)
	}
	return nil
}

func TestOrderListenerAppliesOnlyOrderCreated(t *testing.T) {
	created, err := json.Marshal(OrderCreatedEvent{
		EventID:   "e-1",
		EventType: OrderCreatedType,
		Payload: OrderPayload{
			ID:      "SO-1",
			StoreID: "main-store",
			Items:   []OrderItemPayload{{SKU: "SKU-1", Quantity: 2}},
		},
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	other, err := json.Marshal(OrderCreatedEvent{EventID: "e-0", EventType: "OrderCancelled"})
	require.NoError(t, err)

	reader := &fakeReader{messages: []kafka.Message{{Value: []byte("not-json")}, {Value: other}, {Value: created}}}
	sink := &orderSink{done: make(chan struct{})}
	listener := NewOrderListener(reader, "orders.events", sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		listener.Start(ctx)
		close(stopped)
	}()

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("order was not applied")
	}
	cancel()
	<-stopped

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.orders, 1)
	assert.Equal(t, "SO-1", sink.orders[0].ID)
	assert.Equal(t, 2, sink.orders[0].Items[0].Quantity)
}

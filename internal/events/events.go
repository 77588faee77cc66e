// Package events carries inventory changes out of the ledger to the realtime
// hub and to Kafka.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"stockline/backend/internal/domain"
	"stockline/backend/internal/xid"
)

type Type string

const (
	TransactionRecorded  Type = "inventory.transaction_recorded"
	TransactionStatus    Type = "inventory.transaction_status_changed"
	LowStock             Type = "inventory.low_stock"
	StockCountCompleted  Type = "stock_count.completed"
	StockCountCancelled  Type = "stock_count.cancelled"
	PurchaseOrderReceive Type = "purchase_order.received"
)

type LowStockAlert struct {
	StoreID      string `json:"store_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Current      int    `json:"current"`
	ReorderPoint int    `json:"reorder_point"`
}

type Event struct {
	ID            string                       `json:"event_id"`
	Type          Type                         `json:"event_type"`
	StoreID       string                       `json:"store_id"`
	SKU           string                       `json:"sku,omitempty"`
	Transaction   *domain.InventoryTransaction `json:"transaction,omitempty"`
	LowStock      *LowStockAlert               `json:"low_stock,omitempty"`
	StockCount    *domain.StockCount           `json:"stock_count,omitempty"`
	PurchaseOrder *domain.PurchaseOrder        `json:"purchase_order,omitempty"`
	OccurredAt    time.Time                    `json:"occurred_at"`
}

func NewEvent(eventType Type, storeID string) Event {
	return Event{
		ID:         xid.New("evt"),
		Type:       eventType,
		StoreID:    storeID,
		OccurredAt: time.Now().UTC(),
	}
}

func ForTransaction(eventType Type, tx domain.InventoryTransaction) Event {
	evt := NewEvent(eventType, tx.StoreID)
	evt.SKU = tx.SKU
	evt.Transaction = &tx
	return evt
}

// Notifier receives events after the change is durable. Delivery is best
// effort; callers log failures instead of undoing the change.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

type Noop struct{}

func (Noop) Notify(_ context.Context, _ Event) error {
	return nil
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every event in memory. Tests use it to assert emissions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) OfType(eventType Type) []Event {
	out := make([]Event, 0)
	for _, evt := range r.Events() {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

package cache

import (
	"context"
	"time"

	"stockline/backend/internal/domain"
)

// StockCache holds derived stock levels keyed by store and SKU. The ledger
// stays the source of truth and writes the new level on every append.
type StockCache interface {
	Get(ctx context.Context, storeID string, sku string) (int, bool, error)
	Set(ctx context.Context, storeID string, sku string, qty int, ttl time.Duration) error
	Invalidate(ctx context.Context, storeID string, skus ...string) error
}

type NoopStockCache struct{}

func (NoopStockCache) Get(_ context.Context, _ string, _ string) (int, bool, error) {
	return 0, false, nil
}

func (NoopStockCache) Set(_ context.Context, _ string, _ string, _ int, _ time.Duration) error {
	return nil
}

func (NoopStockCache) Invalidate(_ context.Context, _ string, _ ...string) error {
	return nil
}

func stockKey(storeID string, sku string) string {
	return "stock:" + storeID + ":" + sku
}

// ReportCache memoizes reorder reports for a short TTL.
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.ReorderReport, bool, error)
	Set(ctx context.Context, key string, value *domain.ReorderReport, ttl time.Duration) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.ReorderReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.ReorderReport, _ time.Duration) error {
	return nil
}

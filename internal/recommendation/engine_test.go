package recommendation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockline/backend/internal/domain"
)

type memoryReportCache struct {
	items map[string]domain.ReorderReport
	sets  int
}

func (c *memoryReportCache) Get(_ context.Context, key string) (*domain.ReorderReport, bool, error) {
	report, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	return &report, true, nil
}

func (c *memoryReportCache) Set(_ context.Context, key string, value *domain.ReorderReport, _ time.Duration) error {
	if c.items == nil {
		c.items = make(map[string]domain.ReorderReport)
	}
	c.items[key] = *value
	c.sets++
	return nil
}

var catalog = []domain.Product{
	{SKU: "SKU-BOLT", Name: "Bolt", ReorderPoint: 100, CostCents: 20, Active: true},
	{SKU: "SKU-TAPE", Name: "Tape", ReorderPoint: 10, CostCents: 500, Active: true},
	{SKU: "SKU-GLOVE", Name: "Glove", ReorderPoint: 10, CostCents: 900, Active: true},
	{SKU: "SKU-OLD", Name: "Retired", ReorderPoint: 50, CostCents: 100, Active: false},
}

func TestRecommendRanksByUrgency(t *testing.T) {
	engine := NewEngine(nil, time.Minute)
	req := Normalize(domain.ReorderRequest{}, "main-store")

	stock := map[string]int{"SKU-BOLT": 60, "SKU-TAPE": 0, "SKU-GLOVE": 40, "SKU-OLD": 0}
	// Glove: 56 units over 28 days = 2/day, 20 days of cover, lead time 7 -> fine.
	outflow := map[string]int{"SKU-BOLT": 28, "SKU-GLOVE": 56}

	report := engine.Recommend(context.Background(), req, catalog, stock, outflow)

	require.Len(t, report.Suggestions, 2)
	assert.Equal(t, "main-store", report.StoreID)
	assert.Equal(t, DefaultLookbackDays, report.LookbackDays)

	first := report.Suggestions[0]
	assert.Equal(t, "SKU-TAPE", first.SKU)
	assert.Equal(t, ReasonOutOfStock, first.ReasonCode)
	assert.Equal(t, 1.0, first.Urgency)
	assert.Equal(t, 20, first.SuggestedQty)
	assert.Equal(t, int64(20*500), first.EstimatedCostCents)
	assert.Equal(t, -1.0, first.DaysOfCover)

	second := report.Suggestions[1]
	assert.Equal(t, "SKU-BOLT", second.SKU)
	assert.Equal(t, ReasonBelowReorderPoint, second.ReasonCode)
	assert.Equal(t, 1.0, second.DailyUsage)
	assert.Equal(t, 60.0, second.DaysOfCover)
	// max(100 + ceil(1 * 21), 200) - 60
	assert.Equal(t, 140, second.SuggestedQty)
}

func TestRecommendFlagsLowCoverAboveReorderPoint(t *testing.T) {
	engine := NewEngine(nil, time.Minute)
	req := Normalize(domain.ReorderRequest{LookbackDays: 10, LeadTimeDays: 5}, "main-store")

	stock := map[string]int{"SKU-GLOVE": 30}
	outflow := map[string]int{"SKU-GLOVE": 100}

	report := engine.Recommend(context.Background(), req, catalog[2:3], stock, outflow)

	require.Len(t, report.Suggestions, 1)
	s := report.Suggestions[0]
	assert.Equal(t, ReasonLowCover, s.ReasonCode)
	assert.Equal(t, 3.0, s.DaysOfCover)
	// 10 + ceil(10 * 19) - 30
	assert.Equal(t, 170, s.SuggestedQty)
}

func TestRecommendUsesCacheUntilInputsChange(t *testing.T) {
	store := &memoryReportCache{}
	engine := NewEngine(store, time.Minute)
	req := Normalize(domain.ReorderRequest{}, "main-store")
	stock := map[string]int{"SKU-TAPE": 0}

	first := engine.Recommend(context.Background(), req, catalog[1:2], stock, nil)
	second := engine.Recommend(context.Background(), req, catalog[1:2], stock, nil)
	assert.Equal(t, 1, store.sets)
	assert.Equal(t, first.Suggestions, second.Suggestions)

	stock["SKU-TAPE"] = 3
	third := engine.Recommend(context.Background(), req, catalog[1:2], stock, nil)
	assert.Equal(t, 2, store.sets)
	require.Len(t, third.Suggestions, 1)
	assert.Equal(t, 3, third.Suggestions[0].CurrentStock)
}

func TestNormalizeBounds(t *testing.T) {
	req := Normalize(domain.ReorderRequest{LookbackDays: 1000, LeadTimeDays: -1}, "main-store")
	assert.Equal(t, "main-store", req.StoreID)
	assert.Equal(t, 365, req.LookbackDays)
	assert.Equal(t, DefaultLeadTimeDays, req.LeadTimeDays)
}

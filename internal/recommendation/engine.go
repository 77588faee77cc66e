// Package recommendation ranks SKUs that need replenishing from current stock
// and recent outflow.
package recommendation

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"stockline/backend/internal/cache"
	"stockline/backend/internal/domain"
)

const (
	DefaultLookbackDays = 28
	DefaultLeadTimeDays = 7

	// reviewDays is how long an order should last past its lead time.
	reviewDays = 14
)

const (
	ReasonOutOfStock        = "out_of_stock"
	ReasonBelowReorderPoint = "below_reorder_point"
	ReasonLowCover          = "low_days_of_cover"
)

type Engine struct {
	cache      cache.ReportCache
	cacheTTL   time.Duration
	minUrgency float64
	now        func() time.Time
}

func NewEngine(cacheStore cache.ReportCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}

	return &Engine{
		cache:      cacheStore,
		cacheTTL:   cacheTTL,
		minUrgency: 0.05,
		now:        time.Now,
	}
}

// Normalize fills defaults and bounds the request.
func Normalize(req domain.ReorderRequest, defaultStoreID string) domain.ReorderRequest {
	if req.StoreID == "" {
		req.StoreID = defaultStoreID
	}
	if req.LookbackDays <= 0 {
		req.LookbackDays = DefaultLookbackDays
	}
	if req.LookbackDays > 365 {
		req.LookbackDays = 365
	}
	if req.LeadTimeDays <= 0 {
		req.LeadTimeDays = DefaultLeadTimeDays
	}
	if req.LeadTimeDays > 90 {
		req.LeadTimeDays = 90
	}
	return req
}

// Recommend scores every active product. outflow holds the units that left
// each SKU during the lookback window.
func (e *Engine) Recommend(
	ctx context.Context,
	req domain.ReorderRequest,
	products []domain.Product,
	stockMap map[string]int,
	outflow map[string]int,
) domain.ReorderReport {
	startedAt := time.Now()

	cacheKey := buildCacheKey(req, stockMap, outflow)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		cached.LatencyMS = time.Since(startedAt).Milliseconds()
		return *cached
	}

	suggestions := make([]domain.ReorderSuggestion, 0)
	for _, product := range products {
		if !product.Active {
			continue
		}
		suggestion, ok := e.score(req, product, stockMap[product.SKU], outflow[product.SKU])
		if ok {
			suggestions = append(suggestions, suggestion)
		}
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Urgency != suggestions[j].Urgency {
			return suggestions[i].Urgency > suggestions[j].Urgency
		}
		return suggestions[i].SKU < suggestions[j].SKU
	})

	report := domain.ReorderReport{
		StoreID:      req.StoreID,
		LookbackDays: req.LookbackDays,
		LeadTimeDays: req.LeadTimeDays,
		GeneratedAt:  e.now().UTC(),
		Suggestions:  suggestions,
	}
	report.LatencyMS = time.Since(startedAt).Milliseconds()
	_ = e.cache.Set(ctx, cacheKey, &report, e.cacheTTL)
	return report
}

func (e *Engine) score(req domain.ReorderRequest, product domain.Product, stock int, used int) (domain.ReorderSuggestion, bool) {
	daily := float64(max(0, used)) / float64(req.LookbackDays)
	cover := -1.0
	if daily > 0 {
		cover = float64(max(0, stock)) / daily
	}

	lowCover := cover >= 0 && cover < float64(req.LeadTimeDays)
	if stock > product.ReorderPoint && !lowCover {
		return domain.ReorderSuggestion{}, false
	}

	target := product.ReorderPoint + int(math.Ceil(daily*float64(req.LeadTimeDays+reviewDays)))
	target = max(target, product.ReorderPoint*2)
	qty := target - stock
	if qty <= 0 {
		return domain.ReorderSuggestion{}, false
	}

	stockPressure := clamp(1-float64(stock)/float64(max(1, product.ReorderPoint)), 0, 1)
	coverPressure := 0.0
	if cover >= 0 {
		coverPressure = clamp(1-cover/float64(2*req.LeadTimeDays), 0, 1)
	}
	urgency := 0.6*stockPressure + 0.4*coverPressure
	if stock <= 0 {
		urgency = 1
	}
	if urgency < e.minUrgency && stock > 0 {
		return domain.ReorderSuggestion{}, false
	}

	return domain.ReorderSuggestion{
		SKU:                product.SKU,
		Name:               product.Name,
		CurrentStock:       stock,
		ReorderPoint:       product.ReorderPoint,
		DailyUsage:         round2(daily),
		DaysOfCover:        round2(cover),
		SuggestedQty:       qty,
		EstimatedCostCents: int64(qty) * product.CostCents,
		ReasonCode:         deriveReason(stock, product.ReorderPoint, lowCover),
		Urgency:            round2(urgency),
	}, true
}

func deriveReason(stock int, reorderPoint int, lowCover bool) string {
	switch {
	case stock <= 0:
		return ReasonOutOfStock
	case stock <= reorderPoint:
		return ReasonBelowReorderPoint
	case lowCover:
		return ReasonLowCover
	default:
		return ReasonBelowReorderPoint
	}
}

// buildCacheKey hashes the inputs so any stock movement yields a new key.
func buildCacheKey(req domain.ReorderRequest, stockMap map[string]int, outflow map[string]int) string {
	skus := make([]string, 0, len(stockMap))
	for sku := range stockMap {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	h := sha1.New()
	fmt.Fprintf(h, "%s|%d|%d", req.StoreID, req.LookbackDays, req.LeadTimeDays)
	for _, sku := range skus {
		fmt.Fprintf(h, "|%s:%d:%d", sku, stockMap[sku], outflow[sku])
	}
	return "stockline:reorder:" + hex.EncodeToString(h.Sum(nil))
}

func clamp(val float64, minVal float64, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}

func round2(val float64) float64 {
	return math.Round(val*100) / 100
}

// Package stockcount runs physical count sessions: expected quantities are
// captured at creation, counted quantities are recorded per item, and
// finalizing posts one ledger adjustment per nonzero variance.
package stockcount

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockline/backend/internal/domain"
	"stockline/backend/internal/events"
	"stockline/backend/internal/ledger"
	"stockline/backend/internal/lock"
	"stockline/backend/internal/metrics"
	"stockline/backend/internal/store"
	"stockline/backend/internal/xid"
)

const ReferenceType = "stock_count"

type Repository interface {
	store.StockCountRepository
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)
	GetStockMap(ctx context.Context, storeID string, skus []string) (map[string]int, error)
}

// Ledger is the part of the ledger a count session posts through.
type Ledger interface {
	RecordBatch(ctx context.Context, inputs []ledger.RecordInput) ([]domain.InventoryTransaction, error)
	ListByReference(ctx context.Context, referenceType string, referenceID string) ([]domain.InventoryTransaction, error)
}

type Service struct {
	repo           Repository
	ledger         Ledger
	notifier       events.Notifier
	locker         lock.Locker
	defaultStoreID string
	logger         *zap.Logger
	now            func() time.Time
}

// New builds the count service. Pass the same Locker the ledger uses so
// count mutations serialize across instances.
func New(repo Repository, l Ledger, locker lock.Locker, notifier events.Notifier, defaultStoreID string, logger *zap.Logger) *Service {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if notifier == nil {
		notifier = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}
	return &Service{
		repo:           repo,
		ledger:         l,
		notifier:       notifier,
		locker:         locker,
		defaultStoreID: defaultStoreID,
		logger:         logger.Named("stockcount"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a draft count. Expected quantities are the stock levels at
// this moment; an empty SKU list counts every active product.
func (s *Service) Create(ctx context.Context, req domain.StockCountCreateRequest, actor string) (domain.StockCount, error) {
	storeID := strings.TrimSpace(req.StoreID)
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	products, err := s.selectProducts(ctx, req.SKUs)
	if err != nil {
		return domain.StockCount{}, err
	}
	if len(products) == 0 {
		return domain.StockCount{}, &ledger.ValidationError{Field: "skus", Message: "no active products to count"}
	}

	skus := make([]string, 0, len(products))
	for _, p := range products {
		skus = append(skus, p.SKU)
	}
	levels, err := s.repo.GetStockMap(ctx, storeID, skus)
	if err != nil {
		return domain.StockCount{}, err
	}

	items := make([]domain.StockCountItem, 0, len(products))
	for _, p := range products {
		items = append(items, domain.StockCountItem{
			SKU:              p.SKU,
			Name:             p.Name,
			ExpectedQuantity: levels[p.SKU],
			UnitCostCents:    p.CostCents,
		})
	}

	count := domain.StockCount{
		ID:        xid.New("cnt"),
		StoreID:   storeID,
		Status:    domain.CountDraft,
		Notes:     strings.TrimSpace(req.Notes),
		Items:     items,
		CreatedBy: actor,
		CreatedAt: s.now(),
	}
	recalculate(&count)

	created, err := s.repo.CreateStockCount(ctx, count)
	if err != nil {
		return domain.StockCount{}, err
	}
	s.logger.Info("stock count created", zap.String("id", created.ID), zap.String("store_id", storeID), zap.Int("items", len(items)))
	return *created, nil
}

func (s *Service) selectProducts(ctx context.Context, skus []string) ([]domain.Product, error) {
	if len(skus) == 0 {
		all, err := s.repo.ListProducts(ctx)
		if err != nil {
			return nil, err
		}
		active := make([]domain.Product, 0, len(all))
		for _, p := range all {
			if p.Active {
				active = append(active, p)
			}
		}
		return active, nil
	}

	wanted := make([]string, 0, len(skus))
	seen := make(map[string]struct{}, len(skus))
	for _, raw := range skus {
		sku := strings.ToUpper(strings.TrimSpace(raw))
		if sku == "" {
			return nil, &ledger.ValidationError{Field: "skus", Message: "must not contain empty values"}
		}
		if _, dup := seen[sku]; dup {
			continue
		}
		seen[sku] = struct{}{}
		wanted = append(wanted, sku)
	}

	found, err := s.repo.GetProductsBySKUs(ctx, wanted)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(wanted))
	for _, sku := range wanted {
		p, ok := found[sku]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", sku, store.ErrNotFound)
		}
		if !p.Active {
			return nil, &ledger.ValidationError{Field: "skus", Message: fmt.Sprintf("product %s is inactive", sku)}
		}
		products = append(products, p)
	}
	return products, nil
}

// RecordCount stores the counted quantity for one item. Recounting an item
// overwrites the previous value while the count is open.
func (s *Service) RecordCount(ctx context.Context, id string, sku string, actual int) (domain.StockCount, error) {
	if actual < 0 {
		return domain.StockCount{}, &ledger.ValidationError{Field: "actual_quantity", Message: "must not be negative"}
	}
	sku = strings.ToUpper(strings.TrimSpace(sku))

	unlock, err := s.locker.Lock(ctx, lock.StockCountKey(id))
	if err != nil {
		return domain.StockCount{}, err
	}
	defer unlock()

	count, err := s.repo.GetStockCount(ctx, id)
	if err != nil {
		return domain.StockCount{}, err
	}

	lc := newLifecycle(count.Status)
	switch count.Status {
	case domain.CountDraft:
		status, err := lc.fire(ctx, eventStart)
		if err != nil {
			return domain.StockCount{}, err
		}
		count.Status = status
		started := s.now()
		count.StartedAt = &started
	case domain.CountInProgress:
	case domain.CountCompleted:
		return domain.StockCount{}, &AlreadyFinalizedError{ID: count.ID, CompletedAt: count.CompletedAt}
	default:
		return domain.StockCount{}, &InvalidStateError{ID: count.ID, Status: count.Status, Action: "record"}
	}

	idx := -1
	for i := range count.Items {
		if count.Items[i].SKU == sku {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.StockCount{}, &ledger.ValidationError{Field: "sku", Message: fmt.Sprintf("%s is not part of stock count %s", sku, count.ID)}
	}

	countedAt := s.now()
	value := actual
	item := &count.Items[idx]
	item.ActualQuantity = &value
	item.Variance = actual - item.ExpectedQuantity
	item.Counted = true
	item.CountedAt = &countedAt
	recalculate(count)

	saved, err := s.repo.SaveStockCount(ctx, *count)
	if err != nil {
		return domain.StockCount{}, err
	}
	return *saved, nil
}

// Finalize posts the variances and completes the count. Adjustments already
// posted under this count's reference are reused, so a retried Finalize
// never posts twice.
func (s *Service) Finalize(ctx context.Context, id string, actor string) (domain.StockCount, error) {
	unlock, err := s.locker.Lock(ctx, lock.StockCountKey(id))
	if err != nil {
		return domain.StockCount{}, err
	}
	defer unlock()

	count, err := s.repo.GetStockCount(ctx, id)
	if err != nil {
		return domain.StockCount{}, err
	}
	if count.Status == domain.CountCompleted {
		return domain.StockCount{}, &AlreadyFinalizedError{ID: count.ID, CompletedAt: count.CompletedAt}
	}
	if count.Status == domain.CountCancelled {
		return domain.StockCount{}, &InvalidStateError{ID: count.ID, Status: count.Status, Action: "finalize"}
	}
	if count.CountedItems < count.TotalItems {
		return domain.StockCount{}, &IncompleteCountError{ID: count.ID, Counted: count.CountedItems, Total: count.TotalItems}
	}
	lc := newLifecycle(count.Status)
	if !lc.can(eventComplete) {
		return domain.StockCount{}, &InvalidStateError{ID: count.ID, Status: count.Status, Action: "finalize"}
	}

	posted, err := s.ledger.ListByReference(ctx, ReferenceType, count.ID)
	if err != nil {
		return domain.StockCount{}, err
	}
	if len(posted) == 0 {
		inputs := make([]ledger.RecordInput, 0, len(count.Items))
		for _, item := range count.Items {
			if item.Variance == 0 {
				continue
			}
			inputs = append(inputs, ledger.RecordInput{
				StoreID:       count.StoreID,
				SKU:           item.SKU,
				Type:          domain.TransactionAdjustment,
				Delta:         item.Variance,
				Reason:        ReferenceType,
				ReferenceType: ReferenceType,
				ReferenceID:   count.ID,
				PerformedBy:   actor,
			})
		}
		if len(inputs) > 0 {
			posted, err = s.ledger.RecordBatch(ctx, inputs)
			if err != nil {
				return domain.StockCount{}, err
			}
		}
	} else {
		s.logger.Warn("reusing adjustments from an earlier finalize attempt", zap.String("id", count.ID), zap.Int("adjustments", len(posted)))
	}

	status, err := lc.fire(ctx, eventComplete)
	if err != nil {
		return domain.StockCount{}, err
	}
	completedAt := s.now()
	count.Status = status
	count.CompletedAt = &completedAt
	count.AdjustmentIDs = make([]string, 0, len(posted))
	for _, entry := range posted {
		count.AdjustmentIDs = append(count.AdjustmentIDs, entry.ID)
	}

	saved, err := s.repo.SaveStockCount(ctx, *count)
	if err != nil {
		return domain.StockCount{}, err
	}
	metrics.StockCountsFinalizedTotal.WithLabelValues(string(domain.CountCompleted)).Inc()
	s.logger.Info("stock count finalized",
		zap.String("id", saved.ID), zap.Int("adjustments", len(saved.AdjustmentIDs)), zap.Int("total_variance", saved.TotalVariance))
	s.notify(ctx, events.StockCountCompleted, *saved)
	return *saved, nil
}

func (s *Service) Cancel(ctx context.Context, id string, actor string) (domain.StockCount, error) {
	unlock, err := s.locker.Lock(ctx, lock.StockCountKey(id))
	if err != nil {
		return domain.StockCount{}, err
	}
	defer unlock()

	count, err := s.repo.GetStockCount(ctx, id)
	if err != nil {
		return domain.StockCount{}, err
	}
	if count.Status == domain.CountCompleted {
		return domain.StockCount{}, &AlreadyFinalizedError{ID: count.ID, CompletedAt: count.CompletedAt}
	}
	lc := newLifecycle(count.Status)
	if !lc.can(eventCancel) {
		return domain.StockCount{}, &InvalidStateError{ID: count.ID, Status: count.Status, Action: "cancel"}
	}
	status, err := lc.fire(ctx, eventCancel)
	if err != nil {
		return domain.StockCount{}, err
	}
	cancelledAt := s.now()
	count.Status = status
	count.CancelledAt = &cancelledAt

	saved, err := s.repo.SaveStockCount(ctx, *count)
	if err != nil {
		return domain.StockCount{}, err
	}
	metrics.StockCountsFinalizedTotal.WithLabelValues(string(domain.CountCancelled)).Inc()
	s.logger.Info("stock count cancelled", zap.String("id", saved.ID), zap.String("actor", actor))
	s.notify(ctx, events.StockCountCancelled, *saved)
	return *saved, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.StockCount, error) {
	count, err := s.repo.GetStockCount(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.StockCount{}, err
	}
	return *count, nil
}

func (s *Service) List(ctx context.Context, storeID string, status domain.StockCountStatus, limit int) ([]domain.StockCount, error) {
	switch status {
	case "", domain.CountDraft, domain.CountInProgress, domain.CountCompleted, domain.CountCancelled:
	default:
		return nil, &ledger.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	return s.repo.ListStockCounts(ctx, strings.TrimSpace(storeID), status, limit)
}

func (s *Service) notify(ctx context.Context, eventType events.Type, count domain.StockCount) {
	evt := events.NewEvent(eventType, count.StoreID)
	evt.StockCount = &count
	if err := s.notifier.Notify(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Warn("failed to deliver stock count event", zap.String("id", count.ID), zap.Error(err))
	}
}

// recalculate refreshes the aggregate fields from the items.
func recalculate(count *domain.StockCount) {
	count.TotalItems = len(count.Items)
	count.CountedItems = 0
	count.TotalVariance = 0
	count.TotalValueCents = 0
	count.VarianceValueCents = 0
	for _, item := range count.Items {
		if !item.Counted || item.ActualQuantity == nil {
			continue
		}
		count.CountedItems++
		count.TotalVariance += item.Variance
		count.TotalValueCents += int64(*item.ActualQuantity) * item.UnitCostCents
		count.VarianceValueCents += int64(item.Variance) * item.UnitCostCents
	}
	if count.TotalItems == 0 {
		count.ProgressPercentage = 0
		return
	}
	count.ProgressPercentage = float64(count.CountedItems) / float64(count.TotalItems) * 100
}

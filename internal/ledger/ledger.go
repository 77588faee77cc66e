// Package ledger records stock movements as an append-only list of
// transactions. Stock levels are derived from it and every append is
// serialized per store and SKU.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockline/backend/internal/cache"
	"stockline/backend/internal/domain"
	"stockline/backend/internal/events"
	"stockline/backend/internal/lock"
	"stockline/backend/internal/metrics"
	"stockline/backend/internal/store"
	"stockline/backend/internal/xid"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	notifyTimeout    = 3 * time.Second
)

// Repository is the persistence the ledger needs.
type Repository interface {
	store.ProductRepository
	store.LedgerRepository
}

type Config struct {
	DefaultStoreID     string
	AllowNegativeStock bool
	// MaxAttempts bounds retries after store.ErrConcurrencyConflict.
	MaxAttempts int
	CacheTTL    time.Duration
}

// RecordInput describes one movement. Quantity is the magnitude for in, out
// and transfer; for count it is the absolute counted level. Delta is only
// read for adjustments.
type RecordInput struct {
	StoreID         string
	SKU             string
	Type            domain.TransactionType
	Quantity        int
	Delta           int
	Reason          string
	ReferenceType   string
	ReferenceID     string
	PerformedBy     string
	Pending         bool
	transferGroupID string
	// skipStockCheck lets compensating entries restore a level below zero.
	skipStockCheck bool
}

type TransferInput struct {
	SKU           string
	FromStoreID   string
	ToStoreID     string
	Quantity      int
	Reason        string
	ReferenceType string
	ReferenceID   string
	PerformedBy   string
}

type Service struct {
	repo     Repository
	locker   lock.Locker
	cache    cache.StockCache
	notifier events.Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func New(repo Repository, locker lock.Locker, stockCache cache.StockCache, notifier events.Notifier, cfg Config, logger *zap.Logger) *Service {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if stockCache == nil {
		stockCache = cache.NoopStockCache{}
	}
	if notifier == nil {
		notifier = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultStoreID == "" {
		cfg.DefaultStoreID = "main-store"
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}

	return &Service{
		repo:     repo,
		locker:   locker,
		cache:    stockCache,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("ledger"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) DefaultStoreID() string {
	return s.cfg.DefaultStoreID
}

func (s *Service) RecordTransaction(ctx context.Context, in RecordInput) (domain.InventoryTransaction, error) {
	entries, err := s.RecordBatch(ctx, []RecordInput{in})
	if err != nil {
		return domain.InventoryTransaction{}, err
	}
	return entries[0], nil
}

// RecordTransfer moves stock between two stores as a pair of transfer
// entries sharing one TransferGroupID. Both legs are appended or neither.
func (s *Service) RecordTransfer(ctx context.Context, in TransferInput) ([]domain.InventoryTransaction, error) {
	in.FromStoreID = strings.TrimSpace(in.FromStoreID)
	in.ToStoreID = strings.TrimSpace(in.ToStoreID)
	if in.FromStoreID == "" {
		in.FromStoreID = s.cfg.DefaultStoreID
	}
	if in.ToStoreID == "" {
		return nil, invalid("to_store_id", "is required")
	}
	if in.FromStoreID == in.ToStoreID {
		return nil, invalid("to_store_id", "must differ from from_store_id")
	}
	if in.Quantity <= 0 {
		return nil, invalid("quantity", "must be greater than zero")
	}

	group := xid.New("trf")
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = "transfer"
	}
	legs := []RecordInput{
		{
			StoreID:         in.FromStoreID,
			SKU:             in.SKU,
			Type:            domain.TransactionTransfer,
			Quantity:        in.Quantity,
			Delta:           -in.Quantity,
			Reason:          reason,
			ReferenceType:   in.ReferenceType,
			ReferenceID:     in.ReferenceID,
			PerformedBy:     in.PerformedBy,
			transferGroupID: group,
		},
		{
			StoreID:         in.ToStoreID,
			SKU:             in.SKU,
			Type:            domain.TransactionTransfer,
			Quantity:        in.Quantity,
			Delta:           in.Quantity,
			Reason:          reason,
			ReferenceType:   in.ReferenceType,
			ReferenceID:     in.ReferenceID,
			PerformedBy:     in.PerformedBy,
			transferGroupID: group,
		},
	}
	return s.RecordBatch(ctx, legs)
}

// RecordBatch validates every input, then appends all entries in one store
// call. A rejected input leaves stock untouched for the whole batch.
func (s *Service) RecordBatch(ctx context.Context, inputs []RecordInput) ([]domain.InventoryTransaction, error) {
	if len(inputs) == 0 {
		return nil, invalid("", "at least one movement is required")
	}

	normalized := make([]RecordInput, 0, len(inputs))
	skus := make([]string, 0, len(inputs))
	keys := make([]string, 0, len(inputs))
	for i, in := range inputs {
		norm, err := s.normalize(in)
		if err != nil {
			metrics.LedgerRejectionsTotal.WithLabelValues("validation").Inc()
			if len(inputs) > 1 {
				var vErr *ValidationError
				if errors.As(err, &vErr) {
					vErr.Field = fmt.Sprintf("movements[%d].%s", i, vErr.Field)
				}
			}
			return nil, err
		}
		normalized = append(normalized, norm)
		skus = append(skus, norm.SKU)
		keys = append(keys, lock.StockKey(norm.StoreID, norm.SKU))
	}

	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return nil, err
	}
	for _, in := range normalized {
		product, ok := products[in.SKU]
		if !ok {
			metrics.LedgerRejectionsTotal.WithLabelValues("unknown_product").Inc()
			return nil, fmt.Errorf("product %s: %w", in.SKU, store.ErrNotFound)
		}
		if !product.Active {
			metrics.LedgerRejectionsTotal.WithLabelValues("validation").Inc()
			return nil, invalid("sku", "product %s is inactive", in.SKU)
		}
	}

	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		if errors.Is(err, lock.ErrLockBusy) {
			metrics.LedgerRejectionsTotal.WithLabelValues("conflict").Inc()
			return nil, &ConcurrencyConflictError{StoreID: normalized[0].StoreID, SKU: normalized[0].SKU, Attempts: 0, Err: err}
		}
		return nil, err
	}
	defer unlock()

	var entries []domain.InventoryTransaction
	for attempt := 1; ; attempt++ {
		entries, err = s.buildEntries(ctx, normalized)
		if err != nil {
			return nil, err
		}

		err = s.repo.AppendTransactions(ctx, entries)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConcurrencyConflict) {
			return nil, err
		}
		if attempt >= s.cfg.MaxAttempts {
			metrics.LedgerRejectionsTotal.WithLabelValues("conflict").Inc()
			s.logger.Warn("ledger append lost every retry",
				zap.String("store_id", normalized[0].StoreID),
				zap.String("sku", normalized[0].SKU),
				zap.Int("attempts", attempt),
			)
			return nil, &ConcurrencyConflictError{StoreID: normalized[0].StoreID, SKU: normalized[0].SKU, Attempts: attempt, Err: err}
		}
		metrics.LedgerConflictRetriesTotal.Inc()
		s.logger.Debug("retrying ledger append after concurrent change", zap.Int("attempt", attempt))
	}

	s.afterAppend(ctx, entries, products)
	return entries, nil
}

func (s *Service) normalize(in RecordInput) (RecordInput, error) {
	in.StoreID = strings.TrimSpace(in.StoreID)
	if in.StoreID == "" {
		in.StoreID = s.cfg.DefaultStoreID
	}
	in.SKU = strings.ToUpper(strings.TrimSpace(in.SKU))
	in.Reason = strings.TrimSpace(in.Reason)
	in.ReferenceType = strings.TrimSpace(in.ReferenceType)
	in.ReferenceID = strings.TrimSpace(in.ReferenceID)
	in.PerformedBy = strings.TrimSpace(in.PerformedBy)
	if in.PerformedBy == "" {
		in.PerformedBy = domain.RoleSystem
	}

	if in.SKU == "" {
		return in, invalid("sku", "is required")
	}
	if !in.Type.Valid() {
		return in, invalid("type", "unknown transaction type %q", in.Type)
	}

	switch in.Type {
	case domain.TransactionIn:
		if in.Quantity <= 0 {
			return in, invalid("quantity", "must be greater than zero")
		}
		in.Delta = in.Quantity
	case domain.TransactionOut:
		if in.Quantity <= 0 {
			return in, invalid("quantity", "must be greater than zero")
		}
		in.Delta = -in.Quantity
	case domain.TransactionTransfer:
		if in.Quantity <= 0 {
			return in, invalid("quantity", "must be greater than zero")
		}
		if in.transferGroupID == "" {
			return in, invalid("type", "transfers must be recorded as a pair")
		}
		if in.Delta != in.Quantity && in.Delta != -in.Quantity {
			return in, invalid("delta", "transfer leg must move exactly the quantity")
		}
	case domain.TransactionCount:
		if in.Quantity <= 0 {
			return in, invalid("quantity", "must be greater than zero")
		}
	case domain.TransactionAdjustment:
		if in.Delta == 0 {
			return in, invalid("delta", "must not be zero")
		}
		in.Quantity = abs(in.Delta)
	}

	if in.Reason == "" {
		in.Reason = string(in.Type)
	}
	return in, nil
}

// buildEntries reads the current level of every key and chains the inputs on
// top of it. Inputs touching the same key see each other's result.
func (s *Service) buildEntries(ctx context.Context, inputs []RecordInput) ([]domain.InventoryTransaction, error) {
	bySKU := make(map[string][]string)
	for _, in := range inputs {
		bySKU[in.StoreID] = append(bySKU[in.StoreID], in.SKU)
	}
	running := make(map[string]int, len(inputs))
	for storeID, skus := range bySKU {
		levels, err := s.repo.GetStockMap(ctx, storeID, skus)
		if err != nil {
			return nil, err
		}
		for sku, qty := range levels {
			running[storeKey(storeID, sku)] = qty
		}
	}

	now := s.now()
	entries := make([]domain.InventoryTransaction, 0, len(inputs))
	for _, in := range inputs {
		key := storeKey(in.StoreID, in.SKU)
		previous := running[key]

		delta := in.Delta
		if in.Type == domain.TransactionCount {
			delta = in.Quantity - previous
		}
		next := previous + delta

		if delta < 0 && next < 0 {
			switch {
			case in.skipStockCheck:
				s.logger.Warn("compensating entry drives stock negative",
					zap.String("store_id", in.StoreID), zap.String("sku", in.SKU), zap.Int("new_stock", next))
			case s.cfg.AllowNegativeStock:
				s.logger.Warn("negative stock override",
					zap.String("store_id", in.StoreID),
					zap.String("sku", in.SKU),
					zap.Int("previous_stock", previous),
					zap.Int("delta", delta),
					zap.String("performed_by", in.PerformedBy),
				)
			default:
				metrics.LedgerRejectionsTotal.WithLabelValues("insufficient_stock").Inc()
				return nil, invalid("quantity", "insufficient stock for %s in %s: have %d, need %d", in.SKU, in.StoreID, previous, -delta)
			}
		}

		status := domain.StatusCompleted
		if in.Pending {
			status = domain.StatusPending
		}
		entries = append(entries, domain.InventoryTransaction{
			ID:              xid.New("itx"),
			StoreID:         in.StoreID,
			SKU:             in.SKU,
			Type:            in.Type,
			Quantity:        in.Quantity,
			Delta:           delta,
			PreviousStock:   previous,
			NewStock:        next,
			Reason:          in.Reason,
			ReferenceType:   in.ReferenceType,
			ReferenceID:     in.ReferenceID,
			TransferGroupID: in.transferGroupID,
			PerformedBy:     in.PerformedBy,
			Status:          status,
			CreatedAt:       now,
		})
		running[key] = next
	}
	return entries, nil
}

func (s *Service) afterAppend(ctx context.Context, entries []domain.InventoryTransaction, products map[string]domain.Product) {
	final := make(map[string]domain.InventoryTransaction)
	for _, entry := range entries {
		metrics.LedgerTransactionsTotal.WithLabelValues(string(entry.Type), string(entry.Status)).Inc()
		final[storeKey(entry.StoreID, entry.SKU)] = entry
	}
	// Runs under the stock locks taken in RecordBatch.
	for _, entry := range final {
		err := s.cache.Set(ctx, entry.StoreID, entry.SKU, entry.NewStock, s.cfg.CacheTTL)
		if err == nil {
			continue
		}
		s.logger.Warn("stock cache write failed", zap.String("store_id", entry.StoreID), zap.String("sku", entry.SKU), zap.Error(err))
		if err := s.cache.Invalidate(ctx, entry.StoreID, entry.SKU); err != nil {
			s.logger.Warn("failed to invalidate stock cache", zap.String("store_id", entry.StoreID), zap.Error(err))
		}
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	for _, entry := range entries {
		s.notify(notifyCtx, events.ForTransaction(events.TransactionRecorded, entry))
	}
	for _, entry := range final {
		product := products[entry.SKU]
		if product.ReorderPoint > 0 && entry.NewStock <= product.ReorderPoint {
			evt := events.NewEvent(events.LowStock, entry.StoreID)
			evt.SKU = entry.SKU
			evt.LowStock = &events.LowStockAlert{
				StoreID:      entry.StoreID,
				SKU:          entry.SKU,
				Name:         product.Name,
				Current:      entry.NewStock,
				ReorderPoint: product.ReorderPoint,
			}
			s.notify(notifyCtx, evt)
		}
	}
}

func (s *Service) notify(ctx context.Context, evt events.Event) {
	if err := s.notifier.Notify(ctx, evt); err != nil {
		s.logger.Warn("failed to deliver inventory event", zap.String("event_type", string(evt.Type)), zap.String("sku", evt.SKU), zap.Error(err))
	}
}

// GetCurrentStock returns the level after the latest entry for the key. The
// cache is only written by appends; a miss reads the store without filling.
func (s *Service) GetCurrentStock(ctx context.Context, storeID string, sku string) (int, error) {
	storeID, sku = s.key(storeID, sku)
	if sku == "" {
		return 0, invalid("sku", "is required")
	}

	if qty, ok, err := s.cache.Get(ctx, storeID, sku); err != nil {
		s.logger.Warn("stock cache read failed", zap.String("sku", sku), zap.Error(err))
	} else if ok {
		return qty, nil
	}

	return s.repo.GetStock(ctx, storeID, sku)
}

// Replay folds every delta for the key from an empty history.
func (s *Service) Replay(ctx context.Context, storeID string, sku string) (int, error) {
	storeID, sku = s.key(storeID, sku)
	if sku == "" {
		return 0, invalid("sku", "is required")
	}
	entries, err := s.repo.ListTransactions(ctx, store.TransactionFilter{StoreID: storeID, SKU: sku})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, entry := range entries {
		total += entry.Delta
	}
	return total, nil
}

// Verify compares the stored level with the replayed ledger.
func (s *Service) Verify(ctx context.Context, storeID string, sku string) (domain.StockLevel, error) {
	storeID, sku = s.key(storeID, sku)
	if sku == "" {
		return domain.StockLevel{}, invalid("sku", "is required")
	}
	current, err := s.repo.GetStock(ctx, storeID, sku)
	if err != nil {
		return domain.StockLevel{}, err
	}
	sum, err := s.Replay(ctx, storeID, sku)
	if err != nil {
		return domain.StockLevel{}, err
	}
	level := domain.StockLevel{
		StoreID:    storeID,
		SKU:        sku,
		Current:    current,
		LedgerSum:  sum,
		Consistent: current == sum,
	}
	if !level.Consistent {
		s.logger.Error("stock level diverged from ledger",
			zap.String("store_id", storeID), zap.String("sku", sku), zap.Int("current", current), zap.Int("ledger_sum", sum))
	}
	return level, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.InventoryTransaction, error) {
	filter.SKU = strings.ToUpper(strings.TrimSpace(filter.SKU))
	filter.StoreID = strings.TrimSpace(filter.StoreID)
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, invalid("type", "unknown transaction type %q", filter.Type)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, invalid("from", "must be before to")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.repo.ListTransactions(ctx, filter)
}

// ListByReference returns every entry posted for one business document.
func (s *Service) ListByReference(ctx context.Context, referenceType string, referenceID string) ([]domain.InventoryTransaction, error) {
	if referenceType == "" || referenceID == "" {
		return nil, invalid("reference_id", "is required")
	}
	return s.repo.ListTransactions(ctx, store.TransactionFilter{ReferenceType: referenceType, ReferenceID: referenceID})
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.InventoryTransaction, error) {
	entry, err := s.repo.GetTransaction(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.InventoryTransaction{}, err
	}
	return *entry, nil
}

// UpdateStatus moves an entry through pending -> approved|rejected and
// approved -> completed. Rejecting appends an adjustment that reverses the
// entry's delta; the original entry is never edited.
func (s *Service) UpdateStatus(ctx context.Context, id string, to domain.TransactionStatus, actor string) (domain.InventoryTransaction, error) {
	current, err := s.repo.GetTransaction(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.InventoryTransaction{}, err
	}
	if !allowedTransition(current.Status, to) {
		return domain.InventoryTransaction{}, &StatusTransitionError{ID: current.ID, From: current.Status, To: to}
	}

	updated, err := s.repo.UpdateTransactionStatus(ctx, current.ID, current.Status, to)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			return domain.InventoryTransaction{}, &StatusTransitionError{ID: current.ID, From: current.Status, To: to}
		}
		return domain.InventoryTransaction{}, err
	}

	if to == domain.StatusRejected {
		_, err := s.RecordBatch(ctx, []RecordInput{{
			StoreID:        updated.StoreID,
			SKU:            updated.SKU,
			Type:           domain.TransactionAdjustment,
			Delta:          -updated.Delta,
			Reason:         "reversal of " + updated.ID,
			ReferenceType:  "inventory_transaction",
			ReferenceID:    updated.ID,
			PerformedBy:    actor,
			skipStockCheck: true,
		}})
		if err != nil {
			if _, revertErr := s.repo.UpdateTransactionStatus(ctx, updated.ID, domain.StatusRejected, current.Status); revertErr != nil {
				s.logger.Error("failed to revert rejected status", zap.String("id", updated.ID), zap.Error(revertErr))
			}
			return domain.InventoryTransaction{}, fmt.Errorf("post reversal: %w", err)
		}
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	s.notify(notifyCtx, events.ForTransaction(events.TransactionStatus, *updated))

	s.logger.Info("transaction status changed",
		zap.String("id", updated.ID), zap.String("from", string(current.Status)), zap.String("to", string(to)), zap.String("actor", actor))
	return *updated, nil
}

func allowedTransition(from domain.TransactionStatus, to domain.TransactionStatus) bool {
	switch from {
	case domain.StatusPending:
		return to == domain.StatusApproved || to == domain.StatusRejected
	case domain.StatusApproved:
		return to == domain.StatusCompleted
	default:
		return false
	}
}

func (s *Service) key(storeID string, sku string) (string, string) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		storeID = s.cfg.DefaultStoreID
	}
	return storeID, strings.ToUpper(strings.TrimSpace(sku))
}

func storeKey(storeID string, sku string) string {
	return storeID + "\x00" + sku
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

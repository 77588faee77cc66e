package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockline/backend/internal/domain"
	"stockline/backend/internal/events"
	"stockline/backend/internal/ledger"
	"stockline/backend/internal/recommendation"
	"stockline/backend/internal/stockcount"
	"stockline/backend/internal/store"
	"stockline/backend/internal/xid"
)

const (
	ReferenceProduct       = "product"
	ReferencePurchaseOrder = "purchase_order"
	ReferenceSalesOrder    = "sales_order"

	ReasonInitialStock = "initial_stock"
)

// ErrForbidden is wrapped by every role check failure.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo           store.Repository
	ledger         *ledger.Service
	counts         *stockcount.Service
	recommender    *recommendation.Engine
	notifier       events.Notifier
	logger         *zap.Logger
	defaultStoreID string
}

func New(repo store.Repository, ledgerSvc *ledger.Service, counts *stockcount.Service, recommender *recommendation.Engine, notifier events.Notifier, logger *zap.Logger) *Service {
	if recommender == nil {
		recommender = recommendation.NewEngine(nil, 0)
	}
	if notifier == nil {
		notifier = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:           repo,
		ledger:         ledgerSvc,
		counts:         counts,
		recommender:    recommender,
		notifier:       notifier,
		logger:         logger.Named("service"),
		defaultStoreID: ledgerSvc.DefaultStoreID(),
	}
}

func (s *Service) DefaultStoreID() string {
	return s.defaultStoreID
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}
	if !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: %s role required", ErrForbidden, strings.Join(roles, " or "))
	}
	return actor, nil
}

func invalid(field string, message string) error {
	return &ledger.ValidationError{Field: field, Message: message}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, sku string) (domain.Product, error) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Product{}, invalid("sku", "is required")
	}
	product, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// CreateProduct registers a SKU. Opening stock goes through the ledger as an
// "in" entry so the product's history starts from zero.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.TrimSpace(req.Unit)

	switch {
	case req.SKU == "":
		return domain.Product{}, invalid("sku", "is required")
	case req.Name == "":
		return domain.Product{}, invalid("name", "is required")
	case req.Category == "":
		return domain.Product{}, invalid("category", "is required")
	case req.PriceCents < 1:
		return domain.Product{}, invalid("price_cents", "must be positive")
	case req.CostCents < 0:
		return domain.Product{}, invalid("cost_cents", "must not be negative")
	case req.ReorderPoint < 0:
		return domain.Product{}, invalid("reorder_point", "must not be negative")
	case req.InitialStock < 0:
		return domain.Product{}, invalid("initial_stock", "must not be negative")
	}
	if req.Unit == "" {
		req.Unit = "pcs"
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:          req.SKU,
		Name:         req.Name,
		Category:     req.Category,
		Unit:         req.Unit,
		PriceCents:   req.PriceCents,
		CostCents:    req.CostCents,
		ReorderPoint: req.ReorderPoint,
		Active:       true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	if req.InitialStock > 0 {
		if _, err := s.ledger.RecordTransaction(ctx, ledger.RecordInput{
			StoreID:       req.StoreID,
			SKU:           created.SKU,
			Type:          domain.TransactionIn,
			Quantity:      req.InitialStock,
			Reason:        ReasonInitialStock,
			ReferenceType: ReferenceProduct,
			ReferenceID:   created.SKU,
			PerformedBy:   actor.Username,
		}); err != nil {
			return domain.Product{}, fmt.Errorf("post initial stock: %w", err)
		}
	}

	s.logAudit(ctx, req.StoreID, "product_create", "product", created.SKU, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, req.InitialStock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, sku string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.GetProduct(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}

	updated := existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, invalid("name", "must not be empty")
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, invalid("category", "must not be empty")
		}
		updated.Category = category
	}
	if req.Unit != nil {
		unit := strings.TrimSpace(*req.Unit)
		if unit == "" {
			return domain.Product{}, invalid("unit", "must not be empty")
		}
		updated.Unit = unit
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, invalid("price_cents", "must be positive")
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.Product{}, invalid("cost_cents", "must not be negative")
		}
		updated.CostCents = *req.CostCents
	}
	if req.ReorderPoint != nil {
		if *req.ReorderPoint < 0 {
			return domain.Product{}, invalid("reorder_point", "must not be negative")
		}
		updated.ReorderPoint = *req.ReorderPoint
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "product_update", "product", saved.SKU, fmt.Sprintf("active=%t,price=%d,cost=%d,reorder_point=%d", saved.Active, saved.PriceCents, saved.CostCents, saved.ReorderPoint))
	return *saved, nil
}

// RecordTransaction posts one ledger entry for the calling user. Adjustments
// and counts override stock directly, so they need a manager.
func (s *Service) RecordTransaction(ctx context.Context, req domain.InventoryTransactionRequest) (domain.InventoryTransaction, error) {
	roles := []string{domain.RoleAdmin, domain.RoleManager, domain.RoleStaff}
	if req.Type == domain.TransactionAdjustment || req.Type == domain.TransactionCount {
		roles = roles[:2]
	}
	actor, err := requireRole(ctx, roles...)
	if err != nil {
		return domain.InventoryTransaction{}, err
	}

	tx, err := s.ledger.RecordTransaction(ctx, ledger.RecordInput{
		StoreID:       req.StoreID,
		SKU:           req.SKU,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Delta:         req.Delta,
		Reason:        req.Reason,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		PerformedBy:   actor.Username,
		Pending:       req.Pending,
	})
	if err != nil {
		return domain.InventoryTransaction{}, err
	}

	s.logAudit(ctx, tx.StoreID, "inventory_"+string(tx.Type), "inventory_transaction", tx.ID, fmt.Sprintf("sku=%s,delta=%d,new_stock=%d,status=%s", tx.SKU, tx.Delta, tx.NewStock, tx.Status))
	return tx, nil
}

func (s *Service) RecordTransfer(ctx context.Context, req domain.InventoryTransferRequest) ([]domain.InventoryTransaction, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return nil, err
	}

	legs, err := s.ledger.RecordTransfer(ctx, ledger.TransferInput{
		SKU:         req.SKU,
		FromStoreID: req.FromStoreID,
		ToStoreID:   req.ToStoreID,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
		PerformedBy: actor.Username,
	})
	if err != nil {
		return nil, err
	}

	for _, leg := range legs {
		s.logAudit(ctx, leg.StoreID, "inventory_transfer", "inventory_transaction", leg.ID, fmt.Sprintf("sku=%s,delta=%d,group=%s", leg.SKU, leg.Delta, leg.TransferGroupID))
	}
	return legs, nil
}

// UpdateTransactionStatus is the approval workflow for pending entries.
func (s *Service) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) (domain.InventoryTransaction, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.InventoryTransaction{}, err
	}

	tx, err := s.ledger.UpdateStatus(ctx, id, status, actor.Username)
	if err != nil {
		return domain.InventoryTransaction{}, err
	}

	s.logAudit(ctx, tx.StoreID, "inventory_status_change", "inventory_transaction", tx.ID, fmt.Sprintf("status=%s", tx.Status))
	return tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.InventoryTransaction, error) {
	return s.ledger.ListTransactions(ctx, filter)
}

// StockLevel returns the stored level next to the ledger replay so callers can
// see drift.
func (s *Service) StockLevel(ctx context.Context, storeID string, sku string) (domain.StockLevel, error) {
	if _, err := s.GetProduct(ctx, sku); err != nil {
		return domain.StockLevel{}, err
	}
	return s.ledger.Verify(ctx, storeID, sku)
}

// ReorderSuggestions ranks SKUs to replenish. Outflow counts out entries and
// outgoing transfer legs that were not rejected.
func (s *Service) ReorderSuggestions(ctx context.Context, req domain.ReorderRequest) (domain.ReorderReport, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.ReorderReport{}, err
	}
	req = recommendation.Normalize(req, s.defaultStoreID)

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.ReorderReport{}, err
	}
	skus := make([]string, 0, len(products))
	for _, p := range products {
		skus = append(skus, p.SKU)
	}
	stockMap, err := s.repo.GetStockMap(ctx, req.StoreID, skus)
	if err != nil {
		return domain.ReorderReport{}, err
	}

	since := time.Now().UTC().AddDate(0, 0, -req.LookbackDays)
	outflow := make(map[string]int, len(products))
	for _, txType := range []domain.TransactionType{domain.TransactionOut, domain.TransactionTransfer} {
		entries, err := s.repo.ListTransactions(ctx, store.TransactionFilter{StoreID: req.StoreID, Type: txType, From: since})
		if err != nil {
			return domain.ReorderReport{}, err
		}
		for _, entry := range entries {
			if entry.Delta < 0 && entry.Status != domain.StatusRejected {
				outflow[entry.SKU] -= entry.Delta
			}
		}
	}

	return s.recommender.Recommend(ctx, req, products, stockMap, outflow), nil
}

func (s *Service) CreateStockCount(ctx context.Context, req domain.StockCountCreateRequest) (domain.StockCount, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockCount{}, err
	}
	count, err := s.counts.Create(ctx, req, actor.Username)
	if err != nil {
		return domain.StockCount{}, err
	}
	s.logAudit(ctx, count.StoreID, "stock_count_create", "stock_count", count.ID, fmt.Sprintf("items=%d", count.TotalItems))
	return count, nil
}

func (s *Service) RecordStockCount(ctx context.Context, id string, req domain.StockCountRecordRequest) (domain.StockCount, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager, domain.RoleStaff); err != nil {
		return domain.StockCount{}, err
	}
	return s.counts.RecordCount(ctx, id, req.SKU, req.ActualQuantity)
}

func (s *Service) FinalizeStockCount(ctx context.Context, id string) (domain.StockCount, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockCount{}, err
	}
	count, err := s.counts.Finalize(ctx, id, actor.Username)
	if err != nil {
		return domain.StockCount{}, err
	}
	s.logAudit(ctx, count.StoreID, "stock_count_finalize", "stock_count", count.ID, fmt.Sprintf("variance=%d,variance_value=%d,adjustments=%d", count.TotalVariance, count.VarianceValueCents, len(count.AdjustmentIDs)))
	return count, nil
}

func (s *Service) CancelStockCount(ctx context.Context, id string) (domain.StockCount, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.StockCount{}, err
	}
	count, err := s.counts.Cancel(ctx, id, actor.Username)
	if err != nil {
		return domain.StockCount{}, err
	}
	s.logAudit(ctx, count.StoreID, "stock_count_cancel", "stock_count", count.ID, "")
	return count, nil
}

func (s *Service) GetStockCount(ctx context.Context, id string) (domain.StockCount, error) {
	return s.counts.Get(ctx, id)
}

func (s *Service) ListStockCounts(ctx context.Context, storeID string, status string, limit int) ([]domain.StockCount, error) {
	return s.counts.List(ctx, storeID, domain.StockCountStatus(strings.ToLower(strings.TrimSpace(status))), limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, invalid("date", "must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.Supplier{}, invalid("name", "is required")
	}

	saved, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "supplier_create", "supplier", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrderResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	if strings.TrimSpace(req.SupplierID) == "" {
		return domain.PurchaseOrderResponse{}, invalid("supplier_id", "is required")
	}
	if len(req.Items) == 0 {
		return domain.PurchaseOrderResponse{}, invalid("items", "must not be empty")
	}

	items := make([]domain.PurchaseOrderItem, 0, len(req.Items))
	skus := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		item.SKU = strings.ToUpper(strings.TrimSpace(item.SKU))
		if item.SKU == "" || item.Qty < 1 || item.CostCents < 1 {
			return domain.PurchaseOrderResponse{}, invalid("items", "every line needs a sku, a positive qty and a positive cost")
		}
		items = append(items, item)
		skus = append(skus, item.SKU)
	}
	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	for _, sku := range skus {
		if _, ok := products[sku]; !ok {
			return domain.PurchaseOrderResponse{}, fmt.Errorf("product %s: %w", sku, store.ErrNotFound)
		}
	}

	saved, err := s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		ID:         xid.New("po"),
		StoreID:    req.StoreID,
		SupplierID: strings.TrimSpace(req.SupplierID),
		Status:     "draft",
		CreatedAt:  time.Now().UTC(),
		Items:      items,
	})
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	s.logAudit(ctx, req.StoreID, "purchase_order_create", "purchase_order", saved.ID, fmt.Sprintf("items=%d", len(saved.Items)))
	return domain.PurchaseOrderResponse{PurchaseOrder: *saved}, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, status string) (domain.PurchaseOrderListResponse, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	pos, err := s.repo.ListPurchaseOrders(ctx, s.defaultStoreID, status, 200)
	if err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	return domain.PurchaseOrderListResponse{PurchaseOrders: pos}, nil
}

// ReceivePurchaseOrder marks the order received and posts one "in" entry per
// line in a single batch. A failed posting puts the order back to draft.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, purchaseOrderID string, req domain.PurchaseOrderReceiveRequest) (domain.PurchaseOrderResponse, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	purchaseOrderID = strings.TrimSpace(purchaseOrderID)
	if purchaseOrderID == "" {
		return domain.PurchaseOrderResponse{}, invalid("id", "is required")
	}
	req.ReceivedBy = strings.TrimSpace(req.ReceivedBy)
	if req.ReceivedBy == "" {
		req.ReceivedBy = actor.Username
	}

	po, err := s.repo.GetPurchaseOrderByID(ctx, purchaseOrderID)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	if po.Status == "received" {
		return domain.PurchaseOrderResponse{}, fmt.Errorf("purchase order %s already received: %w", po.ID, store.ErrInvalidTransaction)
	}

	received, err := s.repo.MarkPurchaseOrderReceived(ctx, purchaseOrderID, req.ReceivedBy, time.Now().UTC())
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}

	inputs := make([]ledger.RecordInput, 0, len(received.Items))
	for _, item := range received.Items {
		inputs = append(inputs, ledger.RecordInput{
			StoreID:       received.StoreID,
			SKU:           item.SKU,
			Type:          domain.TransactionIn,
			Quantity:      item.Qty,
			Reason:        "purchase order receipt",
			ReferenceType: ReferencePurchaseOrder,
			ReferenceID:   received.ID,
			PerformedBy:   actor.Username,
		})
	}
	posted, err := s.ledger.RecordBatch(ctx, inputs)
	if err != nil {
		if revertErr := s.repo.RevertPurchaseOrderReceipt(context.WithoutCancel(ctx), received.ID); revertErr != nil {
			s.logger.Error("failed to revert purchase order receipt", zap.String("purchase_order_id", received.ID), zap.Error(revertErr))
		}
		return domain.PurchaseOrderResponse{}, fmt.Errorf("post receipt: %w", err)
	}

	evt := events.NewEvent(events.PurchaseOrderReceive, received.StoreID)
	evt.PurchaseOrder = received
	if err := s.notifier.Notify(ctx, evt); err != nil {
		s.logger.Warn("purchase order notification failed", zap.String("purchase_order_id", received.ID), zap.Error(err))
	}

	s.logAudit(ctx, received.StoreID, "purchase_order_receive", "purchase_order", received.ID, fmt.Sprintf("received_by=%s,lines=%d", req.ReceivedBy, len(posted)))
	return domain.PurchaseOrderResponse{PurchaseOrder: *received, Transactions: posted}, nil
}

// ApplySalesOrder deducts stock for an order consumed from Kafka. Orders that
// already have ledger entries are skipped, so redelivery is harmless.
func (s *Service) ApplySalesOrder(ctx context.Context, order events.OrderPayload) error {
	order.ID = strings.TrimSpace(order.ID)
	if order.ID == "" {
		return invalid("id", "is required")
	}
	existing, err := s.ledger.ListByReference(ctx, ReferenceSalesOrder, order.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		s.logger.Debug("sales order already applied", zap.String("order_id", order.ID))
		return nil
	}

	inputs := make([]ledger.RecordInput, 0, len(order.Items))
	for _, item := range order.Items {
		inputs = append(inputs, ledger.RecordInput{
			StoreID:       order.StoreID,
			SKU:           item.SKU,
			Type:          domain.TransactionOut,
			Quantity:      item.Quantity,
			Reason:        "sales order",
			ReferenceType: ReferenceSalesOrder,
			ReferenceID:   order.ID,
			PerformedBy:   domain.RoleSystem,
		})
	}
	if len(inputs) == 0 {
		return invalid("items", "must not be empty")
	}
	posted, err := s.ledger.RecordBatch(ctx, inputs)
	if err != nil {
		return fmt.Errorf("apply sales order %s: %w", order.ID, err)
	}

	storeID := order.StoreID
	if storeID == "" && len(posted) > 0 {
		storeID = posted[0].StoreID
	}
	s.logAudit(ctx, storeID, "sales_order_apply", "sales_order", order.ID, fmt.Sprintf("lines=%d", len(posted)))
	return nil
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: domain.RoleSystem, Role: domain.RoleSystem}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action), zap.String("entity_type", entityType), zap.String("entity_id", entityID), zap.Error(err))
	}
}

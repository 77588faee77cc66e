package store

import (
	"context"
	"errors"
	"time"

	"stockline/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrConcurrencyConflict is returned by AppendTransactions when the stock
	// level no longer matches an entry's PreviousStock.
	ErrConcurrencyConflict = errors.New("stock changed concurrently")
)

type TransactionFilter struct {
	StoreID       string
	SKU           string
	Type          domain.TransactionType
	ReferenceType string
	ReferenceID   string
	From          time.Time
	To            time.Time
	// Limit keeps the most recent entries; <= 0 returns every match.
	Limit int
}

type ProductRepository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
}

// LedgerRepository persists inventory transactions together with the derived
// per-store stock level.
type LedgerRepository interface {
	GetStock(ctx context.Context, storeID string, sku string) (int, error)
	GetStockMap(ctx context.Context, storeID string, skus []string) (map[string]int, error)
	// AppendTransactions writes every entry or none. Entries are applied in
	// order; each entry's PreviousStock must equal the stock at that point.
	AppendTransactions(ctx context.Context, entries []domain.InventoryTransaction) error
	GetTransaction(ctx context.Context, id string) (*domain.InventoryTransaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.InventoryTransaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, from domain.TransactionStatus, to domain.TransactionStatus) (*domain.InventoryTransaction, error)
}

type StockCountRepository interface {
	CreateStockCount(ctx context.Context, count domain.StockCount) (*domain.StockCount, error)
	GetStockCount(ctx context.Context, id string) (*domain.StockCount, error)
	SaveStockCount(ctx context.Context, count domain.StockCount) (*domain.StockCount, error)
	ListStockCounts(ctx context.Context, storeID string, status domain.StockCountStatus, limit int) ([]domain.StockCount, error)
}

type AuditRepository interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type ProcurementRepository interface {
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrderByID(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.PurchaseOrder, error)
	// MarkPurchaseOrderReceived moves a draft order to received. It returns
	// ErrInvalidTransaction when the order is not a draft.
	MarkPurchaseOrderReceived(ctx context.Context, purchaseOrderID string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error)
	// RevertPurchaseOrderReceipt puts a received order back to draft.
	RevertPurchaseOrderReceipt(ctx context.Context, purchaseOrderID string) error
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	ProductRepository
	LedgerRepository
	StockCountRepository
	AuditRepository
	ProcurementRepository
	UserRepository
}

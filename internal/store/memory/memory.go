package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"stockline/backend/internal/domain"
	"stockline/backend/internal/store"
	"stockline/backend/internal/xid"
)

const seedStoreID = "main-store"

type Store struct {
	mu                 sync.RWMutex
	products           map[string]domain.Product
	stock              map[string]map[string]int
	transactions       []domain.InventoryTransaction
	transactionIndex   map[string]int
	stockCounts        map[string]domain.StockCount
	auditLogs          []domain.AuditLog
	suppliersByID      map[string]domain.Supplier
	purchaseOrdersByID map[string]domain.PurchaseOrder
	usersByUsername    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:           make(map[string]domain.Product),
		stock:              make(map[string]map[string]int),
		transactions:       make([]domain.InventoryTransaction, 0, 256),
		transactionIndex:   make(map[string]int),
		stockCounts:        make(map[string]domain.StockCount),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		suppliersByID:      make(map[string]domain.Supplier),
		purchaseOrdersByID: make(map[string]domain.PurchaseOrder),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Passwords come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_STAFF_PASSWORD, falling back to dev defaults.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", envOr("SEED_ADMIN_PASSWORD", "admin123"), domain.RoleAdmin},
		{"manager", envOr("SEED_MANAGER_PASSWORD", "manager123"), domain.RoleManager},
		{"staff", envOr("SEED_STAFF_PASSWORD", "staff123"), domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a demo catalog whose opening balances are
// recorded as ledger entries, so replaying the ledger matches stock.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	products := []domain.Product{
		{SKU: "SKU-BOLT-M8", Name: "Hex Bolt M8", Category: "hardware", Unit: "pcs", PriceCents: 450, CostCents: 210, ReorderPoint: 200, Active: true},
		{SKU: "SKU-NUT-M8", Name: "Hex Nut M8", Category: "hardware", Unit: "pcs", PriceCents: 150, CostCents: 60, ReorderPoint: 200, Active: true},
		{SKU: "SKU-GLOVE-L", Name: "Work Gloves L", Category: "safety", Unit: "pair", PriceCents: 3200, CostCents: 1800, ReorderPoint: 25, Active: true},
		{SKU: "SKU-HELMET-01", Name: "Safety Helmet", Category: "safety", Unit: "pcs", PriceCents: 12500, CostCents: 7400, ReorderPoint: 10, Active: true},
		{SKU: "SKU-TAPE-50", Name: "Duct Tape 50m", Category: "consumables", Unit: "roll", PriceCents: 5400, CostCents: 2900, ReorderPoint: 30, Active: true},
		{SKU: "SKU-PALLET-01", Name: "Wooden Pallet", Category: "logistics", Unit: "pcs", PriceCents: 18000, CostCents: 11000, ReorderPoint: 5, Active: true},
		{SKU: "SKU-LABEL-A4", Name: "Shipping Labels A4", Category: "consumables", Unit: "pack", PriceCents: 2800, CostCents: 1300, ReorderPoint: 40, Active: true},
		{SKU: "SKU-WRAP-500", Name: "Stretch Wrap 500mm", Category: "logistics", Unit: "roll", PriceCents: 9900, CostCents: 6100, ReorderPoint: 15, Active: true},
	}

	s := New()
	s.usersByUsername = seedUsers(logger)

	now := time.Now().UTC()
	s.stock[seedStoreID] = make(map[string]int)
	for _, p := range products {
		s.products[p.SKU] = p
		s.appendLocked(domain.InventoryTransaction{
			ID:            xid.New("itx"),
			StoreID:       seedStoreID,
			SKU:           p.SKU,
			Type:          domain.TransactionIn,
			Quantity:      120,
			Delta:         120,
			PreviousStock: 0,
			NewStock:      120,
			Reason:        "opening_balance",
			PerformedBy:   domain.RoleSystem,
			Status:        domain.StatusCompleted,
			CreatedAt:     now,
		})
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.Category == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.PriceCents < 0 || product.CostCents < 0 || product.ReorderPoint < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.products[product.SKU]; exists {
		return nil, store.ErrInvalidTransaction
	}

	product.Active = true
	s.products[product.SKU] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if p, ok := s.products[sku]; ok {
			result[sku] = p
		}
	}
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.Category == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.PriceCents < 0 || product.CostCents < 0 || product.ReorderPoint < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.products[product.SKU]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.SKU] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetStock(_ context.Context, storeID string, sku string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stock[storeID][sku], nil
}

func (s *Store) GetStockMap(_ context.Context, storeID string, skus []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[string]int, len(skus))
	storeStock := s.stock[storeID]
	for _, sku := range skus {
		stockMap[sku] = storeStock[sku]
	}
	return stockMap, nil
}

func (s *Store) AppendTransactions(_ context.Context, entries []domain.InventoryTransaction) error {
	if len(entries) == 0 {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch against a scratch view before touching state.
	scratch := make(map[string]int, len(entries))
	for _, entry := range entries {
		if entry.ID == "" || entry.StoreID == "" || entry.SKU == "" || entry.NewStock != entry.PreviousStock+entry.Delta {
			return store.ErrInvalidTransaction
		}
		if _, dup := s.transactionIndex[entry.ID]; dup {
			return store.ErrInvalidTransaction
		}
		key := stockKey(entry.StoreID, entry.SKU)
		current, seen := scratch[key]
		if !seen {
			current = s.stock[entry.StoreID][entry.SKU]
		}
		if current != entry.PreviousStock {
			return store.ErrConcurrencyConflict
		}
		scratch[key] = entry.NewStock
	}

	for _, entry := range entries {
		s.appendLocked(entry)
	}
	return nil
}

func (s *Store) appendLocked(entry domain.InventoryTransaction) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if s.stock[entry.StoreID] == nil {
		s.stock[entry.StoreID] = make(map[string]int)
	}
	s.stock[entry.StoreID][entry.SKU] = entry.NewStock
	s.transactionIndex[entry.ID] = len(s.transactions)
	s.transactions = append(s.transactions, entry)
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.transactionIndex[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	entry := s.transactions[idx]
	return &entry, nil
}

func (s *Store) ListTransactions(_ context.Context, filter store.TransactionFilter) ([]domain.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryTransaction, 0, 64)
	for _, entry := range s.transactions {
		if filter.StoreID != "" && entry.StoreID != filter.StoreID {
			continue
		}
		if filter.SKU != "" && entry.SKU != filter.SKU {
			continue
		}
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if filter.ReferenceType != "" && entry.ReferenceType != filter.ReferenceType {
			continue
		}
		if filter.ReferenceID != "" && entry.ReferenceID != filter.ReferenceID {
			continue
		}
		if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !entry.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, entry)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

func (s *Store) UpdateTransactionStatus(_ context.Context, id string, from domain.TransactionStatus, to domain.TransactionStatus) (*domain.InventoryTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.transactionIndex[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.transactions[idx].Status != from {
		return nil, store.ErrInvalidTransaction
	}
	s.transactions[idx].Status = to
	updated := s.transactions[idx]
	return &updated, nil
}

func (s *Store) CreateStockCount(_ context.Context, count domain.StockCount) (*domain.StockCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if count.ID == "" || count.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.stockCounts[count.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	s.stockCounts[count.ID] = cloneStockCount(count)
	saved := cloneStockCount(count)
	return &saved, nil
}

func (s *Store) GetStockCount(_ context.Context, id string) (*domain.StockCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count, exists := s.stockCounts[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneStockCount(count)
	return &dup, nil
}

func (s *Store) SaveStockCount(_ context.Context, count domain.StockCount) (*domain.StockCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stockCounts[count.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.stockCounts[count.ID] = cloneStockCount(count)
	saved := cloneStockCount(count)
	return &saved, nil
}

func (s *Store) ListStockCounts(_ context.Context, storeID string, status domain.StockCountStatus, limit int) ([]domain.StockCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockCount, 0, len(s.stockCounts))
	for _, count := range s.stockCounts {
		if storeID != "" && count.StoreID != storeID {
			continue
		}
		if status != "" && count.Status != status {
			continue
		}
		result = append(result, cloneStockCount(count))
	}
	slices.SortFunc(result, func(a, b domain.StockCount) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	s.suppliersByID[supplier.ID] = supplier
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.Name, b.Name)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return suppliers, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if po.StoreID == "" || po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.suppliersByID[po.SupplierID]; !exists {
		return nil, store.ErrNotFound
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	if po.Status == "" {
		po.Status = "draft"
	}

	items := make([]domain.PurchaseOrderItem, 0, len(po.Items))
	for _, item := range po.Items {
		item.SKU = strings.ToUpper(strings.TrimSpace(item.SKU))
		if item.SKU == "" || item.Qty < 1 || item.CostCents < 1 {
			return nil, store.ErrInvalidTransaction
		}
		if _, ok := s.products[item.SKU]; !ok {
			return nil, store.ErrNotFound
		}
		items = append(items, item)
	}
	po.Items = items

	s.purchaseOrdersByID[po.ID] = clonePurchaseOrder(po)
	saved := clonePurchaseOrder(s.purchaseOrdersByID[po.ID])
	return &saved, nil
}

func (s *Store) GetPurchaseOrderByID(_ context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyPO := clonePurchaseOrder(po)
	return &copyPO, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, storeID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status = strings.ToLower(strings.TrimSpace(status))
	result := make([]domain.PurchaseOrder, 0, len(s.purchaseOrdersByID))
	for _, po := range s.purchaseOrdersByID {
		if storeID != "" && po.StoreID != storeID {
			continue
		}
		if status != "" && po.Status != status {
			continue
		}
		result = append(result, clonePurchaseOrder(po))
	}
	slices.SortFunc(result, func(a, b domain.PurchaseOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) MarkPurchaseOrderReceived(_ context.Context, purchaseOrderID string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if po.Status != "draft" {
		return nil, store.ErrInvalidTransaction
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	po.Status = "received"
	po.ReceivedAt = &receivedAt
	po.ReceivedBy = receivedBy
	s.purchaseOrdersByID[purchaseOrderID] = po

	saved := clonePurchaseOrder(po)
	return &saved, nil
}

func (s *Store) RevertPurchaseOrderReceipt(_ context.Context, purchaseOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrdersByID[purchaseOrderID]
	if !exists {
		return store.ErrNotFound
	}
	po.Status = "draft"
	po.ReceivedAt = nil
	po.ReceivedBy = ""
	s.purchaseOrdersByID[purchaseOrderID] = po
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func stockKey(storeID string, sku string) string {
	return storeID + "/" + sku
}

func cmpString(a string, b string) int {
	return strings.Compare(a, b)
}

func clonePurchaseOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func cloneStockCount(src domain.StockCount) domain.StockCount {
	dup := src
	dup.Items = make([]domain.StockCountItem, len(src.Items))
	for i, item := range src.Items {
		if item.ActualQuantity != nil {
			actual := *item.ActualQuantity
			item.ActualQuantity = &actual
		}
		if item.CountedAt != nil {
			at := *item.CountedAt
			item.CountedAt = &at
		}
		dup.Items[i] = item
	}
	dup.AdjustmentIDs = slices.Clone(src.AdjustmentIDs)
	return dup
}

package domain

import "time"

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
	RoleSystem  = "system"
)

type Product struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Unit         string `json:"unit"`
	PriceCents   int64  `json:"price_cents"`
	CostCents    int64  `json:"cost_cents"`
	ReorderPoint int    `json:"reorder_point"`
	Active       bool   `json:"active"`
}

type ProductCreateRequest struct {
	StoreID      string `json:"store_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Unit         string `json:"unit"`
	PriceCents   int64  `json:"price_cents"`
	CostCents    int64  `json:"cost_cents"`
	ReorderPoint int    `json:"reorder_point"`
	InitialStock int    `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name         *string `json:"name,omitempty"`
	Category     *string `json:"category,omitempty"`
	Unit         *string `json:"unit,omitempty"`
	PriceCents   *int64  `json:"price_cents,omitempty"`
	CostCents    *int64  `json:"cost_cents,omitempty"`
	ReorderPoint *int    `json:"reorder_point,omitempty"`
	Active       *bool   `json:"active,omitempty"`
}

type TransactionType string

const (
	TransactionIn         TransactionType = "in"
	TransactionOut        TransactionType = "out"
	TransactionTransfer   TransactionType = "transfer"
	TransactionCount      TransactionType = "count"
	TransactionAdjustment TransactionType = "adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionIn, TransactionOut, TransactionTransfer, TransactionCount, TransactionAdjustment:
		return true
	default:
		return false
	}
}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusApproved  TransactionStatus = "approved"
	StatusRejected  TransactionStatus = "rejected"
	StatusCompleted TransactionStatus = "completed"
)

// InventoryTransaction is one immutable stock movement. Only Status changes
// after it has been appended.
type InventoryTransaction struct {
	ID              string            `json:"id"`
	StoreID         string            `json:"store_id"`
	SKU             string            `json:"sku"`
	Type            TransactionType   `json:"type"`
	Quantity        int               `json:"quantity"`
	Delta           int               `json:"delta"`
	PreviousStock   int               `json:"previous_stock"`
	NewStock        int               `json:"new_stock"`
	Reason          string            `json:"reason"`
	ReferenceType   string            `json:"reference_type,omitempty"`
	ReferenceID     string            `json:"reference_id,omitempty"`
	TransferGroupID string            `json:"transfer_group_id,omitempty"`
	PerformedBy     string            `json:"performed_by"`
	Status          TransactionStatus `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
}

type InventoryTransactionRequest struct {
	StoreID       string          `json:"store_id"`
	SKU           string          `json:"sku"`
	Type          TransactionType `json:"type"`
	Quantity      int             `json:"quantity"`
	Delta         int             `json:"delta"`
	Reason        string          `json:"reason"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	Pending       bool            `json:"pending"`
}

type InventoryTransferRequest struct {
	SKU         string `json:"sku"`
	FromStoreID string `json:"from_store_id"`
	ToStoreID   string `json:"to_store_id"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason"`
}

type TransactionStatusRequest struct {
	Status     TransactionStatus `json:"status"`
	ManagerPIN string            `json:"manager_pin"`
}

type StockLevel struct {
	StoreID    string `json:"store_id"`
	SKU        string `json:"sku"`
	Current    int    `json:"current"`
	LedgerSum  int    `json:"ledger_sum"`
	Consistent bool   `json:"consistent"`
}

type StockCountStatus string

const (
	CountDraft      StockCountStatus = "draft"
	CountInProgress StockCountStatus = "in_progress"
	CountCompleted  StockCountStatus = "completed"
	CountCancelled  StockCountStatus = "cancelled"
)

type StockCountItem struct {
	SKU              string     `json:"sku"`
	Name             string     `json:"name"`
	ExpectedQuantity int        `json:"expected_quantity"`
	ActualQuantity   *int       `json:"actual_quantity"`
	Variance         int        `json:"variance"`
	UnitCostCents    int64      `json:"unit_cost_cents"`
	Counted          bool       `json:"counted"`
	CountedAt        *time.Time `json:"counted_at,omitempty"`
}

type StockCount struct {
	ID                 string           `json:"id"`
	StoreID            string           `json:"store_id"`
	Status             StockCountStatus `json:"status"`
	Notes              string           `json:"notes"`
	Items              []StockCountItem `json:"items"`
	TotalItems         int              `json:"total_items"`
	CountedItems       int              `json:"counted_items"`
	ProgressPercentage float64          `json:"progress_percentage"`
	TotalVariance      int              `json:"total_variance"`
	TotalValueCents    int64            `json:"total_value_cents"`
	VarianceValueCents int64            `json:"variance_value_cents"`
	AdjustmentIDs      []string         `json:"adjustment_ids"`
	CreatedBy          string           `json:"created_by"`
	CreatedAt          time.Time        `json:"created_at"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	CancelledAt        *time.Time       `json:"cancelled_at,omitempty"`
}

type StockCountCreateRequest struct {
	StoreID string   `json:"store_id"`
	SKUs    []string `json:"skus"`
	Notes   string   `json:"notes"`
}

type StockCountRecordRequest struct {
	SKU            string `json:"sku"`
	ActualQuantity int    `json:"actual_quantity"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type PurchaseOrderItem struct {
	SKU       string `json:"sku"`
	Qty       int    `json:"qty"`
	CostCents int64  `json:"cost_cents"`
}

type PurchaseOrder struct {
	ID         string              `json:"id"`
	StoreID    string              `json:"store_id"`
	SupplierID string              `json:"supplier_id"`
	Status     string              `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
	ReceivedBy string              `json:"received_by,omitempty"`
	Items      []PurchaseOrderItem `json:"items"`
}

type PurchaseOrderCreateRequest struct {
	StoreID    string              `json:"store_id"`
	SupplierID string              `json:"supplier_id"`
	Items      []PurchaseOrderItem `json:"items"`
}

type PurchaseOrderReceiveRequest struct {
	ReceivedBy string `json:"received_by"`
}

type PurchaseOrderResponse struct {
	PurchaseOrder PurchaseOrder          `json:"purchase_order"`
	Transactions  []InventoryTransaction `json:"transactions,omitempty"`
}

type PurchaseOrderListResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type ReorderRequest struct {
	StoreID      string `json:"store_id"`
	LookbackDays int    `json:"lookback_days"`
	LeadTimeDays int    `json:"lead_time_days"`
}

// ReorderSuggestion is one SKU that should be replenished. DaysOfCover is -1
// when the SKU had no outflow in the lookback window.
type ReorderSuggestion struct {
	SKU                string  `json:"sku"`
	Name               string  `json:"name"`
	CurrentStock       int     `json:"current_stock"`
	ReorderPoint       int     `json:"reorder_point"`
	DailyUsage         float64 `json:"daily_usage"`
	DaysOfCover        float64 `json:"days_of_cover"`
	SuggestedQty       int     `json:"suggested_qty"`
	EstimatedCostCents int64   `json:"estimated_cost_cents"`
	ReasonCode         string  `json:"reason_code"`
	Urgency            float64 `json:"urgency"`
}

type ReorderReport struct {
	StoreID      string              `json:"store_id"`
	LookbackDays int                 `json:"lookback_days"`
	LeadTimeDays int                 `json:"lead_time_days"`
	GeneratedAt  time.Time           `json:"generated_at"`
	Suggestions  []ReorderSuggestion `json:"suggestions"`
	LatencyMS    int64               `json:"latency_ms"`
}

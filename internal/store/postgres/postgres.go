package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stockline/backend/internal/domain"
	"stockline/backend/internal/store"
	"stockline/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `sku, name, category, unit, price_cents, cost_cents, reorder_point, active`

func scanProduct(row interface{ Scan(...any) error }, p *domain.Product) error {
	return row.Scan(&p.SKU, &p.Name, &p.Category, &p.Unit, &p.PriceCents, &p.CostCents, &p.ReorderPoint, &p.Active)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Category == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.PriceCents < 0 || product.CostCents < 0 || product.ReorderPoint < 0 {
		return nil, store.ErrInvalidTransaction
	}

	product.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (sku, name, category, unit, price_cents, cost_cents, reorder_point, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
	`, product.SKU, product.Name, product.Category, product.Unit, product.PriceCents, product.CostCents, product.ReorderPoint, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var product domain.Product
	err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = $1
	`, sku), &product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(skus))
	if len(skus) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = ANY($1)
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		result[p.SKU] = p
	}
	return result, rows.Err()
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Category == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.PriceCents < 0 || product.CostCents < 0 || product.ReorderPoint < 0 {
		return nil, store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, unit = $4, price_cents = $5, cost_cents = $6, reorder_point = $7, active = $8, updated_at = now()
		WHERE sku = $1
	`, product.SKU, product.Name, product.Category, product.Unit, product.PriceCents, product.CostCents, product.ReorderPoint, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) GetStock(ctx context.Context, storeID string, sku string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT qty
		FROM inventory_stocks
		WHERE store_id = $1 AND sku = $2
	`, storeID, sku).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

func (s *Store) GetStockMap(ctx context.Context, storeID string, skus []string) (map[string]int, error) {
	stockMap := make(map[string]int, len(skus))
	if len(skus) == 0 {
		return stockMap, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, qty
		FROM inventory_stocks
		WHERE store_id = $1 AND sku = ANY($2)
	`, storeID, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sku string
		var qty int
		if err := rows.Scan(&sku, &qty); err != nil {
			return nil, err
		}
		stockMap[sku] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sku := range skus {
		if _, ok := stockMap[sku]; !ok {
			stockMap[sku] = 0
		}
	}

	return stockMap, nil
}

// AppendTransactions moves each stock row from PreviousStock to NewStock with
// a conditional update and inserts the ledger rows in the same transaction.
func (s *Store) AppendTransactions(ctx context.Context, entries []domain.InventoryTransaction) error {
	if len(entries) == 0 {
		return store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, entry := range entries {
		if entry.ID == "" || entry.StoreID == "" || entry.SKU == "" || entry.NewStock != entry.PreviousStock+entry.Delta {
			return store.ErrInvalidTransaction
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}

		var res sql.Result
		if entry.PreviousStock == 0 {
			res, err = tx.ExecContext(ctx, `
				INSERT INTO inventory_stocks (store_id, sku, qty, updated_at)
				VALUES ($1,$2,$3,now())
				ON CONFLICT (store_id, sku)
				DO UPDATE SET qty = EXCLUDED.qty, updated_at = now()
				WHERE inventory_stocks.qty = 0
			`, entry.StoreID, entry.SKU, entry.NewStock)
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE inventory_stocks
				SET qty = $3, updated_at = now()
				WHERE store_id = $1 AND sku = $2 AND qty = $4
			`, entry.StoreID, entry.SKU, entry.NewStock, entry.PreviousStock)
		}
		if err != nil {
			return mapWriteError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrConcurrencyConflict
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_transactions (
				id, store_id, sku, type, quantity, delta, previous_stock, new_stock, reason,
				reference_type, reference_id, transfer_group_id, performed_by, status, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, entry.ID, entry.StoreID, entry.SKU, string(entry.Type), entry.Quantity, entry.Delta, entry.PreviousStock, entry.NewStock, entry.Reason,
			nullIfEmpty(entry.ReferenceType), nullIfEmpty(entry.ReferenceID), nullIfEmpty(entry.TransferGroupID), entry.PerformedBy, string(entry.Status), entry.CreatedAt)
		if err != nil {
			return mapWriteError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return mapWriteError(err)
	}
	return nil
}

const transactionColumns = `id, store_id, sku, type, quantity, delta, previous_stock, new_stock, reason,
	COALESCE(reference_type,''), COALESCE(reference_id,''), COALESCE(transfer_group_id,''), performed_by, status, created_at`

func scanTransaction(row interface{ Scan(...any) error }, entry *domain.InventoryTransaction) error {
	var txType, status string
	err := row.Scan(&entry.ID, &entry.StoreID, &entry.SKU, &txType, &entry.Quantity, &entry.Delta, &entry.PreviousStock, &entry.NewStock, &entry.Reason,
		&entry.ReferenceType, &entry.ReferenceID, &entry.TransferGroupID, &entry.PerformedBy, &status, &entry.CreatedAt)
	if err != nil {
		return err
	}
	entry.Type = domain.TransactionType(txType)
	entry.Status = domain.TransactionStatus(status)
	entry.CreatedAt = entry.CreatedAt.UTC()
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.InventoryTransaction, error) {
	var entry domain.InventoryTransaction
	err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM inventory_transactions
		WHERE id = $1
	`, id), &entry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.InventoryTransaction, error) {
	clauses := make([]string, 0, 7)
	args := make([]any, 0, 8)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.StoreID != "" {
		add("store_id = $%d", filter.StoreID)
	}
	if filter.SKU != "" {
		add("sku = $%d", filter.SKU)
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.ReferenceType != "" {
		add("reference_type = $%d", filter.ReferenceType)
	}
	if filter.ReferenceID != "" {
		add("reference_id = $%d", filter.ReferenceID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}

	query := `SELECT ` + transactionColumns + ` FROM inventory_transactions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.InventoryTransaction, 0, 64)
	for rows.Next() {
		var entry domain.InventoryTransaction
		if err := scanTransaction(rows, &entry); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(result)
	return result, nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, from domain.TransactionStatus, to domain.TransactionStatus) (*domain.InventoryTransaction, error) {
	var entry domain.InventoryTransaction
	err := scanTransaction(s.db.QueryRowContext(ctx, `
		UPDATE inventory_transactions
		SET status = $3
		WHERE id = $1 AND status = $2
		RETURNING `+transactionColumns, id, string(from), string(to)), &entry)
	if err == nil {
		return &entry, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if _, lookupErr := s.GetTransaction(ctx, id); lookupErr != nil {
		return nil, lookupErr
	}
	return nil, store.ErrInvalidTransaction
}

func (s *Store) CreateStockCount(ctx context.Context, count domain.StockCount) (*domain.StockCount, error) {
	if count.ID == "" || count.StoreID == "" {
		return nil, store.ErrInvalidTransaction
	}
	items, adjustments, err := encodeCountJSON(count)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stock_counts (
			id, store_id, status, notes, items, total_items, counted_items, progress_percentage,
			total_variance, total_value_cents, variance_value_cents, adjustment_ids, created_by,
			created_at, started_at, completed_at, cancelled_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, count.ID, count.StoreID, string(count.Status), count.Notes, items, count.TotalItems, count.CountedItems, count.ProgressPercentage,
		count.TotalVariance, count.TotalValueCents, count.VarianceValueCents, adjustments, count.CreatedBy,
		count.CreatedAt, nullTime(count.StartedAt), nullTime(count.CompletedAt), nullTime(count.CancelledAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	saved := count
	return &saved, nil
}

const stockCountColumns = `id, store_id, status, notes, items, total_items, counted_items, progress_percentage,
	total_variance, total_value_cents, variance_value_cents, adjustment_ids, created_by,
	created_at, started_at, completed_at, cancelled_at`

func scanStockCount(row interface{ Scan(...any) error }) (*domain.StockCount, error) {
	var count domain.StockCount
	var status string
	var items, adjustments []byte
	var startedAt, completedAt, cancelledAt sql.NullTime
	err := row.Scan(&count.ID, &count.StoreID, &status, &count.Notes, &items, &count.TotalItems, &count.CountedItems, &count.ProgressPercentage,
		&count.TotalVariance, &count.TotalValueCents, &count.VarianceValueCents, &adjustments, &count.CreatedBy,
		&count.CreatedAt, &startedAt, &completedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	count.Status = domain.StockCountStatus(status)
	count.CreatedAt = count.CreatedAt.UTC()
	if err := json.Unmarshal(items, &count.Items); err != nil {
		return nil, fmt.Errorf("decode stock count items: %w", err)
	}
	if err := json.Unmarshal(adjustments, &count.AdjustmentIDs); err != nil {
		return nil, fmt.Errorf("decode stock count adjustments: %w", err)
	}
	count.StartedAt = timePtr(startedAt)
	count.CompletedAt = timePtr(completedAt)
	count.CancelledAt = timePtr(cancelledAt)
	return &count, nil
}

func (s *Store) GetStockCount(ctx context.Context, id string) (*domain.StockCount, error) {
	count, err := scanStockCount(s.db.QueryRowContext(ctx, `
		SELECT `+stockCountColumns+`
		FROM stock_counts
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return count, nil
}

func (s *Store) SaveStockCount(ctx context.Context, count domain.StockCount) (*domain.StockCount, error) {
	items, adjustments, err := encodeCountJSON(count)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_counts
		SET status = $2, notes = $3, items = $4, total_items = $5, counted_items = $6, progress_percentage = $7,
			total_variance = $8, total_value_cents = $9, variance_value_cents = $10, adjustment_ids = $11,
			started_at = $12, completed_at = $13, cancelled_at = $14
		WHERE id = $1
	`, count.ID, string(count.Status), count.Notes, items, count.TotalItems, count.CountedItems, count.ProgressPercentage,
		count.TotalVariance, count.TotalValueCents, count.VarianceValueCents, adjustments,
		nullTime(count.StartedAt), nullTime(count.CompletedAt), nullTime(count.CancelledAt))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	saved := count
	return &saved, nil
}

func (s *Store) ListStockCounts(ctx context.Context, storeID string, status domain.StockCountStatus, limit int) ([]domain.StockCount, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockCountColumns+`
		FROM stock_counts
		WHERE ($1 = '' OR store_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, storeID, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.StockCount, 0, limit)
	for rows.Next() {
		count, err := scanStockCount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *count)
	}
	return result, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	supplier.Phone = strings.TrimSpace(supplier.Phone)
	if supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at)
		VALUES ($1,$2,$3,$4)
	`, supplier.ID, supplier.Name, nullIfEmpty(supplier.Phone), supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	saved := supplier
	return &saved, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone,''), created_at
		FROM suppliers
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 64)
	for rows.Next() {
		var item domain.Supplier
		if err := rows.Scan(&item.ID, &item.Name, &item.Phone, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		suppliers = append(suppliers, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	if po.Status == "" {
		po.Status = "draft"
	}
	if po.StoreID == "" || po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, store_id, supplier_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, po.ID, po.StoreID, po.SupplierID, po.Status, po.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items := make([]domain.PurchaseOrderItem, 0, len(po.Items))
	for _, item := range po.Items {
		item.SKU = strings.ToUpper(strings.TrimSpace(item.SKU))
		if item.SKU == "" || item.Qty < 1 || item.CostCents < 1 {
			return nil, store.ErrInvalidTransaction
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (purchase_order_id, sku, qty, cost_cents)
			VALUES ($1,$2,$3,$4)
		`, po.ID, item.SKU, item.Qty, item.CostCents)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		items = append(items, item)
	}
	po.Items = items

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := po
	return &saved, nil
}

func (s *Store) GetPurchaseOrderByID(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var receivedAt sql.NullTime
	var receivedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, supplier_id, status, created_at, received_at, received_by
		FROM purchase_orders
		WHERE id = $1
	`, purchaseOrderID).Scan(
		&po.ID,
		&po.StoreID,
		&po.SupplierID,
		&po.Status,
		&po.CreatedAt,
		&receivedAt,
		&receivedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	po.CreatedAt = po.CreatedAt.UTC()
	po.ReceivedAt = timePtr(receivedAt)
	if receivedBy.Valid {
		po.ReceivedBy = receivedBy.String
	}

	items, err := s.purchaseOrderItems(ctx, []string{po.ID})
	if err != nil {
		return nil, err
	}
	po.Items = items[po.ID]
	return &po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, supplier_id, status, created_at, received_at, received_by
		FROM purchase_orders
		WHERE ($1 = '' OR store_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, storeID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PurchaseOrder, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var po domain.PurchaseOrder
		var receivedAt sql.NullTime
		var receivedBy sql.NullString
		if err := rows.Scan(&po.ID, &po.StoreID, &po.SupplierID, &po.Status, &po.CreatedAt, &receivedAt, &receivedBy); err != nil {
			return nil, err
		}
		po.CreatedAt = po.CreatedAt.UTC()
		po.ReceivedAt = timePtr(receivedAt)
		if receivedBy.Valid {
			po.ReceivedBy = receivedBy.String
		}
		result = append(result, po)
		ids = append(ids, po.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return result, nil
	}

	itemMap, err := s.purchaseOrderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Items = itemMap[result[i].ID]
	}
	return result, nil
}

func (s *Store) purchaseOrderItems(ctx context.Context, ids []string) (map[string][]domain.PurchaseOrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT purchase_order_id, sku, qty, cost_cents
		FROM purchase_order_items
		WHERE purchase_order_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	itemMap := make(map[string][]domain.PurchaseOrderItem, len(ids))
	for rows.Next() {
		var poID string
		var item domain.PurchaseOrderItem
		if err := rows.Scan(&poID, &item.SKU, &item.Qty, &item.CostCents); err != nil {
			return nil, err
		}
		itemMap[poID] = append(itemMap[poID], item)
	}
	return itemMap, rows.Err()
}

func (s *Store) MarkPurchaseOrderReceived(ctx context.Context, purchaseOrderID string, receivedBy string, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	receivedBy = strings.TrimSpace(receivedBy)
	if receivedBy == "" {
		receivedBy = domain.RoleSystem
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = 'received', received_at = $2, received_by = $3
		WHERE id = $1 AND status = 'draft'
	`, purchaseOrderID, receivedAt, receivedBy)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, lookupErr := s.GetPurchaseOrderByID(ctx, purchaseOrderID); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, store.ErrInvalidTransaction
	}
	return s.GetPurchaseOrderByID(ctx, purchaseOrderID)
}

func (s *Store) RevertPurchaseOrderReceipt(ctx context.Context, purchaseOrderID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = 'draft', received_at = NULL, received_by = NULL
		WHERE id = $1
	`, purchaseOrderID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func encodeCountJSON(count domain.StockCount) ([]byte, []byte, error) {
	items := count.Items
	if items == nil {
		items = []domain.StockCountItem{}
	}
	adjustments := count.AdjustmentIDs
	if adjustments == nil {
		adjustments = []string{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, nil, err
	}
	adjustmentsJSON, err := json.Marshal(adjustments)
	if err != nil {
		return nil, nil, err
	}
	return itemsJSON, adjustmentsJSON, nil
}

// mapWriteError folds unique and serialization failures into the store's
// conflict sentinel so callers can retry.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return store.ErrConcurrencyConflict
		case "23505":
			return store.ErrInvalidTransaction
		case "23503":
			return store.ErrNotFound
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	at := val.Time.UTC()
	return &at
}

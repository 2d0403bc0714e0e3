package core

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// SQLSTATE codes the store reacts to.
const (
	pgLockNotAvailable = "55P03"
	pgCheckViolation   = "23514"
	pgNumericOverflow  = "22003"
)

const (
	productColumns   = `id, org_id, sku, name, unit_of_measure, min_stock_level, max_stock_level, avg_cost, last_purchase_cost, is_active`
	locationColumns  = `id, org_id, code, name, type, is_active`
	inventoryColumns = `id, org_id, product_id, location_id, current_stock, committed_stock, COALESCE(shelf_location, ''), created_at, updated_at`
	txColumns        = `id, org_id, product_id, location_id, transaction_type, quantity, unit_cost, total_cost,
		reference_id, reference_type, source_location_id, destination_location_id, adjustment_reason,
		notes, created_by, created_at`
)

// PgStore keeps the ledger in PostgreSQL. A unit of work is one database
// transaction holding transaction-scoped advisory locks on its stock keys.
type PgStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewPgStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PgStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &PgStore{pool: pool, lockTimeout: lockTimeout}
}

// advisoryKey maps a stock key to the int64 space of pg_advisory_xact_lock.
func advisoryKey(org uuid.UUID, k StockKey) int64 {
	h := fnv.New64a()
	h.Write(org[:])
	h.Write(k.ProductID[:])
	h.Write(k.LocationID[:])
	return int64(binary.BigEndian.Uint64(h.Sum(nil)))
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func (s *PgStore) Within(ctx context.Context, org uuid.UUID, keys []StockKey, fn func(tx LedgerTx) error) error {
	sorted := SortKeys(keys)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// SET cannot take bind parameters.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set lock_timeout: %w", err)
	}

	locked := make(map[StockKey]bool, len(sorted))
	for _, k := range sorted {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryKey(org, k)); err != nil {
			if isPgCode(err, pgLockNotAvailable) {
				return &ConcurrencyTimeoutError{Key: k, Err: err}
			}
			return fmt.Errorf("failed to lock %s: %w", k, err)
		}
		locked[k] = true
	}

	ptx := &pgTx{tx: tx, org: org, locked: locked, products: make(map[uuid.UUID]bool)}
	if err := fn(ptx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx       pgx.Tx
	org      uuid.UUID
	locked   map[StockKey]bool
	products map[uuid.UUID]bool
}

func (t *pgTx) Product(ctx context.Context, id uuid.UUID) (*Product, error) {
	return scanProduct(t.tx.QueryRow(ctx,
		"SELECT "+productColumns+" FROM products WHERE org_id = $1 AND id = $2", t.org, id), id)
}

func (t *pgTx) LockProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx,
		"SELECT "+productColumns+" FROM products WHERE org_id = $1 AND id = $2 FOR UPDATE", t.org, id), id)
	if err != nil {
		if isPgCode(err, pgLockNotAvailable) {
			return nil, &ConcurrencyTimeoutError{Err: fmt.Errorf("product %s: %w", id, err)}
		}
		return nil, err
	}
	t.products[id] = true
	return p, nil
}

func (t *pgTx) Location(ctx context.Context, id uuid.UUID) (*Location, error) {
	return scanLocation(t.tx.QueryRow(ctx,
		"SELECT "+locationColumns+" FROM locations WHERE org_id = $1 AND id = $2", t.org, id), id)
}

func (t *pgTx) GetOrCreateInventory(ctx context.Context, key StockKey) (*Inventory, error) {
	if !t.locked[key] {
		return nil, fmt.Errorf("inventory %s is not locked by this unit of work", key)
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO inventories (id, org_id, product_id, location_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, product_id, location_id) DO NOTHING
	`, uuid.New(), t.org, key.ProductID, key.LocationID); err != nil {
		return nil, fmt.Errorf("failed to create inventory %s: %w", key, err)
	}
	return scanInventory(t.tx.QueryRow(ctx,
		"SELECT "+inventoryColumns+" FROM inventories WHERE org_id = $1 AND product_id = $2 AND location_id = $3",
		t.org, key.ProductID, key.LocationID), key)
}

func (t *pgTx) FindInventory(ctx context.Context, key StockKey) (*Inventory, error) {
	if !t.locked[key] {
		return nil, fmt.Errorf("inventory %s is not locked by this unit of work", key)
	}
	row, err := scanInventory(t.tx.QueryRow(ctx,
		"SELECT "+inventoryColumns+" FROM inventories WHERE org_id = $1 AND product_id = $2 AND location_id = $3",
		t.org, key.ProductID, key.LocationID), key)
	if IsNotFound(err) {
		return nil, nil
	}
	return row, err
}

func (t *pgTx) ProductOnHand(ctx context.Context, productID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(GREATEST(current_stock, 0)), 0)
		FROM inventories
		WHERE org_id = $1 AND product_id = $2
	`, t.org, productID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum stock for product %s: %w", productID, err)
	}
	return sum, nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, tx Transaction) (*Transaction, error) {
	if tx.Detail == nil {
		return nil, errors.New("transaction detail is required")
	}
	if !t.locked[tx.Key()] {
		return nil, fmt.Errorf("inventory %s is not locked by this unit of work", tx.Key())
	}
	tx.ID = uuid.New()
	tx.OrgID = t.org
	rec := tx.Record()
	rows, err := t.tx.Query(ctx, `
		INSERT INTO inventory_transactions (
			id, org_id, product_id, location_id, transaction_type, quantity, unit_cost, total_cost,
			reference_id, reference_type, source_location_id, destination_location_id, adjustment_reason,
			notes, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+txColumns,
		rec.ID, rec.OrgID, rec.ProductID, rec.LocationID, string(rec.TransactionType), rec.Quantity, rec.UnitCost, rec.TotalCost,
		rec.ReferenceID, rec.ReferenceType, rec.SourceLocationID, rec.DestinationLocationID, rec.AdjustmentReason,
		rec.Notes, rec.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}
	stored, err := collectTransactions(rows)
	if err != nil {
		if isPgCode(err, pgNumericOverflow) {
			return nil, &ValidationError{Field: "quantity", Message: "value exceeds the storable range"}
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}
	if len(stored) != 1 {
		return nil, fmt.Errorf("insert returned %d transactions", len(stored))
	}
	return &stored[0], nil
}

func (t *pgTx) ApplyDelta(ctx context.Context, key StockKey, dCurrent, dCommitted decimal.Decimal) (*Inventory, error) {
	if _, err := t.GetOrCreateInventory(ctx, key); err != nil {
		return nil, err
	}
	row, err := scanInventory(t.tx.QueryRow(ctx, `
		UPDATE inventories
		SET current_stock = current_stock + $4,
		    committed_stock = committed_stock + $5,
		    updated_at = clock_timestamp()
		WHERE org_id = $1 AND product_id = $2 AND location_id = $3
		RETURNING `+inventoryColumns,
		t.org, key.ProductID, key.LocationID, dCurrent, dCommitted), key)
	if err != nil {
		if isPgCode(err, pgCheckViolation) {
			return nil, fmt.Errorf("committed_stock for %s would become negative: %w", key, err)
		}
		if isPgCode(err, pgNumericOverflow) {
			return nil, &ValidationError{Field: "quantity", Message: fmt.Sprintf("stock for %s would exceed the storable range", key)}
		}
		return nil, err
	}
	return row, nil
}

func (t *pgTx) SetProductCost(ctx context.Context, productID uuid.UUID, avgCost decimal.Decimal, lastPurchase *decimal.Decimal) error {
	if !t.products[productID] {
		return fmt.Errorf("product %s must be locked before its cost is updated", productID)
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE products
		SET avg_cost = $3, last_purchase_cost = COALESCE($4, last_purchase_cost)
		WHERE org_id = $1 AND id = $2
	`, t.org, productID, avgCost, lastPurchase)
	return err
}

func (t *pgTx) FindByReference(ctx context.Context, key StockKey, txType TransactionType, ref Reference) ([]Transaction, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+txColumns+`
		FROM inventory_transactions
		WHERE org_id = $1 AND product_id = $2 AND location_id = $3
		  AND transaction_type = $4 AND reference_id = $5
		  AND reference_type IS NOT DISTINCT FROM $6
		ORDER BY created_at
	`, t.org, key.ProductID, key.LocationID, string(txType), ref.ID, optString(ref.Type))
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions by reference: %w", err)
	}
	return collectTransactions(rows)
}

func (t *pgTx) LedgerSum(ctx context.Context, key StockKey) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM inventory_transactions
		WHERE org_id = $1 AND product_id = $2 AND location_id = $3
	`, t.org, key.ProductID, key.LocationID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger for %s: %w", key, err)
	}
	return sum, nil
}

// ── Scanning ──────────────────────────────────────────────────────────────────

func scanProduct(row pgx.Row, id uuid.UUID) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.OrgID, &p.SKU, &p.Name, &p.UnitOfMeasure,
		&p.MinStockLevel, &p.MaxStockLevel, &p.AvgCost, &p.LastPurchaseCost, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "product", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	return &p, nil
}

func scanLocation(row pgx.Row, id uuid.UUID) (*Location, error) {
	var l Location
	var typ string
	if err := row.Scan(&l.ID, &l.OrgID, &l.Code, &l.Name, &typ, &l.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "location", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to scan location: %w", err)
	}
	l.Type = LocationType(typ)
	return &l, nil
}

func scanInventory(row pgx.Row, key StockKey) (*Inventory, error) {
	var i Inventory
	err := row.Scan(&i.ID, &i.OrgID, &i.ProductID, &i.LocationID,
		&i.CurrentStock, &i.CommittedStock, &i.ShelfLocation, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "inventory", ID: key.String()}
		}
		return nil, err
	}
	return &i, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var rec TransactionRecord
		var typ string
		if err := rows.Scan(&rec.ID, &rec.OrgID, &rec.ProductID, &rec.LocationID, &typ,
			&rec.Quantity, &rec.UnitCost, &rec.TotalCost, &rec.ReferenceID, &rec.ReferenceType,
			&rec.SourceLocationID, &rec.DestinationLocationID, &rec.AdjustmentReason,
			&rec.Notes, &rec.CreatedBy, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		rec.TransactionType = TransactionType(typ)
		t, err := rec.Transaction()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return out, nil
}

// ── ReadStore ─────────────────────────────────────────────────────────────────

func (s *PgStore) Organizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name, created_at FROM organizations ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	defer rows.Close()

	var out []Organization
	for rows.Next() {
		var o Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PgStore) GetProduct(ctx context.Context, org, id uuid.UUID) (*Product, error) {
	return scanProduct(s.pool.QueryRow(ctx,
		"SELECT "+productColumns+" FROM products WHERE org_id = $1 AND id = $2", org, id), id)
}

func (s *PgStore) GetLocation(ctx context.Context, org, id uuid.UUID) (*Location, error) {
	return scanLocation(s.pool.QueryRow(ctx,
		"SELECT "+locationColumns+" FROM locations WHERE org_id = $1 AND id = $2", org, id), id)
}

func (s *PgStore) ListProducts(ctx context.Context, org uuid.UUID) ([]Product, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+productColumns+" FROM products WHERE org_id = $1 ORDER BY sku", org)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows, uuid.Nil)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PgStore) ListLocations(ctx context.Context, org uuid.UUID) ([]Location, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+locationColumns+" FROM locations WHERE org_id = $1 ORDER BY code", org)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		l, err := scanLocation(rows, uuid.Nil)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *PgStore) GetInventory(ctx context.Context, org uuid.UUID, key StockKey) (*Inventory, error) {
	return scanInventory(s.pool.QueryRow(ctx,
		"SELECT "+inventoryColumns+" FROM inventories WHERE org_id = $1 AND product_id = $2 AND location_id = $3",
		org, key.ProductID, key.LocationID), key)
}

func (s *PgStore) ListInventory(ctx context.Context, org uuid.UUID, f InventoryFilter) ([]Inventory, error) {
	query := "SELECT " + inventoryColumns + " FROM inventories WHERE org_id = $1"
	args := []any{org}
	if f.ProductID != uuid.Nil {
		args = append(args, f.ProductID)
		query += fmt.Sprintf(" AND product_id = $%d", len(args))
	}
	if f.LocationID != uuid.Nil {
		args = append(args, f.LocationID)
		query += fmt.Sprintf(" AND location_id = $%d", len(args))
	}
	query += " ORDER BY product_id, location_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	var out []Inventory
	for rows.Next() {
		i, err := scanInventory(rows, StockKey{})
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory: %w", err)
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

func (s *PgStore) ListTransactions(ctx context.Context, org uuid.UUID, f TransactionFilter) ([]Transaction, error) {
	where := []string{"org_id = $1"}
	args := []any{org}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ProductID != uuid.Nil {
		add("product_id = $%d", f.ProductID)
	}
	if f.LocationID != uuid.Nil {
		add("location_id = $%d", f.LocationID)
	}
	if f.Type != "" {
		add("transaction_type = $%d", string(f.Type))
	}
	if f.ReferenceID != "" {
		add("reference_id = $%d", f.ReferenceID)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at <= $%d", f.Until)
	}

	query := "SELECT " + txColumns + " FROM inventory_transactions WHERE " + strings.Join(where, " AND ")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query = fmt.Sprintf("SELECT * FROM (%s ORDER BY created_at DESC LIMIT $%d) recent", query, len(args))
	}
	query += " ORDER BY created_at"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ── CatalogWriter ─────────────────────────────────────────────────────────────

func (s *PgStore) SaveOrganization(ctx context.Context, o Organization) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, o.ID, o.Name)
	if err != nil {
		return fmt.Errorf("failed to save organization %s: %w", o.Name, err)
	}
	return nil
}

func (s *PgStore) SaveProduct(ctx context.Context, p Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (id, org_id, sku, name, unit_of_measure, min_stock_level, max_stock_level,
		                      avg_cost, last_purchase_cost, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			sku = EXCLUDED.sku,
			name = EXCLUDED.name,
			unit_of_measure = EXCLUDED.unit_of_measure,
			min_stock_level = EXCLUDED.min_stock_level,
			max_stock_level = EXCLUDED.max_stock_level,
			is_active = EXCLUDED.is_active
	`, p.ID, p.OrgID, p.SKU, p.Name, p.UnitOfMeasure, p.MinStockLevel, p.MaxStockLevel,
		p.AvgCost, p.LastPurchaseCost, p.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save product %s: %w", p.SKU, err)
	}
	return nil
}

func (s *PgStore) SaveLocation(ctx context.Context, l Location) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO locations (id, org_id, code, name, type, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			is_active = EXCLUDED.is_active
	`, l.ID, l.OrgID, l.Code, l.Name, string(l.Type), l.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save location %s: %w", l.Code, err)
	}
	return nil
}

// Package sqlstore is the durable Store implementation. The primary
// deployment opens an embedded SQLite file next to the terminal (pure Go
// driver, survives restarts and offline periods); a counter-server
// deployment can point DATABASE_URL at PostgreSQL instead and share one
// store across terminals. Both run the same SQL body; placeholders are
// rebound per driver.
//
// Hot entities (products, orders, stock logs, the pending queue, users) get
// full columns and indexes. The remaining collections are cache rows
// refreshed wholesale from the gateway; the terminal never queries their
// fields individually, so they are stored as JSON payloads with a tenant
// index and a sort key.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"tokosync/terminal/internal/domain"
	"tokosync/terminal/internal/store"
	"tokosync/terminal/internal/xid"
)

type Store struct {
	db *sqlx.DB
}

// OpenSQLite opens (or creates) the terminal's embedded database file.
func OpenSQLite(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc/sqlite allows one writer; a single connection avoids
	// SQLITE_BUSY under concurrent handler goroutines.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenPostgres connects to a shared counter-server database.
func OpenPostgres(ctx context.Context, url string) (*Store, error) {
	db, err := sqlx.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// ensureSchema runs one statement per Exec; the pgx driver rejects
// multi-statement batches.
func ensureSchema(db *sqlx.DB) error {
	statements := strings.Split(schemaDDL, ";")
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  name TEXT NOT NULL,
  sku TEXT NOT NULL DEFAULT '',
  category_id TEXT NOT NULL DEFAULT '',
  price TEXT NOT NULL DEFAULT '0',
  cost TEXT NOT NULL DEFAULT '0',
  stock INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL DEFAULT '',
  updated_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_products_tenant ON products(tenant_id);
CREATE INDEX IF NOT EXISTS idx_products_sku ON products(tenant_id, sku);
CREATE INDEX IF NOT EXISTS idx_products_category ON products(tenant_id, category_id);

CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  salesperson_id TEXT NOT NULL DEFAULT '',
  salesperson_name TEXT NOT NULL DEFAULT '',
  customer_id TEXT NOT NULL DEFAULT '',
  customer_name TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  subtotal TEXT NOT NULL DEFAULT '0',
  discount_amount TEXT NOT NULL DEFAULT '0',
  discount_type TEXT NOT NULL DEFAULT '',
  tax_rate TEXT NOT NULL DEFAULT '0',
  tax_amount TEXT NOT NULL DEFAULT '0',
  total_amount TEXT NOT NULL DEFAULT '0',
  items_json TEXT NOT NULL DEFAULT '[]',
  is_return INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_orders_tenant ON orders(tenant_id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS stock_logs (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  product_name TEXT NOT NULL DEFAULT '',
  sku TEXT NOT NULL DEFAULT '',
  qty_change INTEGER NOT NULL CHECK (qty_change <> 0),
  resulting_stock INTEGER NOT NULL,
  movement_type TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  user_id TEXT NOT NULL DEFAULT '',
  user_name TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_stock_logs_tenant ON stock_logs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_stock_logs_product ON stock_logs(tenant_id, product_id);
CREATE INDEX IF NOT EXISTS idx_stock_logs_created ON stock_logs(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS pending_orders (
  order_id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  enqueued_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_tenant ON pending_orders(tenant_id, enqueued_at);

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL DEFAULT '',
  username TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  password TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'cashier',
  active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS categories (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  sort_key TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_categories_tenant ON categories(tenant_id);

CREATE TABLE IF NOT EXISTS customers (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  sort_key TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_customers_tenant ON customers(tenant_id);

CREATE TABLE IF NOT EXISTS suppliers (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  sort_key TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_suppliers_tenant ON suppliers(tenant_id);

CREATE TABLE IF NOT EXISTS purchase_orders (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  sort_key TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_purchase_orders_tenant ON purchase_orders(tenant_id);

CREATE TABLE IF NOT EXISTS expenses (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  sort_key TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_expenses_tenant ON expenses(tenant_id);

CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  sort_key TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_tenant ON notifications(tenant_id);

CREATE TABLE IF NOT EXISTS settings (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  sort_key TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settings_tenant ON settings(tenant_id);

CREATE TABLE IF NOT EXISTS tenants (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  sort_key TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL
);
`

func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout keeps the fractional seconds fixed-width. RFC3339Nano trims
// trailing zeros, which breaks lexicographic ORDER BY on the TEXT columns
// (".5Z" would sort after ".52Z").
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDec(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type productRow struct {
	ID         string `db:"id"`
	TenantID   string `db:"tenant_id"`
	Name       string `db:"name"`
	SKU        string `db:"sku"`
	CategoryID string `db:"category_id"`
	Price      string `db:"price"`
	Cost       string `db:"cost"`
	Stock      int    `db:"stock"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Name:       r.Name,
		SKU:        r.SKU,
		CategoryID: r.CategoryID,
		Price:      parseDec(r.Price),
		Cost:       parseDec(r.Cost),
		Stock:      r.Stock,
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}
}

type orderRow struct {
	ID              string `db:"id"`
	TenantID        string `db:"tenant_id"`
	UserID          string `db:"user_id"`
	SalespersonID   string `db:"salesperson_id"`
	SalespersonName string `db:"salesperson_name"`
	CustomerID      string `db:"customer_id"`
	CustomerName    string `db:"customer_name"`
	Status          string `db:"status"`
	Subtotal        string `db:"subtotal"`
	DiscountAmount  string `db:"discount_amount"`
	DiscountType    string `db:"discount_type"`
	TaxRate         string `db:"tax_rate"`
	TaxAmount       string `db:"tax_amount"`
	TotalAmount     string `db:"total_amount"`
	ItemsJSON       string `db:"items_json"`
	IsReturn        int    `db:"is_return"`
	CreatedAt       string `db:"created_at"`
}

func (r orderRow) toDomain() domain.Order {
	var items []domain.OrderItem
	if err := json.Unmarshal([]byte(r.ItemsJSON), &items); err != nil {
		log.Printf("[sqlstore] WARN: bad items payload on order %s: %v", r.ID, err)
	}
	return domain.Order{
		ID:              r.ID,
		TenantID:        r.TenantID,
		UserID:          r.UserID,
		SalespersonID:   r.SalespersonID,
		SalespersonName: r.SalespersonName,
		CustomerID:      r.CustomerID,
		CustomerName:    r.CustomerName,
		Status:          domain.OrderStatus(r.Status),
		Subtotal:        parseDec(r.Subtotal),
		DiscountAmount:  parseDec(r.DiscountAmount),
		DiscountType:    domain.DiscountType(r.DiscountType),
		TaxRate:         parseDec(r.TaxRate),
		TaxAmount:       parseDec(r.TaxAmount),
		TotalAmount:     parseDec(r.TotalAmount),
		Items:           items,
		IsReturn:        r.IsReturn != 0,
		CreatedAt:       parseTime(r.CreatedAt),
	}
}

type stockLogRow struct {
	ID             string `db:"id"`
	TenantID       string `db:"tenant_id"`
	ProductID      string `db:"product_id"`
	ProductName    string `db:"product_name"`
	SKU            string `db:"sku"`
	QtyChange      int    `db:"qty_change"`
	ResultingStock int    `db:"resulting_stock"`
	MovementType   string `db:"movement_type"`
	Reason         string `db:"reason"`
	UserID         string `db:"user_id"`
	UserName       string `db:"user_name"`
	CreatedAt      string `db:"created_at"`
}

func (r stockLogRow) toDomain() domain.StockLogEntry {
	return domain.StockLogEntry{
		ID:             r.ID,
		TenantID:       r.TenantID,
		ProductID:      r.ProductID,
		ProductName:    r.ProductName,
		SKU:            r.SKU,
		Change:         r.QtyChange,
		ResultingStock: r.ResultingStock,
		Type:           domain.MovementType(r.MovementType),
		Reason:         r.Reason,
		UserID:         r.UserID,
		UserName:       r.UserName,
		CreatedAt:      parseTime(r.CreatedAt),
	}
}

type pendingRow struct {
	OrderID    string `db:"order_id"`
	TenantID   string `db:"tenant_id"`
	Payload    string `db:"payload"`
	Attempts   int    `db:"attempts"`
	LastError  string `db:"last_error"`
	EnqueuedAt string `db:"enqueued_at"`
}

type userRow struct {
	ID        string `db:"id"`
	TenantID  string `db:"tenant_id"`
	Username  string `db:"username"`
	Name      string `db:"name"`
	Password  string `db:"password"`
	Role      string `db:"role"`
	Active    int    `db:"active"`
	CreatedAt string `db:"created_at"`
}

func upsertProduct(tx *sqlx.Tx, p domain.Product) error {
	query := tx.Rebind(`INSERT INTO products
		(id, tenant_id, name, sku, category_id, price, cost, stock, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		tenant_id = excluded.tenant_id, name = excluded.name, sku = excluded.sku,
		category_id = excluded.category_id, price = excluded.price, cost = excluded.cost,
		stock = excluded.stock, created_at = excluded.created_at, updated_at = excluded.updated_at`)
	_, err := tx.Exec(query, p.ID, p.TenantID, p.Name, p.SKU, p.CategoryID,
		p.Price.String(), p.Cost.String(), p.Stock, fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt))
	return err
}

func upsertOrder(tx *sqlx.Tx, o domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	query := tx.Rebind(`INSERT INTO orders
		(id, tenant_id, user_id, salesperson_id, salesperson_name, customer_id, customer_name,
		 status, subtotal, discount_amount, discount_type, tax_rate, tax_amount, total_amount,
		 items_json, is_return, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		status = excluded.status, subtotal = excluded.subtotal,
		discount_amount = excluded.discount_amount, discount_type = excluded.discount_type,
		tax_rate = excluded.tax_rate, tax_amount = excluded.tax_amount,
		total_amount = excluded.total_amount, items_json = excluded.items_json,
		is_return = excluded.is_return, created_at = excluded.created_at`)
	_, err = tx.Exec(query, o.ID, o.TenantID, o.UserID, o.SalespersonID, o.SalespersonName,
		o.CustomerID, o.CustomerName, string(o.Status), o.Subtotal.String(),
		o.DiscountAmount.String(), string(o.DiscountType), o.TaxRate.String(),
		o.TaxAmount.String(), o.TotalAmount.String(), string(items), boolToInt(o.IsReturn),
		fmtTime(o.CreatedAt))
	return err
}

func insertStockLog(tx *sqlx.Tx, entry domain.StockLogEntry, ignoreConflict bool) error {
	stmt := `INSERT INTO stock_logs
		(id, tenant_id, product_id, product_name, sku, qty_change, resulting_stock,
		 movement_type, reason, user_id, user_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if ignoreConflict {
		stmt += ` ON CONFLICT (id) DO NOTHING`
	}
	_, err := tx.Exec(tx.Rebind(stmt), entry.ID, entry.TenantID, entry.ProductID,
		entry.ProductName, entry.SKU, entry.Change, entry.ResultingStock,
		string(entry.Type), entry.Reason, entry.UserID, entry.UserName, fmtTime(entry.CreatedAt))
	return err
}

func upsertUser(tx *sqlx.Tx, u domain.UserAccount) error {
	query := tx.Rebind(`INSERT INTO users
		(id, tenant_id, username, name, password, role, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
		tenant_id = excluded.tenant_id, name = excluded.name, password = excluded.password,
		role = excluded.role, active = excluded.active`)
	_, err := tx.Exec(query, u.ID, u.TenantID, u.Username, u.Name, u.Password,
		u.Role, boolToInt(u.Active), fmtTime(u.CreatedAt))
	return err
}

func upsertCacheRow(tx *sqlx.Tx, table, id, tenantID, sortKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	query := tx.Rebind(`INSERT INTO ` + table + ` (id, tenant_id, sort_key, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		tenant_id = excluded.tenant_id, sort_key = excluded.sort_key, payload = excluded.payload`)
	_, err = tx.Exec(query, id, tenantID, sortKey, string(body))
	return err
}

func applySnapshot(tx *sqlx.Tx, snap domain.Snapshot) error {
	for _, p := range snap.Products {
		if err := upsertProduct(tx, p); err != nil {
			return fmt.Errorf("products: %w", err)
		}
	}
	for _, o := range snap.Orders {
		if err := upsertOrder(tx, o); err != nil {
			return fmt.Errorf("orders: %w", err)
		}
	}
	for _, entry := range snap.StockLogs {
		// Append-only: existing audit entries are never rewritten.
		if err := insertStockLog(tx, entry, true); err != nil {
			return fmt.Errorf("stock logs: %w", err)
		}
	}
	for _, u := range snap.Users {
		if err := upsertUser(tx, u); err != nil {
			return fmt.Errorf("users: %w", err)
		}
	}
	for _, c := range snap.Categories {
		if err := upsertCacheRow(tx, "categories", c.ID, c.TenantID, c.Name, c); err != nil {
			return fmt.Errorf("categories: %w", err)
		}
	}
	for _, c := range snap.Customers {
		if err := upsertCacheRow(tx, "customers", c.ID, c.TenantID, fmtTime(c.CreatedAt), c); err != nil {
			return fmt.Errorf("customers: %w", err)
		}
	}
	for _, sp := range snap.Suppliers {
		if err := upsertCacheRow(tx, "suppliers", sp.ID, sp.TenantID, fmtTime(sp.CreatedAt), sp); err != nil {
			return fmt.Errorf("suppliers: %w", err)
		}
	}
	for _, po := range snap.PurchaseOrders {
		if err := upsertCacheRow(tx, "purchase_orders", po.ID, po.TenantID, fmtTime(po.CreatedAt), po); err != nil {
			return fmt.Errorf("purchase orders: %w", err)
		}
	}
	for _, e := range snap.Expenses {
		if err := upsertCacheRow(tx, "expenses", e.ID, e.TenantID, fmtTime(e.Date), e); err != nil {
			return fmt.Errorf("expenses: %w", err)
		}
	}
	for _, n := range snap.Notifications {
		if err := upsertCacheRow(tx, "notifications", n.ID, n.TenantID, fmtTime(n.CreatedAt), n); err != nil {
			return fmt.Errorf("notifications: %w", err)
		}
	}
	for _, st := range snap.Settings {
		if err := upsertCacheRow(tx, "settings", st.ID, st.TenantID, st.Key, st); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
	}
	for _, t := range snap.Tenants {
		if err := upsertCacheRow(tx, "tenants", t.ID, t.ID, fmtTime(t.CreatedAt), t); err != nil {
			return fmt.Errorf("tenants: %w", err)
		}
	}
	return nil
}

// CacheAll bulk-upserts the snapshot inside one transaction: either every
// affected table sees the new rows or none does.
func (s *Store) CacheAll(ctx context.Context, snap domain.Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := applySnapshot(tx, snap); err != nil {
		return err
	}
	return tx.Commit()
}

func listPayloads(ctx context.Context, db *sqlx.DB, table, tenantID string, newestFirst bool) ([]string, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	query := db.Rebind(`SELECT payload FROM ` + table + ` WHERE tenant_id = ? ORDER BY sort_key ` + order + `, id`)
	var payloads []string
	if err := db.SelectContext(ctx, &payloads, query, tenantID); err != nil {
		return nil, err
	}
	return payloads, nil
}

func (s *Store) LoadLocalState(ctx context.Context, tenantID string) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{}

	var productRows []productRow
	if err := s.db.SelectContext(ctx, &productRows,
		s.db.Rebind(`SELECT * FROM products WHERE tenant_id = ? ORDER BY name`), tenantID); err != nil {
		return nil, err
	}
	for _, r := range productRows {
		snap.Products = append(snap.Products, r.toDomain())
	}

	var orderRows []orderRow
	if err := s.db.SelectContext(ctx, &orderRows,
		s.db.Rebind(`SELECT * FROM orders WHERE tenant_id = ? ORDER BY created_at DESC`), tenantID); err != nil {
		return nil, err
	}
	for _, r := range orderRows {
		snap.Orders = append(snap.Orders, r.toDomain())
	}

	var logRows []stockLogRow
	if err := s.db.SelectContext(ctx, &logRows,
		s.db.Rebind(`SELECT * FROM stock_logs WHERE tenant_id = ? ORDER BY created_at DESC`), tenantID); err != nil {
		return nil, err
	}
	for _, r := range logRows {
		snap.StockLogs = append(snap.StockLogs, r.toDomain())
	}

	collections := []struct {
		table       string
		newestFirst bool
		decode      func(payload string) error
	}{
		{"categories", false, func(p string) error {
			var c domain.Category
			if err := json.Unmarshal([]byte(p), &c); err != nil {
				return err
			}
			snap.Categories = append(snap.Categories, c)
			return nil
		}},
		{"customers", false, func(p string) error {
			var c domain.Customer
			if err := json.Unmarshal([]byte(p), &c); err != nil {
				return err
			}
			snap.Customers = append(snap.Customers, c)
			return nil
		}},
		{"suppliers", false, func(p string) error {
			var sp domain.Supplier
			if err := json.Unmarshal([]byte(p), &sp); err != nil {
				return err
			}
			snap.Suppliers = append(snap.Suppliers, sp)
			return nil
		}},
		{"purchase_orders", true, func(p string) error {
			var po domain.PurchaseOrder
			if err := json.Unmarshal([]byte(p), &po); err != nil {
				return err
			}
			snap.PurchaseOrders = append(snap.PurchaseOrders, po)
			return nil
		}},
		{"expenses", true, func(p string) error {
			var e domain.Expense
			if err := json.Unmarshal([]byte(p), &e); err != nil {
				return err
			}
			snap.Expenses = append(snap.Expenses, e)
			return nil
		}},
		{"notifications", true, func(p string) error {
			var n domain.Notification
			if err := json.Unmarshal([]byte(p), &n); err != nil {
				return err
			}
			snap.Notifications = append(snap.Notifications, n)
			return nil
		}},
		{"settings", false, func(p string) error {
			var st domain.Setting
			if err := json.Unmarshal([]byte(p), &st); err != nil {
				return err
			}
			snap.Settings = append(snap.Settings, st)
			return nil
		}},
		{"tenants", false, func(p string) error {
			var t domain.Tenant
			if err := json.Unmarshal([]byte(p), &t); err != nil {
				return err
			}
			snap.Tenants = append(snap.Tenants, t)
			return nil
		}},
	}
	for _, col := range collections {
		payloads, err := listPayloads(ctx, s.db, col.table, tenantID, col.newestFirst)
		if err != nil {
			return nil, err
		}
		for _, payload := range payloads {
			if err := col.decode(payload); err != nil {
				return nil, fmt.Errorf("%s: %w", col.table, err)
			}
		}
	}

	return snap, nil
}

func (s *Store) SearchProducts(ctx context.Context, tenantID string, query string) ([]domain.Product, error) {
	needle := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM products
		 WHERE tenant_id = ? AND (LOWER(name) LIKE ? OR LOWER(sku) LIKE ?)
		 ORDER BY name`), tenantID, needle, needle)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.toDomain())
	}
	return products, nil
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	return s.SearchProducts(ctx, tenantID, "")
}

func (s *Store) GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT * FROM products WHERE tenant_id = ? AND id = ?`), tenantID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

// CommitOrder runs the whole pipeline write in one transaction: order upsert,
// optional pending enqueue, per-line stock update and stock-log append. Any
// failure rolls back every step.
func (s *Store) CommitOrder(ctx context.Context, order domain.Order, enqueue bool) (*domain.Order, error) {
	if order.ID == "" || order.TenantID == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidOrder
	}
	for _, item := range order.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidOrder
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertOrder(tx, order); err != nil {
		return nil, err
	}

	if enqueue {
		payload, err := json.Marshal(order)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(tx.Rebind(
			`INSERT INTO pending_orders (order_id, tenant_id, payload, enqueued_at)
			 VALUES (?, ?, ?, ?) ON CONFLICT (order_id) DO NOTHING`),
			order.ID, order.TenantID, string(payload), fmtTime(time.Now().UTC()))
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	for _, item := range order.Items {
		var row productRow
		err := tx.Get(&row, tx.Rebind(
			`SELECT * FROM products WHERE tenant_id = ? AND id = ?`), order.TenantID, item.ProductID)
		if errors.Is(err, sql.ErrNoRows) {
			// Stale-cache tolerance: the order still commits without this
			// line's stock effect.
			log.Printf("[sqlstore] WARN: product %s not cached, skipping stock effect for order %s", item.ProductID, order.ID)
			continue
		}
		if err != nil {
			return nil, err
		}

		change := -item.Quantity
		movement := domain.MovementSale
		if item.Type == domain.LineReturn {
			change = item.Quantity
			movement = domain.MovementReturn
		}
		newStock := row.Stock + change

		if _, err := tx.Exec(tx.Rebind(
			`UPDATE products SET stock = ?, updated_at = ? WHERE id = ?`),
			newStock, fmtTime(now), row.ID); err != nil {
			return nil, err
		}

		entry := domain.StockLogEntry{
			ID:             store.StockLogID(order.ID, item.ProductID, item.Type),
			TenantID:       order.TenantID,
			ProductID:      row.ID,
			ProductName:    row.Name,
			SKU:            row.SKU,
			Change:         change,
			ResultingStock: newStock,
			Type:           movement,
			Reason:         "Order #" + xid.Trailing(order.ID),
			UserID:         order.UserID,
			UserName:       order.SalespersonName,
			CreatedAt:      order.CreatedAt,
		}
		if err := insertStockLog(tx, entry, false); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed := order
	return &committed, nil
}

func (s *Store) ListOrders(ctx context.Context, tenantID string) ([]domain.Order, error) {
	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM orders WHERE tenant_id = ? ORDER BY created_at DESC`), tenantID); err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, r.toDomain())
	}
	return orders, nil
}

func (s *Store) ListStockLogs(ctx context.Context, tenantID string) ([]domain.StockLogEntry, error) {
	var rows []stockLogRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM stock_logs WHERE tenant_id = ? ORDER BY created_at DESC`), tenantID); err != nil {
		return nil, err
	}
	logs := make([]domain.StockLogEntry, 0, len(rows))
	for _, r := range rows {
		logs = append(logs, r.toDomain())
	}
	return logs, nil
}

func (s *Store) ListPendingOrders(ctx context.Context, tenantID string) ([]domain.PendingOrder, error) {
	var rows []pendingRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT * FROM pending_orders WHERE tenant_id = ? ORDER BY enqueued_at, order_id`), tenantID); err != nil {
		return nil, err
	}
	pending := make([]domain.PendingOrder, 0, len(rows))
	for _, r := range rows {
		var order domain.Order
		if err := json.Unmarshal([]byte(r.Payload), &order); err != nil {
			return nil, fmt.Errorf("pending order %s: %w", r.OrderID, err)
		}
		pending = append(pending, domain.PendingOrder{
			OrderID:    r.OrderID,
			TenantID:   r.TenantID,
			Order:      order,
			Attempts:   r.Attempts,
			LastError:  r.LastError,
			EnqueuedAt: parseTime(r.EnqueuedAt),
		})
	}
	return pending, nil
}

func (s *Store) CountPendingOrders(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(
		`SELECT COUNT(*) FROM pending_orders WHERE tenant_id = ?`), tenantID)
	return count, err
}

func (s *Store) MarkPendingAttempt(ctx context.Context, orderID string, attemptErr string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE pending_orders SET attempts = attempts + 1, last_error = ? WHERE order_id = ?`),
		attemptErr, orderID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeletePendingOrder(ctx context.Context, orderID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM pending_orders WHERE order_id = ?`), orderID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ReplaceTenantState deletes the tenant's cached collections and installs
// the snapshot, all in one transaction. The pending queue and user accounts
// are locally owned and not touched.
func (s *Store) ReplaceTenantState(ctx context.Context, tenantID string, snap domain.Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{
		"products", "orders", "stock_logs", "categories", "customers",
		"suppliers", "purchase_orders", "expenses", "notifications", "settings",
	} {
		if _, err := tx.Exec(tx.Rebind(`DELETE FROM `+table+` WHERE tenant_id = ?`), tenantID); err != nil {
			return fmt.Errorf("%s: %w", table, err)
		}
	}
	if _, err := tx.Exec(tx.Rebind(`DELETE FROM tenants WHERE id = ?`), tenantID); err != nil {
		return err
	}

	if err := applySnapshot(tx, snap); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertUser(tx, user); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM users ORDER BY username`); err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, len(rows))
	for _, r := range rows {
		users = append(users, domain.UserAccount{
			ID:        r.ID,
			TenantID:  r.TenantID,
			Username:  r.Username,
			Name:      r.Name,
			Password:  r.Password,
			Role:      r.Role,
			Active:    r.Active != 0,
			CreatedAt: parseTime(r.CreatedAt),
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE users SET password = ? WHERE username = ?`), password, username)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

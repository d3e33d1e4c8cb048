package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineType is the direction of a cart or order line. SALE decrements
// inventory and contributes positively to totals; RETURN does the opposite.
type LineType string

const (
	LineSale   LineType = "SALE"
	LineReturn LineType = "RETURN"
)

type MovementType string

const (
	MovementSale       MovementType = "SALE"
	MovementReturn     MovementType = "RETURN"
	MovementIn         MovementType = "IN"
	MovementOut        MovementType = "OUT"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderReturned   OrderStatus = "RETURNED"
)

type Product struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Name       string          `json:"name"`
	SKU        string          `json:"sku"`
	CategoryID string          `json:"category_id,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Cost       decimal.Decimal `json:"cost"`
	Stock      int             `json:"stock"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Category struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

type Customer struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Expense struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Notification struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type Setting struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PurchaseOrderItem struct {
	ProductID  string          `json:"product_id"`
	Quantity   int             `json:"quantity"`
	CostAtTime decimal.Decimal `json:"cost_at_time"`
}

type PurchaseOrder struct {
	ID         string              `json:"id"`
	TenantID   string              `json:"tenant_id"`
	SupplierID string              `json:"supplier_id"`
	Status     string              `json:"status"`
	Items      []PurchaseOrderItem `json:"items"`
	CreatedAt  time.Time           `json:"created_at"`
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
}

// UserAccount is the persistence model for terminal login credentials.
type UserAccount struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Username  string    `json:"username"`
	Name      string    `json:"name,omitempty"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// CartLine is one row of an in-progress transaction. UnitPrice, UnitCost and
// StockAtAdd are snapshots from the moment the line was added and do not
// track later product edits.
type CartLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Type        LineType        `json:"type"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	StockAtAdd  int             `json:"stock_at_add"`
}

// CartView is the read model the cart engine exposes to the UI layer.
// Totals are derived fresh on every call, never cached.
type CartView struct {
	TerminalID      string          `json:"terminal_id"`
	Lines           []CartLine      `json:"lines"`
	CustomerID      string          `json:"customer_id,omitempty"`
	CustomerName    string          `json:"customer_name"`
	SalespersonID   string          `json:"salesperson_id,omitempty"`
	SalespersonName string          `json:"salesperson_name,omitempty"`
	DiscountType    DiscountType    `json:"discount_type"`
	DiscountValue   decimal.Decimal `json:"discount_value"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	ReturnMode      bool            `json:"return_mode"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
}

type OrderItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	PriceAtTime decimal.Decimal `json:"price_at_time"`
	CostAtTime  decimal.Decimal `json:"cost_at_time"`
	Type        LineType        `json:"type"`
}

// Order is the durable record produced by checkout. TotalAmount carries the
// cart engine's composition (subtotal - discount + tax) and is never
// recomputed downstream; receipts and reports read it as-is.
type Order struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	UserID          string          `json:"user_id"`
	SalespersonID   string          `json:"salesperson_id,omitempty"`
	SalespersonName string          `json:"salesperson_name,omitempty"`
	CustomerID      string          `json:"customer_id,omitempty"`
	CustomerName    string          `json:"customer_name"`
	Status          OrderStatus     `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountType    DiscountType    `json:"discount_type"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Items           []OrderItem     `json:"items"`
	IsReturn        bool            `json:"is_return"`
	CreatedAt       time.Time       `json:"created_at"`
}

// StockLogEntry is an immutable, append-only record of one stock mutation.
// Entries are the audit trail for inventory and are never updated or deleted.
type StockLogEntry struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	ProductID      string       `json:"product_id"`
	ProductName    string       `json:"product_name"`
	SKU            string       `json:"sku"`
	Change         int          `json:"change"`
	ResultingStock int          `json:"resulting_stock"`
	Type           MovementType `json:"type"`
	Reason         string       `json:"reason"`
	UserID         string       `json:"user_id"`
	UserName       string       `json:"user_name,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// PendingOrder is an order committed locally but not yet acknowledged by the
// remote gateway. Only the sync reconciler deletes entries from this queue.
type PendingOrder struct {
	OrderID    string    `json:"order_id"`
	TenantID   string    `json:"tenant_id"`
	Order      Order     `json:"order"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Snapshot bundles tenant-scoped collections moving between the gateway and
// the local durable store. Any subset of collections may be populated.
type Snapshot struct {
	Products       []Product       `json:"products,omitempty"`
	Categories     []Category      `json:"categories,omitempty"`
	Orders         []Order         `json:"orders,omitempty"`
	Customers      []Customer      `json:"customers,omitempty"`
	Suppliers      []Supplier      `json:"suppliers,omitempty"`
	StockLogs      []StockLogEntry `json:"stock_logs,omitempty"`
	PurchaseOrders []PurchaseOrder `json:"purchase_orders,omitempty"`
	Expenses       []Expense       `json:"expenses,omitempty"`
	Notifications  []Notification  `json:"notifications,omitempty"`
	Settings       []Setting       `json:"settings,omitempty"`
	Users          []UserAccount   `json:"users,omitempty"`
	Tenants        []Tenant        `json:"tenants,omitempty"`
}

type Actor struct {
	Username string
	Role     string
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

type CartItemRequest struct {
	TerminalID string `json:"terminal_id"`
	ProductID  string `json:"product_id"`
}

type CartQuantityRequest struct {
	TerminalID string   `json:"terminal_id"`
	ProductID  string   `json:"product_id"`
	Type       LineType `json:"type"`
	Delta      int      `json:"delta"`
}

type CartCustomerRequest struct {
	TerminalID   string `json:"terminal_id"`
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name"`
}

type CartSalespersonRequest struct {
	TerminalID      string `json:"terminal_id"`
	SalespersonID   string `json:"salesperson_id"`
	SalespersonName string `json:"salesperson_name"`
}

type CartDiscountRequest struct {
	TerminalID string          `json:"terminal_id"`
	Type       DiscountType    `json:"type"`
	Value      decimal.Decimal `json:"value"`
}

type CartTaxRequest struct {
	TerminalID string          `json:"terminal_id"`
	Rate       decimal.Decimal `json:"rate"`
}

type CheckoutRequest struct {
	TerminalID string `json:"terminal_id"`
}

type CheckoutResponse struct {
	Order  Order `json:"order"`
	Queued bool  `json:"queued"`
}

// SyncResult summarizes one reconciliation pass.
type SyncResult struct {
	Attempted int  `json:"attempted"`
	Delivered int  `json:"delivered"`
	Failed    int  `json:"failed"`
	Refreshed bool `json:"refreshed"`
}

type SyncStatus struct {
	PendingCount int        `json:"pending_count"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
}

// Package memory is the in-memory Store used for tests and demo mode, in
// place of the embedded SQL store. All state is guarded by one RWMutex and
// each write method applies its effects as a unit, so the atomicity
// contract holds trivially.
package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tokosync/terminal/internal/domain"
	"tokosync/terminal/internal/store"
	"tokosync/terminal/internal/xid"
)

type Store struct {
	mu             sync.RWMutex
	products       map[string]domain.Product
	categories     map[string]domain.Category
	orders         map[string]domain.Order
	customers      map[string]domain.Customer
	suppliers      map[string]domain.Supplier
	stockLogs      []domain.StockLogEntry
	purchaseOrders map[string]domain.PurchaseOrder
	expenses       map[string]domain.Expense
	notifications  map[string]domain.Notification
	settings       map[string]domain.Setting
	tenants        map[string]domain.Tenant
	users          map[string]domain.UserAccount
	pending        []domain.PendingOrder
}

func New() *Store {
	return &Store{
		products:       make(map[string]domain.Product),
		categories:     make(map[string]domain.Category),
		orders:         make(map[string]domain.Order),
		customers:      make(map[string]domain.Customer),
		suppliers:      make(map[string]domain.Supplier),
		purchaseOrders: make(map[string]domain.PurchaseOrder),
		expenses:       make(map[string]domain.Expense),
		notifications:  make(map[string]domain.Notification),
		settings:       make(map[string]domain.Setting),
		tenants:        make(map[string]domain.Tenant),
		users:          make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store pre-loaded with a demo tenant, a small catalog
// and two login accounts. Seed credentials come from SEED_ADMIN_PASSWORD and
// SEED_CASHIER_PASSWORD; hardcoded dev defaults are used (with a warning)
// when unset.
func NewSeeded(tenantID string) *Store {
	s := New()
	now := time.Now().UTC()

	s.tenants[tenantID] = domain.Tenant{ID: tenantID, Name: "Demo Store", Plan: "trial", Status: "active", CreatedAt: now}

	categories := []domain.Category{
		{ID: "cat-grocery", TenantID: tenantID, Name: "Grocery"},
		{ID: "cat-beverage", TenantID: tenantID, Name: "Beverage"},
		{ID: "cat-household", TenantID: tenantID, Name: "Household"},
	}
	for _, c := range categories {
		s.categories[c.ID] = c
	}

	seed := []struct {
		id, name, sku, category string
		price                   float64
		cost                    float64
		stock                   int
	}{
		{"prod-mie", "Mie Goreng Instan", "SKU-MIE-01", "cat-grocery", 3500, 2700, 120},
		{"prod-telur", "Telur 10 Butir", "SKU-TELUR-01", "cat-grocery", 26500, 23000, 40},
		{"prod-kopi", "Kopi Sachet", "SKU-KOPI-01", "cat-beverage", 2600, 0, 200},
		{"prod-air", "Air Mineral 600ml", "SKU-AIR-01", "cat-beverage", 3900, 2900, 150},
		{"prod-sabun", "Sabun Mandi", "SKU-SABUN-01", "cat-household", 7400, 5100, 60},
	}
	for _, p := range seed {
		s.products[p.id] = domain.Product{
			ID:         p.id,
			TenantID:   tenantID,
			Name:       p.name,
			SKU:        p.sku,
			CategoryID: p.category,
			Price:      decimal.NewFromFloat(p.price),
			Cost:       decimal.NewFromFloat(p.cost),
			Stock:      p.stock,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	s.customers["cust-walkin"] = domain.Customer{ID: "cust-walkin", TenantID: tenantID, Name: "Pelanggan Setia", Phone: "0812-0000-0000", CreatedAt: now}

	for username, cred := range seedUsers(tenantID) {
		s.users[username] = cred
	}

	return s
}

func seedUsers(tenantID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        xid.New("user"),
			TenantID:  tenantID,
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

func (s *Store) CacheAll(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySnapshotLocked(snap)
	return nil
}

func (s *Store) applySnapshotLocked(snap domain.Snapshot) {
	for _, p := range snap.Products {
		s.products[p.ID] = p
	}
	for _, c := range snap.Categories {
		s.categories[c.ID] = c
	}
	for _, o := range snap.Orders {
		s.orders[o.ID] = o
	}
	for _, c := range snap.Customers {
		s.customers[c.ID] = c
	}
	for _, sp := range snap.Suppliers {
		s.suppliers[sp.ID] = sp
	}
	for _, entry := range snap.StockLogs {
		s.upsertStockLogLocked(entry)
	}
	for _, po := range snap.PurchaseOrders {
		s.purchaseOrders[po.ID] = po
	}
	for _, e := range snap.Expenses {
		s.expenses[e.ID] = e
	}
	for _, n := range snap.Notifications {
		s.notifications[n.ID] = n
	}
	for _, st := range snap.Settings {
		s.settings[st.ID] = st
	}
	for _, t := range snap.Tenants {
		s.tenants[t.ID] = t
	}
	for _, u := range snap.Users {
		s.users[u.Username] = u
	}
}

func (s *Store) upsertStockLogLocked(entry domain.StockLogEntry) {
	for i := range s.stockLogs {
		if s.stockLogs[i].ID == entry.ID {
			return // append-only: an existing entry is never rewritten
		}
	}
	s.stockLogs = append(s.stockLogs, entry)
}

func (s *Store) LoadLocalState(_ context.Context, tenantID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &domain.Snapshot{}
	for _, p := range s.products {
		if p.TenantID == tenantID {
			snap.Products = append(snap.Products, p)
		}
	}
	for _, c := range s.categories {
		if c.TenantID == tenantID {
			snap.Categories = append(snap.Categories, c)
		}
	}
	for _, o := range s.orders {
		if o.TenantID == tenantID {
			snap.Orders = append(snap.Orders, o)
		}
	}
	for _, c := range s.customers {
		if c.TenantID == tenantID {
			snap.Customers = append(snap.Customers, c)
		}
	}
	for _, sp := range s.suppliers {
		if sp.TenantID == tenantID {
			snap.Suppliers = append(snap.Suppliers, sp)
		}
	}
	for _, entry := range s.stockLogs {
		if entry.TenantID == tenantID {
			snap.StockLogs = append(snap.StockLogs, entry)
		}
	}
	for _, po := range s.purchaseOrders {
		if po.TenantID == tenantID {
			snap.PurchaseOrders = append(snap.PurchaseOrders, po)
		}
	}
	for _, e := range s.expenses {
		if e.TenantID == tenantID {
			snap.Expenses = append(snap.Expenses, e)
		}
	}
	for _, n := range s.notifications {
		if n.TenantID == tenantID {
			snap.Notifications = append(snap.Notifications, n)
		}
	}
	for _, st := range s.settings {
		if st.TenantID == tenantID {
			snap.Settings = append(snap.Settings, st)
		}
	}
	if t, ok := s.tenants[tenantID]; ok {
		snap.Tenants = append(snap.Tenants, t)
	}

	sort.Slice(snap.Products, func(i, j int) bool { return snap.Products[i].Name < snap.Products[j].Name })
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].CreatedAt.After(snap.Orders[j].CreatedAt) })
	sort.Slice(snap.StockLogs, func(i, j int) bool { return snap.StockLogs[i].CreatedAt.After(snap.StockLogs[j].CreatedAt) })
	sort.Slice(snap.PurchaseOrders, func(i, j int) bool { return snap.PurchaseOrders[i].CreatedAt.After(snap.PurchaseOrders[j].CreatedAt) })
	sort.Slice(snap.Expenses, func(i, j int) bool { return snap.Expenses[i].Date.After(snap.Expenses[j].Date) })

	return snap, nil
}

func (s *Store) SearchProducts(_ context.Context, tenantID string, query string) ([]domain.Product, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]domain.Product, 0)
	for _, p := range s.products {
		if p.TenantID != tenantID {
			continue
		}
		if needle == "" || strings.Contains(strings.ToLower(p.Name), needle) || strings.Contains(strings.ToLower(p.SKU), needle) {
			matches = append(matches, p)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	return matches, nil
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	return s.SearchProducts(ctx, tenantID, "")
}

func (s *Store) GetProduct(_ context.Context, tenantID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CommitOrder(_ context.Context, order domain.Order, enqueue bool) (*domain.Order, error) {
	if order.ID == "" || order.TenantID == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidOrder
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage every effect first, then apply. A failure in any line item must
	// leave the store untouched: the commit is all-or-nothing.
	stagedProducts := make(map[string]domain.Product)
	stagedLogs := make([]domain.StockLogEntry, 0, len(order.Items))
	now := time.Now().UTC()

	for _, item := range order.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidOrder
		}

		product, ok := s.products[item.ProductID]
		if !ok || product.TenantID != order.TenantID {
			// Stale-cache tolerance: the order still commits, the stock
			// effect for this line is simply missed.
			log.Printf("[memory-store] WARN: product %s not cached, skipping stock effect for order %s", item.ProductID, order.ID)
			continue
		}
		if staged, ok := stagedProducts[product.ID]; ok {
			product = staged
		}

		logID := store.StockLogID(order.ID, item.ProductID, item.Type)
		for _, existing := range s.stockLogs {
			if existing.ID == logID {
				return nil, fmt.Errorf("%w: stock movement %s already recorded", store.ErrInvalidOrder, logID)
			}
		}
		for _, staged := range stagedLogs {
			if staged.ID == logID {
				return nil, fmt.Errorf("%w: stock movement %s already recorded", store.ErrInvalidOrder, logID)
			}
		}

		change := -item.Quantity
		movement := domain.MovementSale
		if item.Type == domain.LineReturn {
			change = item.Quantity
			movement = domain.MovementReturn
		}

		product.Stock += change
		product.UpdatedAt = now
		stagedProducts[product.ID] = product

		stagedLogs = append(stagedLogs, domain.StockLogEntry{
			ID:             logID,
			TenantID:       order.TenantID,
			ProductID:      product.ID,
			ProductName:    product.Name,
			SKU:            product.SKU,
			Change:         change,
			ResultingStock: product.Stock,
			Type:           movement,
			Reason:         "Order #" + xid.Trailing(order.ID),
			UserID:         order.UserID,
			UserName:       order.SalespersonName,
			CreatedAt:      order.CreatedAt,
		})
	}

	s.orders[order.ID] = order
	if enqueue && !s.pendingExistsLocked(order.ID) {
		s.pending = append(s.pending, domain.PendingOrder{
			OrderID:    order.ID,
			TenantID:   order.TenantID,
			Order:      order,
			EnqueuedAt: now,
		})
	}
	for id, product := range stagedProducts {
		s.products[id] = product
	}
	s.stockLogs = append(s.stockLogs, stagedLogs...)

	committed := order
	return &committed, nil
}

func (s *Store) pendingExistsLocked(orderID string) bool {
	for _, p := range s.pending {
		if p.OrderID == orderID {
			return true
		}
	}
	return false
}

func (s *Store) ListOrders(_ context.Context, tenantID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orders := make([]domain.Order, 0)
	for _, o := range s.orders {
		if o.TenantID == tenantID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (s *Store) ListStockLogs(_ context.Context, tenantID string) ([]domain.StockLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := make([]domain.StockLogEntry, 0)
	for _, entry := range s.stockLogs {
		if entry.TenantID == tenantID {
			logs = append(logs, entry)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt.After(logs[j].CreatedAt) })
	return logs, nil
}

func (s *Store) ListPendingOrders(_ context.Context, tenantID string) ([]domain.PendingOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending := make([]domain.PendingOrder, 0)
	for _, p := range s.pending {
		if p.TenantID == tenantID {
			pending = append(pending, p)
		}
	}
	return pending, nil
}

func (s *Store) CountPendingOrders(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.pending {
		if p.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

func (s *Store) MarkPendingAttempt(_ context.Context, orderID string, attemptErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		if s.pending[i].OrderID == orderID {
			s.pending[i].Attempts++
			s.pending[i].LastError = attemptErr
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) DeletePendingOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		if s.pending[i].OrderID == orderID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

// ReplaceTenantState wipes the tenant's cached collections and installs the
// snapshot in their place. The pending queue and user accounts are locally
// owned and survive the overwrite.
func (s *Store) ReplaceTenantState(_ context.Context, tenantID string, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.products {
		if p.TenantID == tenantID {
			delete(s.products, id)
		}
	}
	for id, c := range s.categories {
		if c.TenantID == tenantID {
			delete(s.categories, id)
		}
	}
	for id, o := range s.orders {
		if o.TenantID == tenantID {
			delete(s.orders, id)
		}
	}
	for id, c := range s.customers {
		if c.TenantID == tenantID {
			delete(s.customers, id)
		}
	}
	for id, sp := range s.suppliers {
		if sp.TenantID == tenantID {
			delete(s.suppliers, id)
		}
	}
	kept := s.stockLogs[:0]
	for _, entry := range s.stockLogs {
		if entry.TenantID != tenantID {
			kept = append(kept, entry)
		}
	}
	s.stockLogs = kept
	for id, po := range s.purchaseOrders {
		if po.TenantID == tenantID {
			delete(s.purchaseOrders, id)
		}
	}
	for id, e := range s.expenses {
		if e.TenantID == tenantID {
			delete(s.expenses, id)
		}
	}
	for id, n := range s.notifications {
		if n.TenantID == tenantID {
			delete(s.notifications, id)
		}
	}
	for id, st := range s.settings {
		if st.TenantID == tenantID {
			delete(s.settings, id)
		}
	}
	delete(s.tenants, tenantID)

	s.applySnapshotLocked(snap)
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.users[username] = u
	return nil
}

func (s *Store) Close() error {
	return nil
}

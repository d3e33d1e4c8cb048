package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tokosync/terminal/internal/cache"
	"tokosync/terminal/internal/domain"
	"tokosync/terminal/internal/gateway"
	"tokosync/terminal/internal/store"
	"tokosync/terminal/internal/store/memory"
)

const testTenant = "ten-svc"

// fakeGateway scripts the backend: the first failTimes CreateOrder calls
// fail with createErr, later ones succeed.
type fakeGateway struct {
	mu         sync.Mutex
	created    []domain.Order
	failTimes  int
	createErr  error
	pingErr    error
	snapshot   domain.Snapshot
	fetchErr   error
	fetchCalls int
	callCount  int
}

func (g *fakeGateway) Ping(context.Context) error { return g.pingErr }

func (g *fakeGateway) CreateOrder(_ context.Context, order domain.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callCount++
	if g.failTimes > 0 {
		g.failTimes--
		if g.createErr != nil {
			return g.createErr
		}
		return gateway.ErrUnavailable
	}
	g.created = append(g.created, order)
	return nil
}

func (g *fakeGateway) FetchTenantState(context.Context, string) (domain.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.fetchErr != nil {
		return domain.Snapshot{}, g.fetchErr
	}
	return g.snapshot, nil
}

func newTestService(t *testing.T, gw gateway.Client) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	if err := st.CacheAll(context.Background(), domain.Snapshot{Products: []domain.Product{
		{ID: "p-1", TenantID: testTenant, Name: "Kopi Susu", SKU: "KS-01", Price: decimal.NewFromInt(15000), Stock: 20},
		{ID: "p-2", TenantID: testTenant, Name: "Teh Manis", SKU: "TM-01", Price: decimal.NewFromInt(8000), Stock: 10},
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return New(st, gw, nil, testTenant, decimal.Zero, time.Minute), st
}

func addProduct(t *testing.T, s *Service, terminalID, productID string, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		if _, err := s.AddToCart(context.Background(), domain.CartItemRequest{
			TerminalID: terminalID, ProductID: productID,
		}); err != nil {
			t.Fatalf("AddToCart %s: %v", productID, err)
		}
	}
}

func TestCheckoutOfflineQueuesAndDecrements(t *testing.T) {
	s, st := newTestService(t, nil)
	ctx := context.Background()
	addProduct(t, s, "t1", "p-1", 3)

	resp, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if !resp.Queued {
		t.Error("offline checkout not queued")
	}
	if !resp.Order.TotalAmount.Equal(decimal.NewFromInt(45000)) {
		t.Errorf("total = %s, want 45000", resp.Order.TotalAmount)
	}
	if resp.Order.Status != domain.OrderCompleted {
		t.Errorf("status = %s, want COMPLETED", resp.Order.Status)
	}

	p, _ := st.GetProduct(ctx, testTenant, "p-1")
	if p.Stock != 17 {
		t.Errorf("stock = %d, want 17", p.Stock)
	}
	count, _ := st.CountPendingOrders(ctx, testTenant)
	if count != 1 {
		t.Errorf("pending = %d, want 1", count)
	}
	if s.CartFor("t1").Len() != 0 {
		t.Error("cart not cleared after checkout")
	}
}

func TestCheckoutOnlineSkipsQueue(t *testing.T) {
	gw := &fakeGateway{}
	s, st := newTestService(t, gw)
	ctx := context.Background()
	addProduct(t, s, "t1", "p-1", 1)

	resp, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if resp.Queued {
		t.Error("online checkout queued")
	}
	if len(gw.created) != 1 || gw.created[0].ID != resp.Order.ID {
		t.Errorf("gateway saw %+v", gw.created)
	}
	count, _ := st.CountPendingOrders(ctx, testTenant)
	if count != 0 {
		t.Errorf("pending = %d, want 0", count)
	}
	// Stock is applied locally either way.
	p, _ := st.GetProduct(ctx, testTenant, "p-1")
	if p.Stock != 19 {
		t.Errorf("stock = %d, want 19", p.Stock)
	}
}

func TestCheckoutGatewayFailureFallsBackToQueue(t *testing.T) {
	gw := &fakeGateway{failTimes: 1}
	s, st := newTestService(t, gw)
	ctx := context.Background()
	addProduct(t, s, "t1", "p-2", 2)

	resp, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if !resp.Queued {
		t.Error("failed delivery not queued")
	}
	count, _ := st.CountPendingOrders(ctx, testTenant)
	if count != 1 {
		t.Errorf("pending = %d, want 1", count)
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	s, _ := newTestService(t, nil)
	if _, err := s.Checkout(context.Background(), domain.CheckoutRequest{TerminalID: "t1"}); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("err = %v, want ErrEmptyCart", err)
	}
}

// failingStore rejects commits; everything else passes through.
type failingStore struct {
	store.Store
}

func (failingStore) CommitOrder(context.Context, domain.Order, bool) (*domain.Order, error) {
	return nil, errors.New("disk full")
}

func TestCheckoutStoreFailureLeavesCartIntact(t *testing.T) {
	st := memory.New()
	if err := st.CacheAll(context.Background(), domain.Snapshot{Products: []domain.Product{
		{ID: "p-1", TenantID: testTenant, Name: "Kopi", Price: decimal.NewFromInt(15000), Stock: 5},
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := New(failingStore{st}, nil, nil, testTenant, decimal.Zero, time.Minute)
	addProduct(t, s, "t1", "p-1", 2)

	if _, err := s.Checkout(context.Background(), domain.CheckoutRequest{TerminalID: "t1"}); err == nil {
		t.Fatal("Checkout succeeded with failing store")
	}
	if got := s.CartFor("t1").Len(); got != 2 {
		t.Errorf("cart len after failed checkout = %d, want 2", got)
	}
}

func TestReturnModeCheckout(t *testing.T) {
	s, st := newTestService(t, nil)
	ctx := context.Background()

	s.CartFor("t1").ToggleReturnMode()
	addProduct(t, s, "t1", "p-1", 2)

	resp, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if resp.Order.Status != domain.OrderReturned || !resp.Order.IsReturn {
		t.Errorf("order = status %s, is_return %v; want RETURNED return", resp.Order.Status, resp.Order.IsReturn)
	}
	if !resp.Order.TotalAmount.Equal(decimal.NewFromInt(-30000)) {
		t.Errorf("total = %s, want -30000 refund", resp.Order.TotalAmount)
	}
	p, _ := st.GetProduct(ctx, testTenant, "p-1")
	if p.Stock != 22 {
		t.Errorf("stock = %d, want restocked 22", p.Stock)
	}
}

func TestCheckoutMixedSaleAndReturnSameProduct(t *testing.T) {
	s, st := newTestService(t, nil)
	ctx := context.Background()

	// Sell two, then flip to return mode and take one back in the same
	// transaction. Same product on both lines, different line types.
	addProduct(t, s, "t1", "p-1", 2)
	s.CartFor("t1").ToggleReturnMode()
	addProduct(t, s, "t1", "p-1", 1)

	resp, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if len(resp.Order.Items) != 2 {
		t.Fatalf("items = %+v, want sale and return lines", resp.Order.Items)
	}
	if resp.Order.IsReturn || resp.Order.Status != domain.OrderCompleted {
		t.Errorf("order = status %s, is_return %v; want COMPLETED mixed sale", resp.Order.Status, resp.Order.IsReturn)
	}
	if !resp.Order.TotalAmount.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("total = %s, want 15000 net", resp.Order.TotalAmount)
	}
	p, _ := st.GetProduct(ctx, testTenant, "p-1")
	if p.Stock != 19 {
		t.Errorf("stock = %d, want 19 after -2 sale and +1 return", p.Stock)
	}
}

func TestCheckoutIsReturnDerivedFromLines(t *testing.T) {
	s, st := newTestService(t, nil)
	ctx := context.Background()

	// Return mode stays off; the single line is flipped to RETURN by hand.
	addProduct(t, s, "t1", "p-1", 1)
	s.CartFor("t1").ToggleItemType("p-1", domain.LineSale)

	resp, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if !resp.Order.IsReturn || resp.Order.Status != domain.OrderReturned {
		t.Errorf("order = status %s, is_return %v; want RETURNED return", resp.Order.Status, resp.Order.IsReturn)
	}
	p, _ := st.GetProduct(ctx, testTenant, "p-1")
	if p.Stock != 21 {
		t.Errorf("stock = %d, want restocked 21", p.Stock)
	}

	// The converse: a return-mode cart whose line was flipped back to SALE
	// is not a return order.
	s.CartFor("t2").ToggleReturnMode()
	addProduct(t, s, "t2", "p-2", 1)
	s.CartFor("t2").ToggleItemType("p-2", domain.LineReturn)
	resp, err = s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t2"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if resp.Order.IsReturn || resp.Order.Status != domain.OrderCompleted {
		t.Errorf("order = status %s, is_return %v; want COMPLETED sale", resp.Order.Status, resp.Order.IsReturn)
	}
}

func TestSyncNowDrainsQueueAndRefreshes(t *testing.T) {
	gw := &fakeGateway{
		failTimes: 2, // both checkouts happen offline
		snapshot: domain.Snapshot{Products: []domain.Product{
			{ID: "p-1", TenantID: testTenant, Name: "Kopi Susu", Price: decimal.NewFromInt(15000), Stock: 99},
		}},
	}
	s, st := newTestService(t, gw)
	ctx := context.Background()

	addProduct(t, s, "t1", "p-1", 1)
	if _, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"}); err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	addProduct(t, s, "t1", "p-2", 1)
	if _, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"}); err != nil {
		t.Fatalf("second checkout: %v", err)
	}

	result, err := s.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if result.Attempted != 2 || result.Delivered != 2 || result.Failed != 0 {
		t.Errorf("result = %+v, want 2 delivered", result)
	}
	if !result.Refreshed {
		t.Error("post-drain refresh did not run")
	}
	if len(gw.created) != 2 {
		t.Errorf("gateway saw %d orders, want 2", len(gw.created))
	}

	count, _ := st.CountPendingOrders(ctx, testTenant)
	if count != 0 {
		t.Errorf("pending after sync = %d, want 0", count)
	}
	// Server wins: the refreshed stock replaces local decrements.
	p, _ := st.GetProduct(ctx, testTenant, "p-1")
	if p.Stock != 99 {
		t.Errorf("stock after refresh = %d, want server's 99", p.Stock)
	}

	status, err := s.SyncStatus(ctx)
	if err != nil {
		t.Fatalf("SyncStatus: %v", err)
	}
	if status.PendingCount != 0 || status.LastSyncAt == nil {
		t.Errorf("status = %+v, want empty queue with sync timestamp", status)
	}
}

func TestSyncNowEmptyQueueSkipsNetwork(t *testing.T) {
	gw := &fakeGateway{}
	s, _ := newTestService(t, gw)

	result, err := s.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if result.Attempted != 0 || result.Refreshed {
		t.Errorf("result = %+v, want untouched no-op", result)
	}
	if gw.callCount != 0 || gw.fetchCalls != 0 {
		t.Errorf("gateway touched on empty queue: %d creates, %d fetches", gw.callCount, gw.fetchCalls)
	}
}

func TestSyncNowIsolatesFailures(t *testing.T) {
	gw := &fakeGateway{failTimes: 3} // two offline checkouts + first sync attempt
	s, st := newTestService(t, gw)
	ctx := context.Background()

	addProduct(t, s, "t1", "p-1", 1)
	if _, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"}); err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	addProduct(t, s, "t1", "p-2", 1)
	if _, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"}); err != nil {
		t.Fatalf("second checkout: %v", err)
	}

	result, err := s.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if result.Attempted != 2 || result.Delivered != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want one delivered one failed", result)
	}

	pending, _ := st.ListPendingOrders(ctx, testTenant)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want the failed order retained", len(pending))
	}
	if pending[0].Attempts != 1 || pending[0].LastError == "" {
		t.Errorf("attempt bookkeeping = %+v", pending[0])
	}
}

func TestSyncNowRefreshesEvenWhenAllDeliveriesFail(t *testing.T) {
	gw := &fakeGateway{
		failTimes: 4, // two offline checkouts + both sync attempts
		snapshot: domain.Snapshot{Products: []domain.Product{
			{ID: "p-1", TenantID: testTenant, Name: "Kopi Susu", Price: decimal.NewFromInt(15000), Stock: 55},
		}},
	}
	s, st := newTestService(t, gw)
	ctx := context.Background()

	addProduct(t, s, "t1", "p-1", 1)
	if _, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"}); err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	addProduct(t, s, "t1", "p-2", 1)
	if _, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"}); err != nil {
		t.Fatalf("second checkout: %v", err)
	}

	result, err := s.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if result.Attempted != 2 || result.Delivered != 0 || result.Failed != 2 {
		t.Errorf("result = %+v, want both failed", result)
	}
	// The drain ran, so the server pull runs too: orders can be rejected
	// while reads still succeed.
	if !result.Refreshed {
		t.Error("refresh skipped after failed-only drain")
	}
	if gw.fetchCalls != 1 {
		t.Errorf("fetchCalls = %d, want 1", gw.fetchCalls)
	}
	pending, _ := st.ListPendingOrders(ctx, testTenant)
	if len(pending) != 2 {
		t.Errorf("pending = %d, want both retained", len(pending))
	}
	p, _ := st.GetProduct(ctx, testTenant, "p-1")
	if p.Stock != 55 {
		t.Errorf("stock = %d, want server's 55", p.Stock)
	}
}

func TestSyncNowAbortsOnRejectedCredential(t *testing.T) {
	gw := &fakeGateway{failTimes: 3, createErr: gateway.ErrUnauthorized}
	s, _ := newTestService(t, gw)
	ctx := context.Background()

	addProduct(t, s, "t1", "p-1", 1)
	if _, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	addProduct(t, s, "t1", "p-2", 1)
	if _, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	result, err := s.SyncNow(ctx)
	if !errors.Is(err, gateway.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	// Aborted after the first rejected delivery.
	if result.Attempted != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want single aborted attempt", result)
	}
}

func TestBootstrapOfflineFallsBackToLocal(t *testing.T) {
	gw := &fakeGateway{pingErr: gateway.ErrUnavailable}
	s, _ := newTestService(t, gw)

	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if gw.fetchCalls != 0 {
		t.Errorf("fetch attempted while unreachable: %d", gw.fetchCalls)
	}
}

func TestBootstrapOnlineRefreshes(t *testing.T) {
	gw := &fakeGateway{snapshot: domain.Snapshot{Products: []domain.Product{
		{ID: "p-9", TenantID: testTenant, Name: "Server Baru", Price: decimal.NewFromInt(1000), Stock: 3},
	}}}
	s, st := newTestService(t, gw)
	ctx := context.Background()

	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	products, _ := st.ListProducts(ctx, testTenant)
	if len(products) != 1 || products[0].ID != "p-9" {
		t.Errorf("products after bootstrap = %+v, want server state", products)
	}
}

func TestAddToCartUnknownProduct(t *testing.T) {
	s, _ := newTestService(t, nil)
	_, err := s.AddToCart(context.Background(), domain.CartItemRequest{TerminalID: "t1", ProductID: "p-ghost"})
	if !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("err = %v, want ErrUnknownProduct", err)
	}
}

// mapCache is an in-process SearchCache double.
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]domain.Product
	hits    int
}

func newMapCache() *mapCache { return &mapCache{entries: make(map[string][]domain.Product)} }

func (c *mapCache) Get(_ context.Context, key string) ([]domain.Product, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	products, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return products, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, products []domain.Product, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = products
	return nil
}

func (c *mapCache) InvalidateTenant(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := cache.SearchKey(tenantID, "")
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *mapCache) Close() error { return nil }

func TestSearchProductsCacheAndInvalidation(t *testing.T) {
	sc := newMapCache()
	st := memory.New()
	ctx := context.Background()
	if err := st.CacheAll(ctx, domain.Snapshot{Products: []domain.Product{
		{ID: "p-1", TenantID: testTenant, Name: "Kopi Susu", SKU: "KS-01", Price: decimal.NewFromInt(15000), Stock: 20},
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := New(st, nil, sc, testTenant, decimal.Zero, time.Minute)

	first, err := s.SearchProducts(ctx, "kopi")
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first search = %d results, want 1", len(first))
	}

	second, err := s.SearchProducts(ctx, "kopi")
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if sc.hits != 1 {
		t.Errorf("cache hits = %d, want 1", sc.hits)
	}
	if len(second) != 1 {
		t.Errorf("second search = %d results", len(second))
	}

	// Checkout mutates product rows and must drop cached searches.
	addProduct(t, s, "t1", "p-1", 1)
	if _, err := s.Checkout(ctx, domain.CheckoutRequest{TerminalID: "t1"}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	third, err := s.SearchProducts(ctx, "kopi")
	if err != nil {
		t.Fatalf("third search: %v", err)
	}
	if sc.hits != 1 {
		t.Errorf("cache hits after invalidation = %d, want still 1", sc.hits)
	}
	if third[0].Stock != 19 {
		t.Errorf("stock after checkout = %d, want fresh 19", third[0].Stock)
	}
}

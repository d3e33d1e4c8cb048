// Package service is the terminal's application core: cart session registry,
// product browsing through the search cache, the checkout pipeline and the
// sync reconciler.
package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tokosync/terminal/internal/cache"
	"tokosync/terminal/internal/cart"
	"tokosync/terminal/internal/domain"
	"tokosync/terminal/internal/gateway"
	"tokosync/terminal/internal/store"
)

var (
	ErrEmptyCart      = errors.New("cart is empty")
	ErrUnknownProduct = errors.New("unknown product")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	store    store.Store
	gateway  gateway.Client // nil when the terminal has no backend configured
	cache    cache.SearchCache
	tenantID string

	defaultTaxRate decimal.Decimal
	searchTTL      time.Duration

	mu       sync.Mutex
	sessions map[string]*cart.Session

	syncMu     sync.Mutex
	lastSyncAt *time.Time
}

func New(st store.Store, gw gateway.Client, sc cache.SearchCache, tenantID string, taxRate decimal.Decimal, searchTTL time.Duration) *Service {
	if sc == nil {
		sc = cache.NoopSearchCache{}
	}
	return &Service{
		store:          st,
		gateway:        gw,
		cache:          sc,
		tenantID:       tenantID,
		defaultTaxRate: taxRate,
		searchTTL:      searchTTL,
		sessions:       make(map[string]*cart.Session),
	}
}

func (s *Service) TenantID() string { return s.tenantID }

// CartFor returns the terminal's cart session, creating it on first use.
// One session per terminal id; the session itself is safe for concurrent
// handlers.
func (s *Service) CartFor(terminalID string) *cart.Session {
	if terminalID == "" {
		terminalID = "terminal-1"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[terminalID]
	if !ok {
		session = cart.NewSession(terminalID, s.defaultTaxRate)
		s.sessions[terminalID] = session
	}
	return session
}

// AddToCart resolves the product from the local cache and adds one unit.
// The line snapshots price, cost and observed stock at this moment.
func (s *Service) AddToCart(ctx context.Context, req domain.CartItemRequest) (*domain.CartView, error) {
	product, err := s.store.GetProduct(ctx, s.tenantID, req.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownProduct
	}
	if err != nil {
		return nil, err
	}

	session := s.CartFor(req.TerminalID)
	session.AddItem(*product)
	view := session.View()
	return &view, nil
}

// SearchProducts serves tenant-scoped substring search, consulting the cache
// first. Cache failures degrade to a direct store read.
func (s *Service) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	key := cache.SearchKey(s.tenantID, query)
	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		log.Printf("[service] WARN: search cache read failed: %v", err)
	} else if ok {
		return cached, nil
	}

	products, err := s.store.SearchProducts(ctx, s.tenantID, query)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, products, s.searchTTL); err != nil {
		log.Printf("[service] WARN: search cache write failed: %v", err)
	}
	return products, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.store.ListProducts(ctx, s.tenantID)
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.store.ListOrders(ctx, s.tenantID)
}

func (s *Service) ListStockLogs(ctx context.Context) ([]domain.StockLogEntry, error) {
	return s.store.ListStockLogs(ctx, s.tenantID)
}

// LoadLocalState is the terminal UI's bootstrap read: everything the local
// store has for the tenant, in one payload.
func (s *Service) LoadLocalState(ctx context.Context) (*domain.Snapshot, error) {
	return s.store.LoadLocalState(ctx, s.tenantID)
}

func (s *Service) invalidateSearchCache(ctx context.Context) {
	if err := s.cache.InvalidateTenant(ctx, s.tenantID); err != nil {
		log.Printf("[service] WARN: search cache invalidation failed: %v", err)
	}
}

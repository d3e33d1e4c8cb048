// Package store defines the local durable store contract: tenant-partitioned
// entity tables that survive restarts and offline periods, doubling as the
// write-ahead log for the offline order pipeline.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tokosync/terminal/internal/domain"
	"tokosync/terminal/internal/xid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidOrder = errors.New("invalid order")
)

// StockLogID derives the audit-entry id for one order line. Deriving it from
// (order, product, line type) instead of generating it randomly means a
// replayed commit collides with the first one's entries and fails whole,
// rather than double-applying stock effects. The line type is part of the
// key because one order may legitimately carry the same product as both a
// sale and a return line.
func StockLogID(orderID, productID string, lineType domain.LineType) string {
	return fmt.Sprintf("slog-%s-%s-%s", xid.Trailing(orderID), productID, strings.ToLower(string(lineType)))
}

// Store is implemented by the embedded SQL store and the in-memory store.
//
// Atomicity contract: CacheAll, CommitOrder and ReplaceTenantState are
// all-or-nothing. A failure must never leave mixed old/new state across
// tables. Reads degrade to empty collections on a cold start; "no local
// cache yet" is not an error.
type Store interface {
	// CacheAll bulk-upserts whichever collections the snapshot carries, in
	// one atomic write spanning all affected tables.
	CacheAll(ctx context.Context, snap domain.Snapshot) error

	// LoadLocalState reads every entity table filtered to one tenant.
	// Orders, stock logs and purchase orders come back sorted by creation
	// time descending, expenses by date descending.
	LoadLocalState(ctx context.Context, tenantID string) (*domain.Snapshot, error)

	// SearchProducts is a case-insensitive substring match over product name
	// and SKU, tenant-scoped, served entirely from the local cache.
	SearchProducts(ctx context.Context, tenantID string, query string) ([]domain.Product, error)

	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error)

	// CommitOrder is the offline order pipeline's atomic unit: upsert the
	// order, optionally enqueue it for sync, apply each line's signed stock
	// delta to the product cache and append one stock-log entry per mutated
	// product. Items whose product is missing from the cache are skipped;
	// the order still commits.
	CommitOrder(ctx context.Context, order domain.Order, enqueue bool) (*domain.Order, error)

	ListOrders(ctx context.Context, tenantID string) ([]domain.Order, error)
	ListStockLogs(ctx context.Context, tenantID string) ([]domain.StockLogEntry, error)

	// ListPendingOrders returns queue entries in enqueue (FIFO) order.
	ListPendingOrders(ctx context.Context, tenantID string) ([]domain.PendingOrder, error)
	CountPendingOrders(ctx context.Context, tenantID string) (int, error)
	MarkPendingAttempt(ctx context.Context, orderID string, attemptErr string) error
	DeletePendingOrder(ctx context.Context, orderID string) error

	// ReplaceTenantState discards the tenant's cached collections and writes
	// the snapshot in their place, atomically. The pending-order queue and
	// user accounts are preserved; they are locally owned, not cached.
	ReplaceTenantState(ctx context.Context, tenantID string, snap domain.Snapshot) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	Close() error
}

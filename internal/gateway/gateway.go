// Package gateway talks to the central SaaS backend. Every call can fail at
// any time; callers treat a failure as "offline" and fall back to the local
// store, never as a reason to block the register.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tokosync/terminal/internal/domain"
)

var (
	// ErrUnauthorized means the terminal's credential was rejected. Retrying
	// without a new token is pointless, so the reconciler surfaces this
	// instead of burning attempts.
	ErrUnauthorized = errors.New("gateway: unauthorized")

	ErrUnavailable = errors.New("gateway: unavailable")
)

// Client is the remote side of the order pipeline and the sync reconciler.
type Client interface {
	// Ping reports whether the backend is reachable right now. The result
	// is advisory; a commit may still race a dropped connection.
	Ping(ctx context.Context) error

	// CreateOrder delivers one order. Idempotent on the server by order id.
	CreateOrder(ctx context.Context, order domain.Order) error

	// FetchTenantState pulls the tenant's authoritative collections.
	FetchTenantState(ctx context.Context, tenantID string) (domain.Snapshot, error)
}

type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway: %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: decode %s: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

func (c *HTTPClient) CreateOrder(ctx context.Context, order domain.Order) error {
	return c.do(ctx, http.MethodPost, "/api/orders", order, nil)
}

func (c *HTTPClient) FetchTenantState(ctx context.Context, tenantID string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	base := "/api/tenants/" + url.PathEscape(tenantID)

	fetches := []struct {
		path string
		out  any
	}{
		{"/products", &snap.Products},
		{"/categories", &snap.Categories},
		{"/orders", &snap.Orders},
		{"/customers", &snap.Customers},
		{"/suppliers", &snap.Suppliers},
		{"/stock-logs", &snap.StockLogs},
		{"/purchase-orders", &snap.PurchaseOrders},
		{"/expenses", &snap.Expenses},
		{"/notifications", &snap.Notifications},
		{"/settings", &snap.Settings},
	}
	for _, f := range fetches {
		if err := c.do(ctx, http.MethodGet, base+f.path, nil, f.out); err != nil {
			// Partial snapshots must never reach ReplaceTenantState.
			return domain.Snapshot{}, err
		}
	}

	var tenant domain.Tenant
	if err := c.do(ctx, http.MethodGet, base, nil, &tenant); err != nil {
		return domain.Snapshot{}, err
	}
	if tenant.ID != "" {
		snap.Tenants = []domain.Tenant{tenant}
	}
	return snap, nil
}

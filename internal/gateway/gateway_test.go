package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tokosync/terminal/internal/domain"
)

func TestCreateOrderSendsBearerAndPayload(t *testing.T) {
	var gotAuth string
	var gotOrder domain.Order
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/orders" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotOrder); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok-123", 2*time.Second)
	order := domain.Order{
		ID:          "ord-1",
		TenantID:    "ten-1",
		Status:      domain.OrderCompleted,
		TotalAmount: decimal.NewFromInt(45000),
	}
	if err := c.CreateOrder(context.Background(), order); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotOrder.ID != "ord-1" || !gotOrder.TotalAmount.Equal(decimal.NewFromInt(45000)) {
		t.Errorf("server saw %+v", gotOrder)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"server error", http.StatusBadGateway, ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, "tok", time.Second)
			err := c.Ping(context.Background())
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPingConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	if err := c.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestFetchTenantStateAssemblesSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	writeList := func(v any) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(v)
		}
	}
	mux.HandleFunc("/api/tenants/ten-1/products", writeList([]domain.Product{
		{ID: "p-1", TenantID: "ten-1", Name: "Kopi", Price: decimal.NewFromInt(15000), Stock: 9},
	}))
	mux.HandleFunc("/api/tenants/ten-1/categories", writeList([]domain.Category{
		{ID: "cat-1", TenantID: "ten-1", Name: "Minuman"},
	}))
	mux.HandleFunc("/api/tenants/ten-1/settings", writeList([]domain.Setting{
		{ID: "set-1", TenantID: "ten-1", Key: "tax_rate", Value: "11"},
	}))
	mux.HandleFunc("/api/tenants/ten-1", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(domain.Tenant{ID: "ten-1", Name: "Toko Uji"})
	})
	// Remaining collections are empty lists.
	mux.HandleFunc("/api/tenants/ten-1/", writeList([]struct{}{}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", 2*time.Second)
	snap, err := c.FetchTenantState(context.Background(), "ten-1")
	if err != nil {
		t.Fatalf("FetchTenantState: %v", err)
	}
	if len(snap.Products) != 1 || snap.Products[0].Stock != 9 {
		t.Errorf("products = %+v", snap.Products)
	}
	if len(snap.Categories) != 1 || len(snap.Settings) != 1 {
		t.Errorf("categories = %+v, settings = %+v", snap.Categories, snap.Settings)
	}
	if len(snap.Tenants) != 1 || snap.Tenants[0].Name != "Toko Uji" {
		t.Errorf("tenants = %+v", snap.Tenants)
	}
}

func TestFetchTenantStateFailsWhole(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tenants/ten-1/products", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode([]domain.Product{{ID: "p-1", TenantID: "ten-1"}})
	})
	mux.HandleFunc("/api/tenants/ten-1/orders", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode([]struct{}{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", 2*time.Second)
	snap, err := c.FetchTenantState(context.Background(), "ten-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if len(snap.Products) != 0 {
		t.Errorf("partial snapshot leaked: %+v", snap.Products)
	}
}

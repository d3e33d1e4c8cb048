// Package httpapi is the terminal's local HTTP surface: the register UI on
// the same machine (or LAN) talks to it. Every read is served from the local
// store, so the API stays responsive with the backend unreachable.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"tokosync/terminal/internal/domain"
	"tokosync/terminal/internal/service"
	"tokosync/terminal/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window    time.Duration
	entries   map[string][]time.Time
	lastSweep time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{
		max:       max,
		window:    window,
		entries:   make(map[string][]time.Time),
		lastSweep: time.Now(),
	}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Drop clients whose attempts have all expired; without this the map
	// grows by one entry per client address for the daemon's lifetime.
	if now.Sub(l.lastSweep) > l.window {
		for k, history := range l.entries {
			live := false
			for _, ts := range history {
				if ts.After(cutoff) {
					live = true
					break
				}
			}
			if !live {
				delete(l.entries, k)
			}
		}
		l.lastSweep = now
	}

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, "cashier", "admin"))
	mux.HandleFunc("/api/v1/state", a.requireAuth(a.handleState, "cashier", "admin"))

	mux.HandleFunc("/api/v1/cart", a.requireAuth(a.handleCart, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/items", a.requireAuth(a.handleCartItems, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/items/toggle-type", a.requireAuth(a.handleCartToggleType, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/customer", a.requireAuth(a.handleCartCustomer, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/salesperson", a.requireAuth(a.handleCartSalesperson, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/discount", a.requireAuth(a.handleCartDiscount, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/tax-rate", a.requireAuth(a.handleCartTaxRate, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/return-mode", a.requireAuth(a.handleCartReturnMode, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/clear", a.requireAuth(a.handleCartClear, "cashier", "admin"))

	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sync/now", a.requireAuth(a.handleSyncNow, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sync/status", a.requireAuth(a.handleSyncStatus, "cashier", "admin"))

	mux.HandleFunc("/api/v1/orders", a.requireAuth(a.handleOrders, "cashier", "admin"))
	mux.HandleFunc("/api/v1/stock-logs", a.requireAuth(a.handleStockLogs, "cashier", "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"tenant": a.service.TenantID(),
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	var (
		products []domain.Product
		err      error
	)
	if query == "" {
		products, err = a.service.ListProducts(r.Context())
	} else {
		products, err = a.service.SearchProducts(r.Context(), query)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	snap, err := a.service.LoadLocalState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func terminalID(r *http.Request) string {
	id := strings.TrimSpace(r.URL.Query().Get("terminal_id"))
	if id == "" {
		id = "terminal-1"
	}
	return id
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.service.CartFor(terminalID(r)).View())
}

func (a *API) handleCartItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.CartItemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.AddToCart(r.Context(), req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, service.ErrUnknownProduct) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPatch:
		var req domain.CartQuantityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !validLineType(req.Type) {
			writeError(w, http.StatusBadRequest, errors.New("invalid line type"))
			return
		}
		session := a.service.CartFor(req.TerminalID)
		session.UpdateQuantity(req.ProductID, req.Type, req.Delta)
		writeJSON(w, http.StatusOK, session.View())
	case http.MethodDelete:
		var req domain.CartQuantityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !validLineType(req.Type) {
			writeError(w, http.StatusBadRequest, errors.New("invalid line type"))
			return
		}
		session := a.service.CartFor(req.TerminalID)
		session.RemoveItem(req.ProductID, req.Type)
		writeJSON(w, http.StatusOK, session.View())
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartToggleType(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CartQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !validLineType(req.Type) {
		writeError(w, http.StatusBadRequest, errors.New("invalid line type"))
		return
	}
	session := a.service.CartFor(req.TerminalID)
	session.ToggleItemType(req.ProductID, req.Type)
	writeJSON(w, http.StatusOK, session.View())
}

func (a *API) handleCartCustomer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CartCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session := a.service.CartFor(req.TerminalID)
	session.SetCustomer(req.CustomerID, req.CustomerName)
	writeJSON(w, http.StatusOK, session.View())
}

func (a *API) handleCartSalesperson(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CartSalespersonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session := a.service.CartFor(req.TerminalID)
	session.SetSalesperson(req.SalespersonID, req.SalespersonName)
	writeJSON(w, http.StatusOK, session.View())
}

func (a *API) handleCartDiscount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CartDiscountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Type != domain.DiscountPercentage && req.Type != domain.DiscountFixed {
		writeError(w, http.StatusBadRequest, errors.New("invalid discount type"))
		return
	}
	if req.Value.IsNegative() {
		writeError(w, http.StatusBadRequest, errors.New("discount value must not be negative"))
		return
	}
	session := a.service.CartFor(req.TerminalID)
	session.SetDiscount(req.Type, req.Value)
	writeJSON(w, http.StatusOK, session.View())
}

func (a *API) handleCartTaxRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CartTaxRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Rate.IsNegative() {
		writeError(w, http.StatusBadRequest, errors.New("tax rate must not be negative"))
		return
	}
	session := a.service.CartFor(req.TerminalID)
	session.SetTaxRate(req.Rate)
	writeJSON(w, http.StatusOK, session.View())
}

func (a *API) handleCartReturnMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	session := a.service.CartFor(terminalID(r))
	session.ToggleReturnMode()
	writeJSON(w, http.StatusOK, session.View())
}

func (a *API) handleCartClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	session := a.service.CartFor(terminalID(r))
	session.Clear()
	writeJSON(w, http.StatusOK, session.View())
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrEmptyCart) || errors.Is(err, store.ErrInvalidOrder) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	result, err := a.service.SyncNow(r.Context())
	if err != nil {
		// Partial results still matter to the UI: some orders may have
		// been delivered before the failure.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	status, err := a.service.SyncStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	orders, err := a.service.ListOrders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleStockLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	logs, err := a.service.ListStockLogs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock_logs": logs})
}

func validLineType(t domain.LineType) bool {
	return t == domain.LineSale || t == domain.LineReturn
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodDelete) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses get a generic body so internal details (SQL errors,
	// file paths) never reach the UI. 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

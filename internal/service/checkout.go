package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"tokosync/terminal/internal/domain"
)

// Checkout turns the terminal's cart into a durable order. The gateway is
// tried first; whether or not it answers, the order is committed to the
// local store in one atomic write, queued for sync only when delivery
// failed. The cart is cleared only after the local commit succeeds, so a
// failed checkout leaves the cashier's screen intact.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResponse, error) {
	session := s.CartFor(req.TerminalID)
	if session.Len() == 0 {
		return nil, ErrEmptyCart
	}

	view := session.View()
	order := s.orderFromCart(ctx, view)

	delivered := false
	if s.gateway != nil {
		if err := s.gateway.CreateOrder(ctx, order); err != nil {
			log.Printf("[service] WARN: order %s not delivered, queueing for sync: %v", order.ID, err)
		} else {
			delivered = true
		}
	}

	committed, err := s.store.CommitOrder(ctx, order, !delivered)
	if err != nil {
		return nil, err
	}

	s.invalidateSearchCache(ctx)
	session.Clear()

	return &domain.CheckoutResponse{Order: *committed, Queued: !delivered}, nil
}

func (s *Service) orderFromCart(ctx context.Context, view domain.CartView) domain.Order {
	items := make([]domain.OrderItem, 0, len(view.Lines))
	for _, line := range view.Lines {
		items = append(items, domain.OrderItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			PriceAtTime: line.UnitPrice,
			CostAtTime:  line.UnitCost,
			Type:        line.Type,
		})
	}

	// An order counts as a return only when every line is one; a single
	// toggled line in either direction flips the classification, not the
	// cashier's return-mode toggle.
	allReturns := len(items) > 0
	for _, item := range items {
		if item.Type != domain.LineReturn {
			allReturns = false
			break
		}
	}
	status := domain.OrderCompleted
	if allReturns {
		status = domain.OrderReturned
	}

	var userID string
	if actor, ok := ActorFromContext(ctx); ok {
		userID = actor.Username
	}

	return domain.Order{
		ID:              "ord-" + uuid.NewString(),
		TenantID:        s.tenantID,
		UserID:          userID,
		SalespersonID:   view.SalespersonID,
		SalespersonName: view.SalespersonName,
		CustomerID:      view.CustomerID,
		CustomerName:    view.CustomerName,
		Status:          status,
		Subtotal:        view.Subtotal,
		DiscountAmount:  view.DiscountAmount,
		DiscountType:    view.DiscountType,
		TaxRate:         view.TaxRate,
		TaxAmount:       view.Tax,
		TotalAmount:     view.Total,
		Items:           items,
		IsReturn:        allReturns,
		CreatedAt:       time.Now().UTC(),
	}
}

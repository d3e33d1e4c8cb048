// Package cart implements the in-progress transaction for one POS terminal.
// A Session is an explicit object owned by the service layer, never a global:
// every terminal gets its own and tests never share state.
//
// All operations are synchronous and side-effect free outside the session.
// Validation failures (quantity to zero, sale beyond stock) are silent
// no-ops rather than errors, so a scan-and-add flow is never interrupted.
package cart

import (
	"sync"

	"github.com/shopspring/decimal"

	"tokosync/terminal/internal/domain"
)

// WalkInCustomer is the label used when no customer is attached to the cart.
const WalkInCustomer = "Walk-in Customer"

// estimatedCostRate is the fallback unit-cost heuristic applied when a
// product has no recorded cost. See EstimateUnitCost.
var estimatedCostRate = decimal.NewFromFloat(0.7)

var hundred = decimal.NewFromInt(100)

// EstimateUnitCost returns the recorded unit cost of a product, falling back
// to 70% of the sale price when no cost is on file. The fallback is a margin
// heuristic, not a real cost figure; profit reports inherit that caveat.
func EstimateUnitCost(p domain.Product) decimal.Decimal {
	if p.Cost.IsPositive() {
		return p.Cost
	}
	return p.Price.Mul(estimatedCostRate)
}

type Session struct {
	mu         sync.Mutex
	terminalID string

	lines           []domain.CartLine
	customerID      string
	customerName    string
	salespersonID   string
	salespersonName string
	discountType    domain.DiscountType
	discountValue   decimal.Decimal
	taxRate         decimal.Decimal
	returnMode      bool
}

func NewSession(terminalID string, taxRate decimal.Decimal) *Session {
	return &Session{
		terminalID:   terminalID,
		customerName: WalkInCustomer,
		discountType: domain.DiscountPercentage,
		taxRate:      taxRate,
	}
}

// AddItem adds one unit of a product. The line type follows the session's
// return-mode flag. An existing (product, type) line is incremented instead
// of duplicated; a SALE increment past the stock observed at add time is
// silently ignored.
func (s *Session) AddItem(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lineType := domain.LineSale
	if s.returnMode {
		lineType = domain.LineReturn
	}

	for i := range s.lines {
		if s.lines[i].ProductID == p.ID && s.lines[i].Type == lineType {
			if lineType == domain.LineSale && s.lines[i].Quantity+1 > s.lines[i].StockAtAdd {
				return
			}
			s.lines[i].Quantity++
			return
		}
	}

	if lineType == domain.LineSale && p.Stock < 1 {
		return
	}

	s.lines = append(s.lines, domain.CartLine{
		ProductID:   p.ID,
		ProductName: p.Name,
		Type:        lineType,
		Quantity:    1,
		UnitPrice:   p.Price,
		UnitCost:    EstimateUnitCost(p),
		StockAtAdd:  p.Stock,
	})
}

// RemoveItem deletes the matching line entirely.
func (s *Session) RemoveItem(productID string, lineType domain.LineType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].ProductID == productID && s.lines[i].Type == lineType {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return
		}
	}
}

// UpdateQuantity adjusts a line's quantity by delta. A change that would
// drop the quantity below one is rejected with the line unchanged; SALE
// quantities are clamped to the stock snapshot taken when the line was added.
func (s *Session) UpdateQuantity(productID string, lineType domain.LineType, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].ProductID != productID || s.lines[i].Type != lineType {
			continue
		}
		next := s.lines[i].Quantity + delta
		if next < 1 {
			return
		}
		if lineType == domain.LineSale && next > s.lines[i].StockAtAdd {
			next = s.lines[i].StockAtAdd
		}
		s.lines[i].Quantity = next
		return
	}
}

// ToggleItemType flips a line between SALE and RETURN in place. If a line of
// the target type already exists for the product the two are NOT merged;
// AddItem merges but this operation does not, and callers rely on that.
func (s *Session) ToggleItemType(productID string, currentType domain.LineType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].ProductID == productID && s.lines[i].Type == currentType {
			if currentType == domain.LineSale {
				s.lines[i].Type = domain.LineReturn
			} else {
				s.lines[i].Type = domain.LineSale
			}
			return
		}
	}
}

// SetCustomer attaches a customer to the cart. An empty name resets the cart
// to the anonymous walk-in label.
func (s *Session) SetCustomer(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		id = ""
		name = WalkInCustomer
	}
	s.customerID = id
	s.customerName = name
}

func (s *Session) SetSalesperson(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.salespersonID = id
	s.salespersonName = name
}

func (s *Session) SetDiscount(discountType domain.DiscountType, value decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discountType = discountType
	s.discountValue = value
}

func (s *Session) SetTaxRate(rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxRate = rate
}

// ToggleReturnMode flips the default line type for newly added items and
// returns the new state.
func (s *Session) ToggleReturnMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.returnMode = !s.returnMode
	return s.returnMode
}

// Clear resets the session to its initial state: no lines, no customer, no
// discount, return mode off. The configured tax rate survives because it is
// terminal configuration, not transaction state.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.customerID = ""
	s.customerName = WalkInCustomer
	s.salespersonID = ""
	s.salespersonName = ""
	s.discountType = domain.DiscountPercentage
	s.discountValue = decimal.Zero
	s.returnMode = false
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// ItemCount reports the total quantity across all lines of a product,
// regardless of line type.
func (s *Session) ItemCount(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, line := range s.lines {
		if line.ProductID == productID {
			count += line.Quantity
		}
	}
	return count
}

// Subtotal is the signed sum of unit price times quantity over all lines,
// with RETURN lines contributing negatively. A return-dominant cart yields a
// negative subtotal.
func (s *Session) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subtotalLocked()
}

// DiscountAmount is zero on a non-positive subtotal. A percentage discount
// is subtotal*value/100; a fixed discount is capped at the subtotal.
func (s *Session) DiscountAmount() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discountLocked(s.subtotalLocked())
}

// Tax applies the session rate to the post-discount amount. A net-negative
// cart produces a negative (refunded) tax figure.
func (s *Session) Tax() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	subtotal := s.subtotalLocked()
	return subtotal.Sub(s.discountLocked(subtotal)).Mul(s.taxRate)
}

// Total is subtotal - discount + tax, in that order. Discount applies before
// tax; the receipt renderer and financial reports assume this composition.
func (s *Session) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	subtotal := s.subtotalLocked()
	discount := s.discountLocked(subtotal)
	tax := subtotal.Sub(discount).Mul(s.taxRate)
	return subtotal.Sub(discount).Add(tax)
}

func (s *Session) subtotalLocked() decimal.Decimal {
	subtotal := decimal.Zero
	for _, line := range s.lines {
		amount := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		if line.Type == domain.LineReturn {
			amount = amount.Neg()
		}
		subtotal = subtotal.Add(amount)
	}
	return subtotal
}

func (s *Session) discountLocked(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.Sign() <= 0 {
		return decimal.Zero
	}
	switch s.discountType {
	case domain.DiscountPercentage:
		return subtotal.Mul(s.discountValue).Div(hundred)
	case domain.DiscountFixed:
		if s.discountValue.GreaterThan(subtotal) {
			return subtotal
		}
		return s.discountValue
	default:
		return decimal.Zero
	}
}

// View captures the full session state with derived totals for the UI layer.
func (s *Session) View() domain.CartView {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]domain.CartLine, len(s.lines))
	copy(lines, s.lines)

	subtotal := s.subtotalLocked()
	discount := s.discountLocked(subtotal)
	tax := subtotal.Sub(discount).Mul(s.taxRate)

	return domain.CartView{
		TerminalID:      s.terminalID,
		Lines:           lines,
		CustomerID:      s.customerID,
		CustomerName:    s.customerName,
		SalespersonID:   s.salespersonID,
		SalespersonName: s.salespersonName,
		DiscountType:    s.discountType,
		DiscountValue:   s.discountValue,
		TaxRate:         s.taxRate,
		ReturnMode:      s.returnMode,
		Subtotal:        subtotal,
		DiscountAmount:  discount,
		Tax:             tax,
		Total:           subtotal.Sub(discount).Add(tax),
	}
}

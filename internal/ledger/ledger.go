// Package ledger holds the pure invoice balance arithmetic. Everything here
// operates on values and returns values; persistence and locking live in the
// store and service layers.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"inkpress/backend/internal/domain"
)

// ValidationError marks a business-rule rejection. Handlers map it to a 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Invalidf builds a ValidationError from a format string.
func Invalidf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// LineTotal is unit price times quantity, exact decimal arithmetic.
func LineTotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty)))
}

// DeriveDue returns total minus paid.
func DeriveDue(total, paid decimal.Decimal) decimal.Decimal {
	return total.Sub(paid)
}

// DeriveStatus maps a paid/total pair onto the settlement state. Paid wins
// over unpaid when total is zero-ish, matching due == 0.
func DeriveStatus(total, paid decimal.Decimal) string {
	switch {
	case DeriveDue(total, paid).IsZero():
		return domain.InvoiceStatusPaid
	case paid.IsZero():
		return domain.InvoiceStatusUnpaid
	default:
		return domain.InvoiceStatusPartial
	}
}

// BuildInvoice assembles a new invoice from line requests against the given
// catalog snapshot, freezing product names and unit prices into the lines.
// The returned invoice has no ID or invoice number; the store assigns both.
func BuildInvoice(retailer domain.Retailer, lines []domain.InvoiceLineRequest, catalog map[string]domain.Product, initialPaid decimal.Decimal, notes string) (domain.Invoice, error) {
	if len(lines) == 0 {
		return domain.Invoice{}, Invalidf("invoice requires at least one item")
	}
	if initialPaid.IsNegative() {
		return domain.Invoice{}, Invalidf("paid_amount cannot be negative")
	}

	built := make([]domain.InvoiceLine, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			return domain.Invoice{}, Invalidf("quantity must be positive for product %s", line.ProductID)
		}
		product, ok := catalog[line.ProductID]
		if !ok {
			return domain.Invoice{}, Invalidf("unknown product %s", line.ProductID)
		}
		lineTotal := LineTotal(product.UnitPrice, line.Quantity)
		built = append(built, domain.InvoiceLine{
			ProductID:   product.ID,
			ProductName: product.ProductName,
			UnitPrice:   product.UnitPrice,
			Quantity:    line.Quantity,
			LineTotal:   lineTotal,
		})
		total = total.Add(lineTotal)
	}

	if initialPaid.GreaterThan(total) {
		return domain.Invoice{}, Invalidf("paid_amount %s exceeds invoice total %s", initialPaid.String(), total.String())
	}

	return domain.Invoice{
		RetailerID:   retailer.ID,
		RetailerName: retailer.ShopName,
		Lines:        built,
		TotalAmount:  total,
		PaidAmount:   initialPaid,
		DueAmount:    DeriveDue(total, initialPaid),
		Status:       DeriveStatus(total, initialPaid),
		Notes:        notes,
	}, nil
}

// ValidatePayment checks an amount against the invoice's current due balance.
// Settling the exact remaining due is allowed; anything above it is not.
func ValidatePayment(inv domain.Invoice, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Invalidf("payment amount must be positive")
	}
	if amount.GreaterThan(inv.DueAmount) {
		return Invalidf("payment amount %s exceeds due amount %s", amount.String(), inv.DueAmount.String())
	}
	return nil
}

// ApplyPayment returns the invoice with the amount applied and the balance
// fields re-derived. The input invoice is not modified.
func ApplyPayment(inv domain.Invoice, amount decimal.Decimal) (domain.Invoice, error) {
	if err := ValidatePayment(inv, amount); err != nil {
		return domain.Invoice{}, err
	}
	next := inv
	next.PaidAmount = inv.PaidAmount.Add(amount)
	next.DueAmount = DeriveDue(next.TotalAmount, next.PaidAmount)
	next.Status = DeriveStatus(next.TotalAmount, next.PaidAmount)
	return next, nil
}

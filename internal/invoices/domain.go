package invoices

import (
	"fmt"
	"math"
	"time"

	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// Type enumerates invoice kinds.
type Type string

const (
	// TypeRegular is a payable invoice.
	TypeRegular Type = "regular"
	// TypeReturn carries a negative economic effect and cannot receive
	// receipts through the payment path.
	TypeReturn Type = "return"
)

// Invoice is the binding payable record. Line items are snapshots taken at
// creation, not live references into the order.
type Invoice struct {
	ID              int64      `json:"id"`
	Ref             string     `json:"ref"`
	Number          string     `json:"number"`
	ClientID        int64      `json:"client_id"`
	OrderID         *int64     `json:"order_id,omitempty"`
	Lines           []Line     `json:"lines,omitempty"`
	TotalPrice      float64    `json:"total_price"`
	RemainingAmount float64    `json:"remaining_amount"`
	VATAmount       float64    `json:"vat_amount"`
	ShippingFee     float64    `json:"shipping_fee"`
	Currency        string     `json:"currency"`
	Type            Type       `json:"type"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Line is a snapshotted line item.
type Line struct {
	ID        int64   `json:"id"`
	InvoiceID int64   `json:"invoice_id"`
	ProductID int64   `json:"product_id"`
	VariantID int64   `json:"variant_id"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Discount  float64 `json:"discount"`
	Note      *string `json:"note,omitempty"`
}

var (
	// ErrInvoiceNotFound indicates a missing invoice row.
	ErrInvoiceNotFound = fmt.Errorf("invoice %w", shared.ErrNotFound)
	// ErrReturnInvoice rejects payment-path mutations on return invoices.
	ErrReturnInvoice = fmt.Errorf("return invoices cannot be paid down: %w", shared.ErrConflict)
	// ErrHasReceipts guards deletion of invoices with recorded payments.
	ErrHasReceipts = fmt.Errorf("invoice has receipts: %w", shared.ErrConflict)
)

// ClampRemaining forces remaining into [0, |total|] and rounds to 2 decimal
// places, making the remaining > |total| state unrepresentable on write.
func ClampRemaining(remaining, total float64) float64 {
	limit := math.Abs(total)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > limit {
		remaining = limit
	}
	return shared.Round2(remaining)
}

// AmountPaid derives how much of the invoice has been settled. Used when an
// order edit must preserve partial-payment state across a total change.
func AmountPaid(inv Invoice) float64 {
	return shared.Round2(math.Abs(inv.TotalPrice) - inv.RemainingAmount)
}

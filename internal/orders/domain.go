package orders

import (
	"fmt"
	"time"

	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// Status is the quotation lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// PaymentTerms is the agreed settlement window.
type PaymentTerms string

const (
	TermsImmediate PaymentTerms = "immediate"
	TermsNet15     PaymentTerms = "net15"
	TermsNet30     PaymentTerms = "net30"
	TermsNet60     PaymentTerms = "net60"
)

// KnownTerms reports whether t is a recognised payment term.
func KnownTerms(t PaymentTerms) bool {
	switch t {
	case TermsImmediate, TermsNet15, TermsNet30, TermsNet60:
		return true
	}
	return false
}

// Order is a quotation that becomes a binding order once accepted.
type Order struct {
	ID           int64              `json:"id"`
	Number       string             `json:"number"`
	ClientID     int64              `json:"client_id"`
	Lines        []Line             `json:"lines"`
	Discounts    map[int64]float64  `json:"discounts,omitempty"`
	Currency     string             `json:"currency"`
	VATEnabled   bool               `json:"vat_enabled"`
	VATAmount    float64            `json:"vat_amount"`
	ShippingFee  float64            `json:"shipping_fee"`
	PaymentTerms PaymentTerms       `json:"payment_terms"`
	DeliveryDate *time.Time         `json:"delivery_date,omitempty"`
	Status       Status             `json:"status"`
	TotalPrice   float64            `json:"total_price"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Line is a single variant position on an order.
type Line struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	VariantID int64   `json:"variant_id"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Note      *string `json:"note,omitempty"`
}

var (
	ErrOrderNotFound = fmt.Errorf("orders: order %w", shared.ErrNotFound)
	ErrNotPending    = fmt.Errorf("orders: %w: order is not pending", shared.ErrConflict)
	ErrNotAccepted   = fmt.Errorf("orders: %w: order is not accepted", shared.ErrConflict)
	ErrHasReceipts   = fmt.Errorf("orders: %w: invoice has receipts", shared.ErrConflict)
)

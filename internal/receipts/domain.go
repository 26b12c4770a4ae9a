package receipts

import (
	"fmt"
	"time"

	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// Receipt records a payment received against an invoice.
type Receipt struct {
	ID        int64     `json:"id"`
	InvoiceID int64     `json:"invoice_id"`
	ClientID  int64     `json:"client_id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	PaidAt    time.Time `json:"paid_at"`
	Note      *string   `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrReceiptNotFound = fmt.Errorf("receipts: receipt %w", shared.ErrNotFound)
)

package clients

import (
	"fmt"
	"time"

	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// Client is a customer with a cached derived balance. The balance is a
// materialized view over the invoice and receipt ledger; the reconciler is
// the only writer allowed to correct it.
type Client struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Balance   float64   `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryKind tags a ledger entry's origin.
type EntryKind string

const (
	EntryInvoice       EntryKind = "invoice"
	EntryReturnInvoice EntryKind = "return_invoice"
	EntryReceipt       EntryKind = "receipt"
)

// LedgerEntry is one signed movement on a client's account. Regular
// invoices increase what the client owes, return invoices and receipts
// decrease it.
type LedgerEntry struct {
	Kind           EntryKind `json:"kind"`
	RefID          int64     `json:"ref_id"`
	Number         string    `json:"number,omitempty"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurred_at"`
	RunningBalance float64   `json:"running_balance"`
}

// Report is the outcome of reconciling one client.
type Report struct {
	ClientID          int64         `json:"client_id"`
	StoredBalance     float64       `json:"stored_balance"`
	CalculatedBalance float64       `json:"calculated_balance"`
	Difference        float64       `json:"difference"`
	WasUpdated        bool          `json:"was_updated"`
	Transactions      []LedgerEntry `json:"transactions"`
}

var (
	ErrClientNotFound = fmt.Errorf("clients: client %w", shared.ErrNotFound)
)

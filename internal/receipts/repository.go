package receipts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/qwerty-development/makielli-internal-sub000/internal/invoices"
	"github.com/qwerty-development/makielli-internal-sub000/internal/platform/db"
	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

type pool interface {
	db.Pool
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the pgx implementation of RepositoryPort.
type Repository struct {
	pool pool
}

// NewRepository builds Repository.
func NewRepository(p pool) *Repository {
	return &Repository{pool: p}
}

// WithTx runs fn inside a repeatable-read transaction spanning receipts,
// invoices and clients.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const receiptColumns = `id, invoice_id, client_id, amount, currency, paid_at, note, created_at`

// Get returns a receipt.
func (r *Repository) Get(ctx context.Context, id int64) (*Receipt, error) {
	return scanReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id))
}

// ListByInvoice returns an invoice's receipts, oldest first.
func (r *Repository) ListByInvoice(ctx context.Context, invoiceID int64) ([]Receipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE invoice_id = $1 ORDER BY paid_at, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("%w: list receipts: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list receipts: %v", shared.ErrPersistence, err)
	}
	return out, nil
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) InsertReceipt(ctx context.Context, rec *Receipt) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO receipts (invoice_id, client_id, amount, currency, paid_at, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		rec.InvoiceID, rec.ClientID, rec.Amount, rec.Currency, rec.PaidAt, rec.Note,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert receipt: %v", shared.ErrPersistence, err)
	}
	return nil
}

func (t *txRepo) GetReceiptForUpdate(ctx context.Context, id int64) (*Receipt, error) {
	return scanReceipt(t.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) DeleteReceipt(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM receipts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete receipt: %v", shared.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, invoiceID int64) (*invoices.Invoice, error) {
	var inv invoices.Invoice
	err := t.tx.QueryRow(ctx, `
		SELECT id, ref, number, client_id, order_id, total_price, remaining_amount, vat_amount, shipping_fee, currency, type, created_at, updated_at
		FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID).Scan(
		&inv.ID, &inv.Ref, &inv.Number, &inv.ClientID, &inv.OrderID, &inv.TotalPrice,
		&inv.RemainingAmount, &inv.VATAmount, &inv.ShippingFee, &inv.Currency, &inv.Type,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, invoices.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: invoice for update: %v", shared.ErrPersistence, err)
	}
	return &inv, nil
}

func (t *txRepo) UpdateInvoiceRemaining(ctx context.Context, invoiceID int64, remaining float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET remaining_amount = $1, updated_at = now() WHERE id = $2`, remaining, invoiceID)
	if err != nil {
		return fmt.Errorf("%w: update remaining amount: %v", shared.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return invoices.ErrInvoiceNotFound
	}
	return nil
}

func (t *txRepo) AdjustClientBalance(ctx context.Context, clientID int64, delta float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE clients SET balance = round((balance + $1)::numeric, 2), updated_at = now() WHERE id = $2`, delta, clientID)
	if err != nil {
		return fmt.Errorf("%w: adjust client balance: %v", shared.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("receipts: client %d %w", clientID, shared.ErrNotFound)
	}
	return nil
}

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var rec Receipt
	err := row.Scan(&rec.ID, &rec.InvoiceID, &rec.ClientID, &rec.Amount, &rec.Currency, &rec.PaidAt, &rec.Note, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan receipt: %v", shared.ErrPersistence, err)
	}
	return &rec, nil
}

package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/qwerty-development/makielli-internal-sub000/internal/platform/db"
	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// TxRepository is the slice of the repository usable inside a transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (*Invoice, error)
	UpdateRemaining(ctx context.Context, id int64, remaining float64) error
}

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

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const invoiceColumns = `id, ref, number, client_id, order_id, total_price, remaining_amount, vat_amount, shipping_fee, currency, type, created_at, updated_at`

// Get returns an invoice with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, err
	}
	inv.Lines, err = r.lines(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// GetByOrderID returns the invoice whose order_id back-reference matches.
func (r *Repository) GetByOrderID(ctx context.Context, orderID int64) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1`, orderID)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, err
	}
	inv.Lines, err = r.lines(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListByClient returns a client's invoices, newest first, without lines.
func (r *Repository) ListByClient(ctx context.Context, clientID int64) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE client_id = $1 ORDER BY created_at DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: list invoices: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list invoices: %v", shared.ErrPersistence, err)
	}
	return out, nil
}

// Create inserts the invoice with its lines and applies the signed total to
// the client's balance, all in one transaction.
func (r *Repository) Create(ctx context.Context, inv Invoice) (*Invoice, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO invoices (ref, number, client_id, order_id, total_price, remaining_amount, vat_amount, shipping_fee, currency, type)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at`,
			inv.Ref, inv.Number, inv.ClientID, inv.OrderID, inv.TotalPrice, inv.RemainingAmount,
			inv.VATAmount, inv.ShippingFee, inv.Currency, inv.Type,
		)
		if err := row.Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return fmt.Errorf("%w: insert invoice: %v", shared.ErrPersistence, err)
		}
		for i := range inv.Lines {
			line := &inv.Lines[i]
			err := tx.QueryRow(ctx, `
				INSERT INTO invoice_lines (invoice_id, product_id, variant_id, quantity, unit_price, discount, note)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id`,
				inv.ID, line.ProductID, line.VariantID, line.Quantity, line.UnitPrice, line.Discount, line.Note,
			).Scan(&line.ID)
			if err != nil {
				return fmt.Errorf("%w: insert invoice line: %v", shared.ErrPersistence, err)
			}
			line.InvoiceID = inv.ID
		}
		tag, err := tx.Exec(ctx, `UPDATE clients SET balance = round((balance + $1)::numeric, 2), updated_at = now() WHERE id = $2`, inv.TotalPrice, inv.ClientID)
		if err != nil {
			return fmt.Errorf("%w: adjust client balance: %v", shared.ErrPersistence, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("invoices: client %d %w", inv.ClientID, shared.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GenerateNumber produces the next INV-YYMM-SEQ document number.
func (r *Repository) GenerateNumber(ctx context.Context, date time.Time) (string, error) {
	period := date.Format("0601")
	var seq int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, period, last_seq)
		VALUES ('INV', $1, 1)
		ON CONFLICT (doc_type, period)
		DO UPDATE SET last_seq = document_sequences.last_seq + 1
		RETURNING last_seq`, period,
	).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("%w: invoice sequence: %v", shared.ErrPersistence, err)
	}
	return fmt.Sprintf("INV-%s-%04d", period, seq), nil
}

// HasReceipts reports whether any receipt references the invoice.
func (r *Repository) HasReceipts(ctx context.Context, invoiceID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM receipts WHERE invoice_id = $1)`, invoiceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: check receipts: %v", shared.ErrPersistence, err)
	}
	return exists, nil
}

func (r *Repository) lines(ctx context.Context, invoiceID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, variant_id, quantity, unit_price, discount, note
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("%w: list invoice lines: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		line := Line{InvoiceID: invoiceID}
		if err := rows.Scan(&line.ID, &line.ProductID, &line.VariantID, &line.Quantity, &line.UnitPrice, &line.Discount, &line.Note); err != nil {
			return nil, fmt.Errorf("%w: scan invoice line: %v", shared.ErrPersistence, err)
		}
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list invoice lines: %v", shared.ErrPersistence, err)
	}
	return out, nil
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
	return scanInvoice(row)
}

func (t *txRepo) UpdateRemaining(ctx context.Context, id int64, remaining float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET remaining_amount = $1, updated_at = now() WHERE id = $2`, remaining, id)
	if err != nil {
		return fmt.Errorf("%w: update remaining amount: %v", shared.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Ref, &inv.Number, &inv.ClientID, &inv.OrderID, &inv.TotalPrice,
		&inv.RemainingAmount, &inv.VATAmount, &inv.ShippingFee, &inv.Currency, &inv.Type,
		&inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan invoice: %v", shared.ErrPersistence, err)
	}
	return &inv, nil
}

package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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

// Repository is the pgx implementation of RepositoryPort and CatalogPort.
type Repository struct {
	pool pool
}

// NewRepository builds Repository.
func NewRepository(p pool) *Repository {
	return &Repository{pool: p}
}

// WithTx runs fn inside a repeatable-read transaction spanning the orders
// and invoices tables.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const orderColumns = `id, number, client_id, discounts, currency, vat_enabled, vat_amount, shipping_fee, payment_terms, delivery_date, status, total_price, created_at, updated_at`

// Get returns an order with lines.
func (r *Repository) Get(ctx context.Context, id int64) (*Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	order.Lines, err = orderLines(ctx, r.pool, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListByClient returns a client's orders, newest first, without lines.
func (r *Repository) ListByClient(ctx context.Context, clientID int64) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE client_id = $1 ORDER BY created_at DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list orders: %v", shared.ErrPersistence, err)
	}
	return out, nil
}

// GenerateNumber produces the next ORD-YYMM-SEQ document number.
func (r *Repository) GenerateNumber(ctx context.Context, date time.Time) (string, error) {
	return nextDocNumber(ctx, r.pool, "ORD", date)
}

// UnitPrice returns the catalog list price of a product.
func (r *Repository) UnitPrice(ctx context.Context, productID int64) (float64, error) {
	var price float64
	err := r.pool.QueryRow(ctx, `SELECT price FROM products WHERE id = $1`, productID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.NewValidationError("unknown product %d", productID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: product price: %v", shared.ErrPersistence, err)
	}
	return price, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) InsertOrder(ctx context.Context, order *Order) error {
	discounts, err := json.Marshal(order.Discounts)
	if err != nil {
		return fmt.Errorf("encode discounts: %w", err)
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO orders (number, client_id, discounts, currency, vat_enabled, vat_amount, shipping_fee, payment_terms, delivery_date, status, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`,
		order.Number, order.ClientID, discounts, order.Currency, order.VATEnabled, order.VATAmount,
		order.ShippingFee, order.PaymentTerms, order.DeliveryDate, order.Status, order.TotalPrice,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert order: %v", shared.ErrPersistence, err)
	}
	return t.insertLines(ctx, order)
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (*Order, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	order.Lines, err = orderLines(ctx, t.tx, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (t *txRepo) UpdateOrder(ctx context.Context, order *Order) error {
	discounts, err := json.Marshal(order.Discounts)
	if err != nil {
		return fmt.Errorf("encode discounts: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET client_id = $1, discounts = $2, currency = $3, vat_enabled = $4, vat_amount = $5,
		    shipping_fee = $6, payment_terms = $7, delivery_date = $8, total_price = $9, updated_at = now()
		WHERE id = $10`,
		order.ClientID, discounts, order.Currency, order.VATEnabled, order.VATAmount,
		order.ShippingFee, order.PaymentTerms, order.DeliveryDate, order.TotalPrice, order.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: update order: %v", shared.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, order.ID); err != nil {
		return fmt.Errorf("%w: replace order lines: %v", shared.ErrPersistence, err)
	}
	return t.insertLines(ctx, order)
}

func (t *txRepo) insertLines(ctx context.Context, order *Order) error {
	for i := range order.Lines {
		line := &order.Lines[i]
		err := t.tx.QueryRow(ctx, `
			INSERT INTO order_lines (order_id, product_id, variant_id, quantity, unit_price, note)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			order.ID, line.ProductID, line.VariantID, line.Quantity, line.UnitPrice, line.Note,
		).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("%w: insert order line: %v", shared.ErrPersistence, err)
		}
	}
	return nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("%w: update order status: %v", shared.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *txRepo) DeleteOrder(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, id); err != nil {
		return fmt.Errorf("%w: delete order lines: %v", shared.ErrPersistence, err)
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete order: %v", shared.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

const invoiceColumns = `id, ref, number, client_id, order_id, total_price, remaining_amount, vat_amount, shipping_fee, currency, type, created_at, updated_at`

func (t *txRepo) InsertInvoiceSnapshot(ctx context.Context, inv *invoices.Invoice) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoices (ref, number, client_id, order_id, total_price, remaining_amount, vat_amount, shipping_fee, currency, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`,
		inv.Ref, inv.Number, inv.ClientID, inv.OrderID, inv.TotalPrice, inv.RemainingAmount,
		inv.VATAmount, inv.ShippingFee, inv.Currency, inv.Type,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert invoice: %v", shared.ErrPersistence, err)
	}
	return t.insertInvoiceLines(ctx, inv)
}

func (t *txRepo) GetInvoiceByOrderForUpdate(ctx context.Context, orderID int64) (*invoices.Invoice, error) {
	var inv invoices.Invoice
	err := t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1 FOR UPDATE`, orderID).Scan(
		&inv.ID, &inv.Ref, &inv.Number, &inv.ClientID, &inv.OrderID, &inv.TotalPrice,
		&inv.RemainingAmount, &inv.VATAmount, &inv.ShippingFee, &inv.Currency, &inv.Type,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, invoices.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: invoice by order: %v", shared.ErrPersistence, err)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT id, product_id, variant_id, quantity, unit_price, discount, note
		FROM invoice_lines WHERE invoice_id = $1 ORDER BY id`, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: invoice lines: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()
	for rows.Next() {
		var line invoices.Line
		if err := rows.Scan(&line.ID, &line.ProductID, &line.VariantID, &line.Quantity, &line.UnitPrice, &line.Discount, &line.Note); err != nil {
			return nil, fmt.Errorf("%w: scan invoice line: %v", shared.ErrPersistence, err)
		}
		line.InvoiceID = inv.ID
		inv.Lines = append(inv.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: invoice lines: %v", shared.ErrPersistence, err)
	}
	return &inv, nil
}

func (t *txRepo) SyncInvoiceSnapshot(ctx context.Context, inv *invoices.Invoice) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoices
		SET client_id = $1, total_price = $2, remaining_amount = $3, vat_amount = $4,
		    shipping_fee = $5, currency = $6, updated_at = now()
		WHERE id = $7`,
		inv.ClientID, inv.TotalPrice, inv.RemainingAmount, inv.VATAmount,
		inv.ShippingFee, inv.Currency, inv.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: sync invoice: %v", shared.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return invoices.ErrInvoiceNotFound
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, inv.ID); err != nil {
		return fmt.Errorf("%w: replace invoice lines: %v", shared.ErrPersistence, err)
	}
	return t.insertInvoiceLines(ctx, inv)
}

func (t *txRepo) insertInvoiceLines(ctx context.Context, inv *invoices.Invoice) error {
	for i := range inv.Lines {
		line := &inv.Lines[i]
		err := t.tx.QueryRow(ctx, `
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
	return nil
}

func (t *txRepo) DeleteInvoice(ctx context.Context, invoiceID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("%w: delete invoice lines: %v", shared.ErrPersistence, err)
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, invoiceID)
	if err != nil {
		return fmt.Errorf("%w: delete invoice: %v", shared.ErrPersistence, err)
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
		return fmt.Errorf("orders: client %d %w", clientID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) InvoiceHasReceipts(ctx context.Context, invoiceID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM receipts WHERE invoice_id = $1)`, invoiceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: check receipts: %v", shared.ErrPersistence, err)
	}
	return exists, nil
}

func (t *txRepo) GenerateInvoiceNumber(ctx context.Context, date time.Time) (string, error) {
	return nextDocNumber(ctx, t.tx, "INV", date)
}

func nextDocNumber(ctx context.Context, q queryer, docType string, date time.Time) (string, error) {
	period := date.Format("0601")
	var seq int64
	err := q.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, period, last_seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, period)
		DO UPDATE SET last_seq = document_sequences.last_seq + 1
		RETURNING last_seq`, docType, period,
	).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("%w: %s sequence: %v", shared.ErrPersistence, docType, err)
	}
	return fmt.Sprintf("%s-%s-%04d", docType, period, seq), nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		order     Order
		discounts []byte
	)
	err := row.Scan(&order.ID, &order.Number, &order.ClientID, &discounts, &order.Currency,
		&order.VATEnabled, &order.VATAmount, &order.ShippingFee, &order.PaymentTerms,
		&order.DeliveryDate, &order.Status, &order.TotalPrice, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan order: %v", shared.ErrPersistence, err)
	}
	if len(discounts) > 0 {
		if err := json.Unmarshal(discounts, &order.Discounts); err != nil {
			return nil, fmt.Errorf("decode discounts: %w", err)
		}
	}
	return &order, nil
}

func orderLines(ctx context.Context, q queryer, orderID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT id, product_id, variant_id, quantity, unit_price, note
		FROM order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: list order lines: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.ProductID, &line.VariantID, &line.Quantity, &line.UnitPrice, &line.Note); err != nil {
			return nil, fmt.Errorf("%w: scan order line: %v", shared.ErrPersistence, err)
		}
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list order lines: %v", shared.ErrPersistence, err)
	}
	return out, nil
}

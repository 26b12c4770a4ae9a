package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// Repository is the pgx implementation of RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns a client.
func (r *Repository) Get(ctx context.Context, id int64) (*Client, error) {
	var c Client
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, balance, created_at, updated_at
		FROM clients WHERE id = $1`, id).Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.Balance, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get client: %v", shared.ErrPersistence, err)
	}
	return &c, nil
}

// ListIDs returns all client ids in stable order.
func (r *Repository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list client ids: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan client id: %v", shared.ErrPersistence, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list client ids: %v", shared.ErrPersistence, err)
	}
	return out, nil
}

// LedgerEntries replays a client's invoices and receipts as signed
// movements. Regular invoices add the full amount owed, return invoices
// subtract it, receipts subtract what was paid.
func (r *Repository) LedgerEntries(ctx context.Context, clientID int64) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT kind, ref_id, number, amount, currency, occurred_at FROM (
			SELECT CASE WHEN i.type = 'return' THEN 'return_invoice' ELSE 'invoice' END AS kind,
			       i.id AS ref_id,
			       i.number,
			       CASE WHEN i.type = 'return' THEN -abs(i.total_price) ELSE abs(i.total_price) END AS amount,
			       i.currency,
			       i.created_at AS occurred_at
			FROM invoices i
			WHERE i.client_id = $1
			UNION ALL
			SELECT 'receipt' AS kind,
			       rc.id AS ref_id,
			       i.number,
			       -rc.amount AS amount,
			       rc.currency,
			       rc.paid_at AS occurred_at
			FROM receipts rc
			JOIN invoices i ON i.id = rc.invoice_id
			WHERE rc.client_id = $1
		) ledger
		ORDER BY occurred_at, ref_id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger entries: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var kind string
		if err := rows.Scan(&kind, &e.RefID, &e.Number, &e.Amount, &e.Currency, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("%w: scan ledger entry: %v", shared.ErrPersistence, err)
		}
		e.Kind = EntryKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: ledger entries: %v", shared.ErrPersistence, err)
	}
	return out, nil
}

// SetBalance overwrites the stored balance. Reconciler use only.
func (r *Repository) SetBalance(ctx context.Context, clientID int64, balance float64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE clients SET balance = $1, updated_at = now() WHERE id = $2`, balance, clientID)
	if err != nil {
		return fmt.Errorf("%w: set client balance: %v", shared.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

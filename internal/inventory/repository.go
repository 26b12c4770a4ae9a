package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/qwerty-development/makielli-internal-sub000/internal/platform/db"
	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// TxRepository exposes the transactional operations used by the service.
type TxRepository interface {
	GetVariantForUpdate(ctx context.Context, id int64) (Variant, error)
	UpdateVariantQuantity(ctx context.Context, id int64, quantity int64) error
	InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error)
}

type dbtx interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pool interface {
	dbtx
	db.Pool
}

// Repository persists variants and the adjustment audit trail in PostgreSQL.
type Repository struct {
	pool pool
}

// NewRepository constructs Repository.
func NewRepository(p pool) *Repository {
	return &Repository{pool: p}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. The
// variant row stays locked until commit, serialising concurrent deltas to the
// same variant.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetVariant loads a variant by id.
func (r *Repository) GetVariant(ctx context.Context, id int64) (Variant, error) {
	return scanVariant(r.pool.QueryRow(ctx, `
		SELECT id, product_id, size, color, quantity, updated_at
		FROM product_variants
		WHERE id = $1`, id))
}

// ListAdjustments lists audit-trail rows, newest first.
func (r *Repository) ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error) {
	query := `
		SELECT id, variant_id, delta, source, ref_id, note, new_quantity, created_at
		FROM stock_adjustments`
	var conditions []string
	var args []any
	if filter.VariantID != 0 {
		args = append(args, filter.VariantID)
		conditions = append(conditions, fmt.Sprintf("variant_id = $%d", len(args)))
	}
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		conditions = append(conditions, fmt.Sprintf("source = $%d", len(args)))
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list adjustments: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()

	var adjustments []Adjustment
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(&a.ID, &a.VariantID, &a.Delta, &a.Source, &a.RefID, &a.Note, &a.NewQuantity, &a.CreatedAt); err != nil {
			return nil, err
		}
		adjustments = append(adjustments, a)
	}
	return adjustments, rows.Err()
}

func (r *txRepo) GetVariantForUpdate(ctx context.Context, id int64) (Variant, error) {
	return scanVariant(r.tx.QueryRow(ctx, `
		SELECT id, product_id, size, color, quantity, updated_at
		FROM product_variants
		WHERE id = $1
		FOR UPDATE`, id))
}

func (r *txRepo) UpdateVariantQuantity(ctx context.Context, id int64, quantity int64) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE product_variants SET quantity = $2, updated_at = NOW() WHERE id = $1`, id, quantity)
	if err != nil {
		return fmt.Errorf("%w: update variant quantity: %v", shared.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVariantNotFound
	}
	return nil
}

func (r *txRepo) InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO stock_adjustments (variant_id, delta, source, ref_id, note, new_quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		adj.VariantID, adj.Delta, string(adj.Source), adj.RefID, adj.Note, adj.NewQuantity, adj.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert adjustment: %v", shared.ErrPersistence, err)
	}
	return id, nil
}

func scanVariant(row pgx.Row) (Variant, error) {
	var v Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.Quantity, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Variant{}, ErrVariantNotFound
		}
		return Variant{}, fmt.Errorf("%w: get variant: %v", shared.ErrPersistence, err)
	}
	return v, nil
}

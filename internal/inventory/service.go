package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetVariant(ctx context.Context, id int64) (Variant, error)
	ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdemPort deduplicates retried deltas so the same reference is applied at
// most once.
type IdemPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service is the atomic stock-mutation primitive every higher component
// calls. Each adjustment is a read-modify-write under a row lock in its own
// transaction.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdemPort
	allowNeg    bool
	logger      *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// AllowNegativeStock disables the primitive-level floor check. The
	// counter is not validated against going negative by default; callers
	// that need the guard flip this off.
	AllowNegativeStock bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdemPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, allowNeg: cfg.AllowNegativeStock, logger: logger}
}

// Adjust applies a signed delta to one variant's stock counter and writes the
// audit-trail row. Retrying with the same source and reference id is a no-op
// rejected with ErrDuplicateAdjustment.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Adjustment, error) {
	if input.Delta == 0 {
		return Adjustment{}, ErrInvalidDelta
	}
	if input.VariantID == 0 {
		return Adjustment{}, fmt.Errorf("%w: variant required", shared.ErrValidation)
	}
	if !KnownSource(input.Source) {
		return Adjustment{}, ErrUnknownSource
	}
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return Adjustment{}, fmt.Errorf("inventory: invalid ref id: %w", err)
		}
	}

	insertedKey := false
	key := fmt.Sprintf("%s:%s:%d", input.Source, input.RefID, input.VariantID)
	if s.idempotency != nil && input.RefID != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Adjustment{}, ErrDuplicateAdjustment
			}
			return Adjustment{}, err
		}
		insertedKey = true
	}

	var adj Adjustment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		variant, err := tx.GetVariantForUpdate(ctx, input.VariantID)
		if err != nil {
			return err
		}
		newQty := variant.Quantity + input.Delta
		if !s.allowNeg && newQty < 0 {
			return ErrNegativeStock
		}
		if err := tx.UpdateVariantQuantity(ctx, input.VariantID, newQty); err != nil {
			return err
		}
		adj = Adjustment{
			VariantID:   input.VariantID,
			Delta:       input.Delta,
			Source:      input.Source,
			RefID:       input.RefID,
			Note:        input.Note,
			NewQuantity: newQty,
			CreatedAt:   time.Now().UTC(),
		}
		id, err := tx.InsertAdjustment(ctx, adj)
		if err != nil {
			return err
		}
		adj.ID = id
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Adjustment{}, err
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Action:   fmt.Sprintf("inventory:%s", input.Source),
			Entity:   "variant",
			EntityID: fmt.Sprintf("%d", input.VariantID),
			Meta: map[string]any{
				"delta":   input.Delta,
				"new_qty": adj.NewQuantity,
				"ref_id":  input.RefID,
				"note":    input.Note,
			},
		}); err != nil {
			s.logger.Warn("inventory audit record failed",
				slog.Int64("variant_id", input.VariantID), slog.Any("error", err))
		}
	}
	return adj, nil
}

// ApplyBatch applies deltas for several variants. Inputs naming the same
// variant are summed into a single net delta before any write, so one
// adjustment row is issued per variant. Distinct variants carry no ordering
// dependency and are adjusted in parallel; a failure on one variant is
// recorded and the rest proceed.
func (s *Service) ApplyBatch(ctx context.Context, inputs []AdjustInput) BatchResult {
	merged := make([]AdjustInput, 0, len(inputs))
	index := make(map[int64]int, len(inputs))
	for _, in := range inputs {
		if pos, ok := index[in.VariantID]; ok {
			merged[pos].Delta += in.Delta
			continue
		}
		index[in.VariantID] = len(merged)
		merged = append(merged, in)
	}

	var (
		mu     sync.Mutex
		result BatchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, in := range merged {
		if in.Delta == 0 {
			continue
		}
		g.Go(func() error {
			adj, err := s.Adjust(gctx, in)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("inventory adjustment failed",
					slog.Int64("variant_id", in.VariantID),
					slog.Int64("delta", in.Delta),
					slog.String("source", string(in.Source)),
					slog.Any("error", err))
				result.Failed = append(result.Failed, BatchFailure{VariantID: in.VariantID, Err: err})
				return nil
			}
			result.Applied = append(result.Applied, adj)
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// GetVariant returns a variant with its current stock counter.
func (s *Service) GetVariant(ctx context.Context, id int64) (Variant, error) {
	return s.repo.GetVariant(ctx, id)
}

// ListAdjustments lists audit-trail rows.
func (s *Service) ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error) {
	return s.repo.ListAdjustments(ctx, filter)
}

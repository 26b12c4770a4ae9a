package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// RepositoryPort abstracts persistence for the tracker. Create also applies
// the invoice's signed total to the client's stored balance in the same
// transaction, keeping the balance current between reconciler runs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Invoice, error)
	GetByOrderID(ctx context.Context, orderID int64) (*Invoice, error)
	ListByClient(ctx context.Context, clientID int64) ([]Invoice, error)
	Create(ctx context.Context, inv Invoice) (*Invoice, error)
	GenerateNumber(ctx context.Context, date time.Time) (string, error)
	HasReceipts(ctx context.Context, invoiceID int64) (bool, error)
}

// CachePort invalidates derived client statements after ledger mutations.
type CachePort interface {
	Bump(ctx context.Context) error
}

// Service tracks each invoice's outstanding balance.
type Service struct {
	repo   RepositoryPort
	cache  CachePort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, cache CachePort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// CreateInput describes a directly entered invoice (no originating order).
type CreateInput struct {
	ClientID    int64
	Lines       []Line
	VATAmount   float64
	ShippingFee float64
	Currency    string
	Type        Type
}

// Create persists a direct invoice. Regular invoices start fully outstanding;
// return invoices carry a negative total and are never paid down.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Invoice, error) {
	if input.ClientID == 0 {
		return nil, shared.NewValidationError("client id required")
	}
	if len(input.Lines) == 0 {
		return nil, shared.NewValidationError("at least one line required")
	}
	if !shared.ValidCurrency(input.Currency) {
		return nil, shared.NewValidationError("unsupported currency %q", input.Currency)
	}
	if input.Type != TypeRegular && input.Type != TypeReturn {
		return nil, shared.NewValidationError("unknown invoice type %q", input.Type)
	}

	var subtotal float64
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return nil, shared.NewValidationError("line quantity must be positive")
		}
		subtotal += float64(line.Quantity) * (line.UnitPrice - line.Discount)
	}
	total := shared.Round2(subtotal + input.VATAmount + input.ShippingFee)

	inv := Invoice{
		Ref:         uuid.NewString(),
		ClientID:    input.ClientID,
		Lines:       input.Lines,
		VATAmount:   input.VATAmount,
		ShippingFee: input.ShippingFee,
		Currency:    input.Currency,
		Type:        input.Type,
	}
	switch input.Type {
	case TypeReturn:
		inv.TotalPrice = -math.Abs(total)
		inv.RemainingAmount = 0
	default:
		inv.TotalPrice = total
		inv.RemainingAmount = total
	}

	number, err := s.repo.GenerateNumber(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("generate invoice number: %w", err)
	}
	inv.Number = number

	created, err := s.repo.Create(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	s.bump(ctx)
	return created, nil
}

// Get returns an invoice with lines.
func (s *Service) Get(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.Get(ctx, id)
}

// GetByOrderID locates the invoice produced by an order. Lookup is by the
// order id back-reference, never by a user-editable field.
func (s *Service) GetByOrderID(ctx context.Context, orderID int64) (*Invoice, error) {
	return s.repo.GetByOrderID(ctx, orderID)
}

// ListByClient returns all invoices of a client.
func (s *Service) ListByClient(ctx context.Context, clientID int64) ([]Invoice, error) {
	return s.repo.ListByClient(ctx, clientID)
}

// ApplyPayment applies a signed payment/adjustment amount to the
// outstanding balance. Positive amounts settle, negative amounts restore.
// The result is clamped into [0, |total|] and rounded to 2 decimal places.
func (s *Service) ApplyPayment(ctx context.Context, invoiceID int64, amount float64) (*Invoice, error) {
	if amount == 0 {
		return nil, shared.NewValidationError("adjustment amount must be non zero")
	}
	var updated *Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Type == TypeReturn {
			return ErrReturnInvoice
		}
		inv.RemainingAmount = ClampRemaining(inv.RemainingAmount-amount, inv.TotalPrice)
		if err := tx.UpdateRemaining(ctx, inv.ID, inv.RemainingAmount); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.bump(ctx)
	return updated, nil
}

func (s *Service) bump(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("statement cache bump failed", slog.Any("error", err))
	}
}

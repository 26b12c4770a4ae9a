package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/qwerty-development/makielli-internal-sub000/internal/invoices"
	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// InvoicePort reads invoice state for validation.
type InvoicePort interface {
	Get(ctx context.Context, id int64) (*invoices.Invoice, error)
}

// RepositoryPort abstracts receipt persistence. The transactional slice
// spans receipts, invoices and clients so a receipt and its balance effects
// commit or fail together.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Receipt, error)
	ListByInvoice(ctx context.Context, invoiceID int64) ([]Receipt, error)
}

// TxRepository is the transactional slice of the repository.
type TxRepository interface {
	InsertReceipt(ctx context.Context, rec *Receipt) error
	GetReceiptForUpdate(ctx context.Context, id int64) (*Receipt, error)
	DeleteReceipt(ctx context.Context, id int64) error
	GetInvoiceForUpdate(ctx context.Context, invoiceID int64) (*invoices.Invoice, error)
	UpdateInvoiceRemaining(ctx context.Context, invoiceID int64, remaining float64) error
	AdjustClientBalance(ctx context.Context, clientID int64, delta float64) error
}

// AuditPort records receipt events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CachePort invalidates derived client statements.
type CachePort interface {
	Bump(ctx context.Context) error
}

// Service validates and records receipts.
type Service struct {
	repo     RepositoryPort
	invoices InvoicePort
	audit    AuditPort
	cache    CachePort
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, inv InvoicePort, audit AuditPort, cache CachePort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invoices: inv, audit: audit, cache: cache, logger: logger}
}

// CreateInput describes a receipt to record.
type CreateInput struct {
	InvoiceID int64
	Amount    float64
	Currency  string
	PaidAt    time.Time
	Note      *string
}

// Create validates fail-closed, then records the receipt, decrements the
// invoice's remaining amount and the client's balance in one transaction.
// Warnings are returned alongside the receipt.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Receipt, []string, error) {
	res, err := s.Validate(ctx, input.InvoiceID, input.Amount, input.Currency)
	if err != nil {
		return nil, nil, err
	}
	if !res.OK() {
		return nil, res.Warnings, shared.NewValidationError("receipt rejected: %s", strings.Join(res.Errors, "; "))
	}

	rec := &Receipt{
		InvoiceID: input.InvoiceID,
		Amount:    shared.Round2(input.Amount),
		Currency:  input.Currency,
		PaidAt:    input.PaidAt,
		Note:      input.Note,
	}
	if rec.PaidAt.IsZero() {
		rec.PaidAt = time.Now()
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Type == invoices.TypeReturn {
			return invoices.ErrReturnInvoice
		}
		// The pre-transaction check may have read a stale snapshot; the
		// locked row is authoritative.
		if rec.Amount > inv.RemainingAmount {
			return shared.NewValidationError("amount %.2f exceeds remaining %.2f", rec.Amount, inv.RemainingAmount)
		}
		rec.ClientID = inv.ClientID
		if err := tx.InsertReceipt(ctx, rec); err != nil {
			return err
		}
		remaining := invoices.ClampRemaining(inv.RemainingAmount-rec.Amount, inv.TotalPrice)
		if err := tx.UpdateInvoiceRemaining(ctx, inv.ID, remaining); err != nil {
			return err
		}
		return tx.AdjustClientBalance(ctx, inv.ClientID, -rec.Amount)
	})
	if err != nil {
		return nil, nil, err
	}

	s.recordAudit(ctx, "receipt.create", rec.ID, map[string]any{"invoice_id": rec.InvoiceID, "amount": rec.Amount})
	s.bump(ctx)
	return rec, res.Warnings, nil
}

// Delete removes a receipt and restores its effects: the invoice's
// remaining amount grows back, capped at |total|, and the client's balance
// is restored.
func (s *Service) Delete(ctx context.Context, receiptID int64) error {
	var rec *Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, err = tx.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		inv, err := tx.GetInvoiceForUpdate(ctx, rec.InvoiceID)
		if err != nil {
			return err
		}
		if err := tx.DeleteReceipt(ctx, receiptID); err != nil {
			return err
		}
		remaining := invoices.ClampRemaining(inv.RemainingAmount+rec.Amount, inv.TotalPrice)
		if err := tx.UpdateInvoiceRemaining(ctx, inv.ID, remaining); err != nil {
			return err
		}
		return tx.AdjustClientBalance(ctx, rec.ClientID, rec.Amount)
	})
	if err != nil {
		return err
	}

	s.recordAudit(ctx, "receipt.delete", receiptID, map[string]any{"invoice_id": rec.InvoiceID, "amount": rec.Amount})
	s.bump(ctx)
	return nil
}

// Update replaces a receipt, including moves to another invoice. The new
// leg is validated before the old one is released so a doomed update leaves
// the original receipt untouched.
func (s *Service) Update(ctx context.Context, receiptID int64, input CreateInput) (*Receipt, []string, error) {
	current, err := s.repo.Get(ctx, receiptID)
	if err != nil {
		return nil, nil, err
	}

	var extra float64
	if current.InvoiceID == input.InvoiceID {
		// Releasing the old receipt frees headroom on the same invoice.
		extra = current.Amount
	}
	res, err := s.validate(ctx, input.InvoiceID, input.Amount, input.Currency, extra)
	if err != nil {
		return nil, nil, err
	}
	if !res.OK() {
		return nil, res.Warnings, shared.NewValidationError("receipt rejected: %s", strings.Join(res.Errors, "; "))
	}

	if err := s.Delete(ctx, receiptID); err != nil {
		return nil, nil, err
	}
	rec, warnings, err := s.Create(ctx, input)
	if err != nil {
		// The old receipt is already released. Surface loudly so the
		// operator can re-enter it.
		s.logger.Error("receipt update lost original after release",
			slog.Int64("receipt_id", receiptID), slog.Any("error", err))
		return nil, warnings, fmt.Errorf("receipt %d released but replacement failed: %w", receiptID, err)
	}
	return rec, warnings, nil
}

// Get returns a receipt.
func (s *Service) Get(ctx context.Context, id int64) (*Receipt, error) {
	return s.repo.Get(ctx, id)
}

// ListByInvoice returns an invoice's receipts.
func (s *Service) ListByInvoice(ctx context.Context, invoiceID int64) ([]Receipt, error) {
	return s.repo.ListByInvoice(ctx, invoiceID)
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}

func (s *Service) recordAudit(ctx context.Context, action string, receiptID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{Action: action, Entity: "receipt", EntityID: fmt.Sprint(receiptID), Meta: meta}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) bump(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("statement cache bump failed", slog.Any("error", err))
	}
}

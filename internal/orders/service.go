package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qwerty-development/makielli-internal-sub000/internal/inventory"
	"github.com/qwerty-development/makielli-internal-sub000/internal/invoices"
	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// RepositoryPort abstracts order persistence. Invoice snapshot writes ride
// in the same transaction as the status change, so the tx slice spans both
// tables.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Order, error)
	ListByClient(ctx context.Context, clientID int64) ([]Order, error)
	GenerateNumber(ctx context.Context, date time.Time) (string, error)
}

// TxRepository is the transactional slice of the repository.
type TxRepository interface {
	InsertOrder(ctx context.Context, order *Order) error
	GetOrderForUpdate(ctx context.Context, id int64) (*Order, error)
	UpdateOrder(ctx context.Context, order *Order) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	DeleteOrder(ctx context.Context, id int64) error

	InsertInvoiceSnapshot(ctx context.Context, inv *invoices.Invoice) error
	GetInvoiceByOrderForUpdate(ctx context.Context, orderID int64) (*invoices.Invoice, error)
	SyncInvoiceSnapshot(ctx context.Context, inv *invoices.Invoice) error
	DeleteInvoice(ctx context.Context, invoiceID int64) error
	InvoiceHasReceipts(ctx context.Context, invoiceID int64) (bool, error)
	GenerateInvoiceNumber(ctx context.Context, date time.Time) (string, error)
	AdjustClientBalance(ctx context.Context, clientID int64, delta float64) error
}

// CatalogPort resolves the list price of a product. Prices are captured on
// the order at write time, never read back from the catalog afterwards.
type CatalogPort interface {
	UnitPrice(ctx context.Context, productID int64) (float64, error)
}

// InventoryPort applies stock deltas after an order transition commits.
type InventoryPort interface {
	ApplyBatch(ctx context.Context, inputs []inventory.AdjustInput) inventory.BatchResult
}

// AuditPort records lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CachePort invalidates derived client statements.
type CachePort interface {
	Bump(ctx context.Context) error
}

// ServiceConfig carries pricing knobs.
type ServiceConfig struct {
	VATRate float64
}

// Service owns the quotation lifecycle.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	stock   InventoryPort
	audit   AuditPort
	cache   CachePort
	cfg     ServiceConfig
	logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, catalog CatalogPort, stock InventoryPort, audit AuditPort, cache CachePort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, catalog: catalog, stock: stock, audit: audit, cache: cache, cfg: cfg, logger: logger}
}

// LineInput is a requested order line. Unit prices come from the catalog.
type LineInput struct {
	ProductID int64
	VariantID int64
	Quantity  int64
	Note      *string
}

// OrderInput is the editable shape of an order.
type OrderInput struct {
	ClientID     int64
	Lines        []LineInput
	Discounts    map[int64]float64
	Currency     string
	VATEnabled   bool
	ShippingFee  float64
	PaymentTerms PaymentTerms
	DeliveryDate *time.Time
}

func (s *Service) validateInput(input OrderInput) error {
	if input.ClientID == 0 {
		return shared.NewValidationError("client id required")
	}
	if len(input.Lines) == 0 {
		return shared.NewValidationError("at least one line required")
	}
	for _, l := range input.Lines {
		if l.Quantity <= 0 {
			return shared.NewValidationError("line quantity must be positive")
		}
	}
	if !shared.ValidCurrency(input.Currency) {
		return shared.NewValidationError("unsupported currency %q", input.Currency)
	}
	if !KnownTerms(input.PaymentTerms) {
		return shared.NewValidationError("unknown payment terms %q", input.PaymentTerms)
	}
	if input.ShippingFee < 0 {
		return shared.NewValidationError("shipping fee must not be negative")
	}
	return nil
}

// priceLines resolves catalog prices and applies the totals to the order.
func (s *Service) priceLines(ctx context.Context, input OrderInput) ([]Line, Totals, error) {
	lines := make([]Line, 0, len(input.Lines))
	for _, l := range input.Lines {
		price, err := s.catalog.UnitPrice(ctx, l.ProductID)
		if err != nil {
			return nil, Totals{}, fmt.Errorf("price product %d: %w", l.ProductID, err)
		}
		lines = append(lines, Line{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			UnitPrice: price,
			Note:      l.Note,
		})
	}
	return lines, ComputeTotals(lines, input.Discounts, input.VATEnabled, s.cfg.VATRate, input.ShippingFee), nil
}

// Create records a new pending quotation. Pricing only, no stock or invoice
// side effects.
func (s *Service) Create(ctx context.Context, input OrderInput) (*Order, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	lines, totals, err := s.priceLines(ctx, input)
	if err != nil {
		return nil, err
	}
	number, err := s.repo.GenerateNumber(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("generate order number: %w", err)
	}
	order := &Order{
		Number:       number,
		ClientID:     input.ClientID,
		Lines:        lines,
		Discounts:    input.Discounts,
		Currency:     input.Currency,
		VATEnabled:   input.VATEnabled,
		VATAmount:    totals.VATAmount,
		ShippingFee:  input.ShippingFee,
		PaymentTerms: input.PaymentTerms,
		DeliveryDate: input.DeliveryDate,
		Status:       StatusPending,
		TotalPrice:   totals.Total,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "order.create", order.ID, map[string]any{"number": order.Number, "total": order.TotalPrice})
	return order, nil
}

// UpdatePending re-prices a quotation that has not been accepted yet.
func (s *Service) UpdatePending(ctx context.Context, orderID int64, input OrderInput) (*Order, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	lines, totals, err := s.priceLines(ctx, input)
	if err != nil {
		return nil, err
	}
	var updated *Order
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusPending {
			return ErrNotPending
		}
		order.ClientID = input.ClientID
		order.Lines = lines
		order.Discounts = input.Discounts
		order.Currency = input.Currency
		order.VATEnabled = input.VATEnabled
		order.VATAmount = totals.VATAmount
		order.ShippingFee = input.ShippingFee
		order.PaymentTerms = input.PaymentTerms
		order.DeliveryDate = input.DeliveryDate
		order.TotalPrice = totals.Total
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "order.update", orderID, map[string]any{"total": updated.TotalPrice})
	return updated, nil
}

// AcceptResult reports an accepted order alongside the invoice created for it.
type AcceptResult struct {
	Order   *Order            `json:"order"`
	Invoice *invoices.Invoice `json:"invoice"`
}

// Accept flips a pending order to accepted and creates its invoice, both in
// one transaction. Stock deltas are applied after commit; a variant that
// fails there does not roll back the accepted order and is reported as a
// partial error.
func (s *Service) Accept(ctx context.Context, orderID int64) (*AcceptResult, error) {
	var (
		order *Order
		inv   *invoices.Invoice
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusPending {
			return ErrNotPending
		}
		if err := tx.UpdateStatus(ctx, orderID, StatusAccepted); err != nil {
			return err
		}
		order.Status = StatusAccepted

		number, err := tx.GenerateInvoiceNumber(ctx, time.Now())
		if err != nil {
			return err
		}
		inv = invoiceSnapshot(order)
		inv.Ref = uuid.NewString()
		inv.Number = number
		inv.RemainingAmount = inv.TotalPrice
		if err := tx.InsertInvoiceSnapshot(ctx, inv); err != nil {
			return err
		}
		// The invoice raises what the client owes in the same commit.
		return tx.AdjustClientBalance(ctx, order.ClientID, inv.TotalPrice)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "order.accept", orderID, map[string]any{"invoice": inv.Number, "total": inv.TotalPrice})
	s.bump(ctx)

	result := s.stock.ApplyBatch(ctx, stockInputs(order.Lines, nil, inventory.SourceOrderAccept, inv.Ref, "order "+order.Number+" accepted"))
	if perr := result.Err(); perr != nil {
		s.logger.Error("stock deltas incomplete after order accept",
			slog.Int64("order_id", orderID), slog.Any("error", perr))
		return &AcceptResult{Order: order, Invoice: inv}, perr
	}
	return &AcceptResult{Order: order, Invoice: inv}, nil
}

// UpdateAccepted edits an accepted order. The order and its invoice snapshot
// change in one transaction; already-paid amounts survive via
// remaining = clamp(newTotal - paid). Stock moves by the per-variant net
// difference after commit, tagged order_edit, one adjustment per variant.
func (s *Service) UpdateAccepted(ctx context.Context, orderID int64, input OrderInput) (*Order, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	lines, totals, err := s.priceLines(ctx, input)
	if err != nil {
		return nil, err
	}
	var (
		updated  *Order
		oldLines []Line
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusAccepted {
			return ErrNotAccepted
		}
		oldLines = order.Lines

		order.Lines = lines
		order.Discounts = input.Discounts
		order.Currency = input.Currency
		order.VATEnabled = input.VATEnabled
		order.VATAmount = totals.VATAmount
		order.ShippingFee = input.ShippingFee
		order.PaymentTerms = input.PaymentTerms
		order.DeliveryDate = input.DeliveryDate
		order.TotalPrice = totals.Total
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		inv, err := tx.GetInvoiceByOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		paid := invoices.AmountPaid(*inv)
		next := invoiceSnapshot(order)
		next.ID = inv.ID
		next.Ref = inv.Ref
		next.Number = inv.Number
		next.RemainingAmount = invoices.ClampRemaining(next.TotalPrice-paid, next.TotalPrice)
		if err := tx.SyncInvoiceSnapshot(ctx, next); err != nil {
			return err
		}
		if delta := shared.Round2(next.TotalPrice - inv.TotalPrice); delta != 0 {
			if err := tx.AdjustClientBalance(ctx, order.ClientID, delta); err != nil {
				return err
			}
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, "order.update", orderID, map[string]any{"total": updated.TotalPrice})
	s.bump(ctx)

	// Each edit carries its own reference so retried edits stay distinct
	// in the adjustment trail.
	editRef := uuid.NewString()
	result := s.stock.ApplyBatch(ctx, stockInputs(updated.Lines, oldLines, inventory.SourceOrderEdit, editRef, "order "+updated.Number+" edited"))
	if perr := result.Err(); perr != nil {
		s.logger.Error("stock deltas incomplete after order edit",
			slog.Int64("order_id", orderID), slog.Any("error", perr))
		return updated, perr
	}
	return updated, nil
}

// Delete removes an order. Pending and rejected orders are plain row
// deletes. Accepted orders are refused while receipts exist on their
// invoice; otherwise the invoice and order go in one transaction and the
// reserved stock is returned after commit.
func (s *Service) Delete(ctx context.Context, orderID int64) error {
	var (
		reversed []invoices.Line
		ref      string
		number   string
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusAccepted {
			return tx.DeleteOrder(ctx, orderID)
		}
		inv, err := tx.GetInvoiceByOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		has, err := tx.InvoiceHasReceipts(ctx, inv.ID)
		if err != nil {
			return err
		}
		if has {
			return ErrHasReceipts
		}
		if err := tx.DeleteInvoice(ctx, inv.ID); err != nil {
			return err
		}
		if err := tx.DeleteOrder(ctx, orderID); err != nil {
			return err
		}
		if err := tx.AdjustClientBalance(ctx, order.ClientID, -inv.TotalPrice); err != nil {
			return err
		}
		reversed = inv.Lines
		ref = inv.Ref
		number = order.Number
		return nil
	})
	if err != nil {
		return err
	}

	s.recordAudit(ctx, "order.delete", orderID, nil)
	s.bump(ctx)

	if len(reversed) == 0 {
		return nil
	}
	inputs := make([]inventory.AdjustInput, 0, len(reversed))
	merged := map[int64]int64{}
	for _, l := range reversed {
		merged[l.VariantID] += l.Quantity
	}
	for variantID, qty := range merged {
		inputs = append(inputs, inventory.AdjustInput{
			VariantID: variantID,
			Delta:     qty,
			Source:    inventory.SourceOrderReverse,
			RefID:     ref,
			Note:      "order " + number + " deleted",
		})
	}
	result := s.stock.ApplyBatch(ctx, inputs)
	if perr := result.Err(); perr != nil {
		s.logger.Error("stock restore incomplete after order delete",
			slog.Int64("order_id", orderID), slog.Any("error", perr))
		return perr
	}
	return nil
}

// Reject moves a pending order to rejected. Status write only.
func (s *Service) Reject(ctx context.Context, orderID int64) (*Order, error) {
	var order *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusPending {
			return ErrNotPending
		}
		if err := tx.UpdateStatus(ctx, orderID, StatusRejected); err != nil {
			return err
		}
		order.Status = StatusRejected
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "order.reject", orderID, nil)
	return order, nil
}

// Get returns an order with lines.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// ListByClient returns a client's orders.
func (s *Service) ListByClient(ctx context.Context, clientID int64) ([]Order, error) {
	return s.repo.ListByClient(ctx, clientID)
}

// invoiceSnapshot copies the order's commercial state onto an invoice.
func invoiceSnapshot(order *Order) *invoices.Invoice {
	orderID := order.ID
	lines := make([]invoices.Line, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, invoices.Line{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Discount:  effectiveDiscount(order.Discounts[l.ProductID], l.UnitPrice),
			Note:      l.Note,
		})
	}
	return &invoices.Invoice{
		ClientID:    order.ClientID,
		OrderID:     &orderID,
		Lines:       lines,
		TotalPrice:  order.TotalPrice,
		VATAmount:   order.VATAmount,
		ShippingFee: order.ShippingFee,
		Currency:    order.Currency,
		Type:        invoices.TypeRegular,
	}
}

// stockInputs builds net per-variant deltas. newLines consume stock
// (negative), oldLines return it (positive); a variant on both sides moves
// by the difference in a single adjustment.
func stockInputs(newLines, oldLines []Line, source inventory.Source, refID, note string) []inventory.AdjustInput {
	net := map[int64]int64{}
	for _, l := range newLines {
		net[l.VariantID] -= l.Quantity
	}
	for _, l := range oldLines {
		net[l.VariantID] += l.Quantity
	}
	inputs := make([]inventory.AdjustInput, 0, len(net))
	for variantID, delta := range net {
		if delta == 0 {
			continue
		}
		inputs = append(inputs, inventory.AdjustInput{
			VariantID: variantID,
			Delta:     delta,
			Source:    source,
			RefID:     refID,
			Note:      note,
		})
	}
	return inputs
}

func (s *Service) recordAudit(ctx context.Context, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{Action: action, Entity: "order", EntityID: fmt.Sprint(orderID), Meta: meta}
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

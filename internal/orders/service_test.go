package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qwerty-development/makielli-internal-sub000/internal/inventory"
	"github.com/qwerty-development/makielli-internal-sub000/internal/invoices"
)

type memoryRepo struct {
	orders      map[int64]*Order
	invoices    map[int64]*invoices.Invoice
	receiptRefs map[int64]int
	balances    map[int64]float64
	nextOrderID int64
	nextInvoice int64
	orderSeq    int64
	invoiceSeq  int64
	prices      map[int64]float64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders:      make(map[int64]*Order),
		invoices:    make(map[int64]*invoices.Invoice),
		receiptRefs: make(map[int64]int),
		balances:    make(map[int64]float64),
		prices:      map[int64]float64{1: 20.00, 2: 55.00},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// Snapshot state so a failed callback rolls everything back, matching
	// the transactional repository.
	ordersCopy := make(map[int64]*Order, len(r.orders))
	for id, o := range r.orders {
		clone := *o
		ordersCopy[id] = &clone
	}
	invoicesCopy := make(map[int64]*invoices.Invoice, len(r.invoices))
	for id, inv := range r.invoices {
		clone := *inv
		invoicesCopy[id] = &clone
	}
	balancesCopy := make(map[int64]float64, len(r.balances))
	for id, b := range r.balances {
		balancesCopy[id] = b
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.orders = ordersCopy
		r.invoices = invoicesCopy
		r.balances = balancesCopy
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (*Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	clone := *o
	return &clone, nil
}

func (r *memoryRepo) ListByClient(ctx context.Context, clientID int64) ([]Order, error) {
	var out []Order
	for _, o := range r.orders {
		if o.ClientID == clientID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *memoryRepo) GenerateNumber(ctx context.Context, date time.Time) (string, error) {
	r.orderSeq++
	return fmt.Sprintf("ORD-%s-%04d", date.Format("0601"), r.orderSeq), nil
}

func (r *memoryRepo) UnitPrice(ctx context.Context, productID int64) (float64, error) {
	price, ok := r.prices[productID]
	if !ok {
		return 0, fmt.Errorf("unknown product %d", productID)
	}
	return price, nil
}

func (r *memoryRepo) invoiceByOrder(orderID int64) (*invoices.Invoice, bool) {
	for _, inv := range r.invoices {
		if inv.OrderID != nil && *inv.OrderID == orderID {
			return inv, true
		}
	}
	return nil, false
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) InsertOrder(ctx context.Context, order *Order) error {
	t.repo.nextOrderID++
	order.ID = t.repo.nextOrderID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	clone := *order
	t.repo.orders[order.ID] = &clone
	return nil
}

func (t *memoryTx) GetOrderForUpdate(ctx context.Context, id int64) (*Order, error) {
	return t.repo.Get(ctx, id)
}

func (t *memoryTx) UpdateOrder(ctx context.Context, order *Order) error {
	if _, ok := t.repo.orders[order.ID]; !ok {
		return ErrOrderNotFound
	}
	clone := *order
	t.repo.orders[order.ID] = &clone
	return nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, id int64, status Status) error {
	o, ok := t.repo.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	return nil
}

func (t *memoryTx) DeleteOrder(ctx context.Context, id int64) error {
	if _, ok := t.repo.orders[id]; !ok {
		return ErrOrderNotFound
	}
	delete(t.repo.orders, id)
	return nil
}

func (t *memoryTx) InsertInvoiceSnapshot(ctx context.Context, inv *invoices.Invoice) error {
	t.repo.nextInvoice++
	inv.ID = t.repo.nextInvoice
	clone := *inv
	t.repo.invoices[inv.ID] = &clone
	return nil
}

func (t *memoryTx) GetInvoiceByOrderForUpdate(ctx context.Context, orderID int64) (*invoices.Invoice, error) {
	inv, ok := t.repo.invoiceByOrder(orderID)
	if !ok {
		return nil, invoices.ErrInvoiceNotFound
	}
	clone := *inv
	return &clone, nil
}

func (t *memoryTx) SyncInvoiceSnapshot(ctx context.Context, inv *invoices.Invoice) error {
	if _, ok := t.repo.invoices[inv.ID]; !ok {
		return invoices.ErrInvoiceNotFound
	}
	clone := *inv
	t.repo.invoices[inv.ID] = &clone
	return nil
}

func (t *memoryTx) DeleteInvoice(ctx context.Context, invoiceID int64) error {
	if _, ok := t.repo.invoices[invoiceID]; !ok {
		return invoices.ErrInvoiceNotFound
	}
	delete(t.repo.invoices, invoiceID)
	return nil
}

func (t *memoryTx) InvoiceHasReceipts(ctx context.Context, invoiceID int64) (bool, error) {
	return t.repo.receiptRefs[invoiceID] > 0, nil
}

func (t *memoryTx) GenerateInvoiceNumber(ctx context.Context, date time.Time) (string, error) {
	t.repo.invoiceSeq++
	return fmt.Sprintf("INV-%s-%04d", date.Format("0601"), t.repo.invoiceSeq), nil
}

func (t *memoryTx) AdjustClientBalance(ctx context.Context, clientID int64, delta float64) error {
	t.repo.balances[clientID] += delta
	return nil
}

// memoryStock applies batches onto a plain quantity map and records every
// input the ledger sends.
type memoryStock struct {
	quantities map[int64]int64
	batches    [][]inventory.AdjustInput
}

func newMemoryStock(quantities map[int64]int64) *memoryStock {
	return &memoryStock{quantities: quantities}
}

func (s *memoryStock) ApplyBatch(ctx context.Context, inputs []inventory.AdjustInput) inventory.BatchResult {
	s.batches = append(s.batches, inputs)
	var result inventory.BatchResult
	for _, in := range inputs {
		if _, ok := s.quantities[in.VariantID]; !ok {
			result.Failed = append(result.Failed, inventory.BatchFailure{VariantID: in.VariantID, Err: inventory.ErrVariantNotFound})
			continue
		}
		s.quantities[in.VariantID] += in.Delta
		result.Applied = append(result.Applied, inventory.Adjustment{
			VariantID:   in.VariantID,
			Delta:       in.Delta,
			Source:      in.Source,
			RefID:       in.RefID,
			NewQuantity: s.quantities[in.VariantID],
		})
	}
	return result
}

func newTestService(repo *memoryRepo, stock *memoryStock) *Service {
	return NewService(repo, repo, stock, nil, nil, ServiceConfig{VATRate: 0.11}, nil)
}

func twoUnitOrder() OrderInput {
	return OrderInput{
		ClientID:     7,
		Lines:        []LineInput{{ProductID: 1, VariantID: 1, Quantity: 2}},
		Currency:     "USD",
		PaymentTerms: TermsImmediate,
	}
}

func TestAcceptCreatesInvoiceAndConsumesStock(t *testing.T) {
	repo := newMemoryRepo()
	stock := newMemoryStock(map[int64]int64{1: 10})
	svc := newTestService(repo, stock)
	ctx := context.Background()

	order, err := svc.Create(ctx, twoUnitOrder())
	require.NoError(t, err)
	require.Equal(t, StatusPending, order.Status)
	require.InDelta(t, 40.00, order.TotalPrice, 0.001)

	result, err := svc.Accept(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, result.Order.Status)

	inv := result.Invoice
	require.NotNil(t, inv)
	require.InDelta(t, 40.00, inv.TotalPrice, 0.001)
	require.InDelta(t, 40.00, inv.RemainingAmount, 0.001)
	require.Equal(t, invoices.TypeRegular, inv.Type)
	require.NotEmpty(t, inv.Ref)
	require.NotNil(t, inv.OrderID)
	require.Equal(t, order.ID, *inv.OrderID)

	require.EqualValues(t, 8, stock.quantities[1])
	require.Len(t, stock.batches, 1)
	require.Equal(t, inventory.SourceOrderAccept, stock.batches[0][0].Source)
	require.Equal(t, inv.Ref, stock.batches[0][0].RefID)

	// The stored balance reflects the invoice as soon as the accept commits.
	require.InDelta(t, 40.00, repo.balances[7], 0.001)
}

func TestAcceptIsOneShot(t *testing.T) {
	repo := newMemoryRepo()
	stock := newMemoryStock(map[int64]int64{1: 10})
	svc := newTestService(repo, stock)
	ctx := context.Background()

	order, err := svc.Create(ctx, twoUnitOrder())
	require.NoError(t, err)

	_, err = svc.Accept(ctx, order.ID)
	require.NoError(t, err)

	_, err = svc.Accept(ctx, order.ID)
	require.ErrorIs(t, err, ErrNotPending)

	// No second invoice, no second stock batch.
	require.Len(t, repo.invoices, 1)
	require.Len(t, stock.batches, 1)
	require.EqualValues(t, 8, stock.quantities[1])
}

func TestAcceptThenDeleteRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	stock := newMemoryStock(map[int64]int64{1: 10})
	svc := newTestService(repo, stock)
	ctx := context.Background()

	order, err := svc.Create(ctx, twoUnitOrder())
	require.NoError(t, err)
	_, err = svc.Accept(ctx, order.ID)
	require.NoError(t, err)
	require.EqualValues(t, 8, stock.quantities[1])

	require.NoError(t, svc.Delete(ctx, order.ID))

	require.EqualValues(t, 10, stock.quantities[1])
	require.Empty(t, repo.orders)
	require.Empty(t, repo.invoices)
	require.Equal(t, inventory.SourceOrderReverse, stock.batches[1][0].Source)
	require.InDelta(t, 0, repo.balances[7], 0.001)
}

func TestDeleteGuardedByReceipts(t *testing.T) {
	repo := newMemoryRepo()
	stock := newMemoryStock(map[int64]int64{1: 10})
	svc := newTestService(repo, stock)
	ctx := context.Background()

	order, err := svc.Create(ctx, twoUnitOrder())
	require.NoError(t, err)
	result, err := svc.Accept(ctx, order.ID)
	require.NoError(t, err)

	repo.receiptRefs[result.Invoice.ID] = 1

	err = svc.Delete(ctx, order.ID)
	require.ErrorIs(t, err, ErrHasReceipts)

	// Nothing moved: order, invoice, stock and balance are untouched.
	require.Len(t, repo.orders, 1)
	require.Len(t, repo.invoices, 1)
	require.EqualValues(t, 8, stock.quantities[1])
	require.Len(t, stock.batches, 1)
	require.InDelta(t, 40.00, repo.balances[7], 0.001)
}

func TestUpdateAcceptedAppliesNetDelta(t *testing.T) {
	repo := newMemoryRepo()
	stock := newMemoryStock(map[int64]int64{1: 10})
	svc := newTestService(repo, stock)
	ctx := context.Background()

	order, err := svc.Create(ctx, twoUnitOrder())
	require.NoError(t, err)
	result, err := svc.Accept(ctx, order.ID)
	require.NoError(t, err)
	require.EqualValues(t, 8, stock.quantities[1])

	input := twoUnitOrder()
	input.Lines[0].Quantity = 5
	updated, err := svc.UpdateAccepted(ctx, order.ID, input)
	require.NoError(t, err)
	require.InDelta(t, 100.00, updated.TotalPrice, 0.001)

	// One net adjustment of -3, not -5 and +2.
	require.Len(t, stock.batches, 2)
	require.Len(t, stock.batches[1], 1)
	require.EqualValues(t, -3, stock.batches[1][0].Delta)
	require.Equal(t, inventory.SourceOrderEdit, stock.batches[1][0].Source)
	require.EqualValues(t, 5, stock.quantities[1])

	inv, ok := repo.invoiceByOrder(order.ID)
	require.True(t, ok)
	require.InDelta(t, 100.00, inv.TotalPrice, 0.001)
	require.InDelta(t, 100.00, inv.RemainingAmount, 0.001)
	require.Equal(t, result.Invoice.Number, inv.Number)

	// Balance moved by the total change: 40 on accept, +60 on the edit.
	require.InDelta(t, 100.00, repo.balances[7], 0.001)
}

func TestUpdateAcceptedPreservesPaidAmount(t *testing.T) {
	repo := newMemoryRepo()
	stock := newMemoryStock(map[int64]int64{1: 10})
	svc := newTestService(repo, stock)
	ctx := context.Background()

	order, err := svc.Create(ctx, twoUnitOrder())
	require.NoError(t, err)
	result, err := svc.Accept(ctx, order.ID)
	require.NoError(t, err)

	// Simulate a partial payment of 15 on the 40 invoice.
	inv := repo.invoices[result.Invoice.ID]
	inv.RemainingAmount = 25.00

	input := twoUnitOrder()
	input.Lines[0].Quantity = 5
	_, err = svc.UpdateAccepted(ctx, order.ID, input)
	require.NoError(t, err)

	updated, ok := repo.invoiceByOrder(order.ID)
	require.True(t, ok)
	// New total 100, paid 15, remaining 85.
	require.InDelta(t, 85.00, updated.RemainingAmount, 0.001)
}

func TestUpdatePendingHasNoSideEffects(t *testing.T) {
	repo := newMemoryRepo()
	stock := newMemoryStock(map[int64]int64{1: 10})
	svc := newTestService(repo, stock)
	ctx := context.Background()

	order, err := svc.Create(ctx, twoUnitOrder())
	require.NoError(t, err)

	input := twoUnitOrder()
	input.Lines[0].Quantity = 6
	input.Discounts = map[int64]float64{1: 2}
	updated, err := svc.UpdatePending(ctx, order.ID, input)
	require.NoError(t, err)
	require.InDelta(t, 108.00, updated.TotalPrice, 0.001)

	require.Empty(t, stock.batches)
	require.Empty(t, repo.invoices)
}

func TestRejectOnlyFromPending(t *testing.T) {
	repo := newMemoryRepo()
	stock := newMemoryStock(map[int64]int64{1: 10})
	svc := newTestService(repo, stock)
	ctx := context.Background()

	order, err := svc.Create(ctx, twoUnitOrder())
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)

	_, err = svc.Reject(ctx, order.ID)
	require.ErrorIs(t, err, ErrNotPending)

	// Rejected orders cannot be accepted either.
	_, err = svc.Accept(ctx, order.ID)
	require.ErrorIs(t, err, ErrNotPending)
	require.Empty(t, stock.batches)
}

func TestLifecycleKeepsClientBalanceCurrent(t *testing.T) {
	repo := newMemoryRepo()
	stock := newMemoryStock(map[int64]int64{1: 10})
	svc := newTestService(repo, stock)
	ctx := context.Background()

	order, err := svc.Create(ctx, twoUnitOrder())
	require.NoError(t, err)
	require.InDelta(t, 0, repo.balances[7], 0.001)

	// Accept raises the balance by the invoice total.
	_, err = svc.Accept(ctx, order.ID)
	require.NoError(t, err)
	require.InDelta(t, 40.00, repo.balances[7], 0.001)

	// Edits move the balance by the total change, up or down.
	input := twoUnitOrder()
	input.Lines[0].Quantity = 5
	_, err = svc.UpdateAccepted(ctx, order.ID, input)
	require.NoError(t, err)
	require.InDelta(t, 100.00, repo.balances[7], 0.001)

	input.Lines[0].Quantity = 2
	_, err = svc.UpdateAccepted(ctx, order.ID, input)
	require.NoError(t, err)
	require.InDelta(t, 40.00, repo.balances[7], 0.001)

	// Delete reverses the invoice's contribution entirely.
	require.NoError(t, svc.Delete(ctx, order.ID))
	require.InDelta(t, 0, repo.balances[7], 0.001)
}

func TestAcceptReportsPartialStockFailure(t *testing.T) {
	repo := newMemoryRepo()
	stock := newMemoryStock(map[int64]int64{1: 10})
	svc := newTestService(repo, stock)
	ctx := context.Background()

	input := twoUnitOrder()
	input.Lines = append(input.Lines, LineInput{ProductID: 2, VariantID: 99, Quantity: 1})
	order, err := svc.Create(ctx, input)
	require.NoError(t, err)

	result, err := svc.Accept(ctx, order.ID)
	var partial *inventory.PartialError
	require.ErrorAs(t, err, &partial)
	require.EqualValues(t, 99, partial.Failed[0].VariantID)

	// The accept itself stands: order accepted, invoice created, the
	// healthy variant adjusted.
	require.NotNil(t, result)
	require.Equal(t, StatusAccepted, result.Order.Status)
	require.Len(t, repo.invoices, 1)
	require.EqualValues(t, 8, stock.quantities[1])
}

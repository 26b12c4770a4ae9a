package invoices

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

type memoryRepo struct {
	invoices map[int64]*Invoice
	nextID   int64
	seq      int64
}

func newMemoryRepo(invs ...*Invoice) *memoryRepo {
	repo := &memoryRepo{invoices: make(map[int64]*Invoice)}
	for _, inv := range invs {
		repo.invoices[inv.ID] = inv
		if inv.ID > repo.nextID {
			repo.nextID = inv.ID
		}
	}
	return repo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (*Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	clone := *inv
	return &clone, nil
}

func (r *memoryRepo) GetByOrderID(ctx context.Context, orderID int64) (*Invoice, error) {
	for _, inv := range r.invoices {
		if inv.OrderID != nil && *inv.OrderID == orderID {
			clone := *inv
			return &clone, nil
		}
	}
	return nil, ErrInvoiceNotFound
}

func (r *memoryRepo) ListByClient(ctx context.Context, clientID int64) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if inv.ClientID == clientID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (r *memoryRepo) Create(ctx context.Context, inv Invoice) (*Invoice, error) {
	r.nextID++
	inv.ID = r.nextID
	clone := inv
	r.invoices[inv.ID] = &clone
	return &inv, nil
}

func (r *memoryRepo) GenerateNumber(ctx context.Context, date time.Time) (string, error) {
	r.seq++
	return fmt.Sprintf("INV-%s-%04d", date.Format("0601"), r.seq), nil
}

func (r *memoryRepo) HasReceipts(ctx context.Context, invoiceID int64) (bool, error) {
	return false, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return t.repo.Get(ctx, id)
}

func (t *memoryTx) UpdateRemaining(ctx context.Context, id int64, remaining float64) error {
	inv, ok := t.repo.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.RemainingAmount = remaining
	return nil
}

func TestClampRemaining(t *testing.T) {
	require.InDelta(t, 0, ClampRemaining(-5, 100), 0.001)
	require.InDelta(t, 100, ClampRemaining(130, 100), 0.001)
	require.InDelta(t, 42.35, ClampRemaining(42.351, 100), 0.001)
	// Return invoices carry negative totals but clamp against |total|.
	require.InDelta(t, 60, ClampRemaining(60, -100), 0.001)
	require.InDelta(t, 100, ClampRemaining(140, -100), 0.001)
}

func TestAmountPaid(t *testing.T) {
	require.InDelta(t, 75, AmountPaid(Invoice{TotalPrice: 100, RemainingAmount: 25}), 0.001)
	require.InDelta(t, 0, AmountPaid(Invoice{TotalPrice: 100, RemainingAmount: 100}), 0.001)
	require.InDelta(t, 100, AmountPaid(Invoice{TotalPrice: -100, RemainingAmount: 0}), 0.001)
}

func TestApplyPaymentKeepsInvariant(t *testing.T) {
	repo := newMemoryRepo(&Invoice{ID: 1, TotalPrice: 100, RemainingAmount: 100, Type: TypeRegular, Currency: "USD"})
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	inv, err := svc.ApplyPayment(ctx, 1, 30)
	require.NoError(t, err)
	require.InDelta(t, 70, inv.RemainingAmount, 0.001)

	// Overpayment clamps at zero instead of going negative.
	inv, err = svc.ApplyPayment(ctx, 1, 500)
	require.NoError(t, err)
	require.InDelta(t, 0, inv.RemainingAmount, 0.001)

	// A reversal larger than the total clamps at |total|.
	inv, err = svc.ApplyPayment(ctx, 1, -500)
	require.NoError(t, err)
	require.InDelta(t, 100, inv.RemainingAmount, 0.001)
}

func TestApplyPaymentRejectsReturnInvoices(t *testing.T) {
	repo := newMemoryRepo(&Invoice{ID: 1, TotalPrice: -80, RemainingAmount: 0, Type: TypeReturn, Currency: "USD"})
	svc := NewService(repo, nil, nil)

	_, err := svc.ApplyPayment(context.Background(), 1, 10)
	require.ErrorIs(t, err, ErrReturnInvoice)
	require.ErrorIs(t, err, shared.ErrConflict)

	stored, getErr := repo.Get(context.Background(), 1)
	require.NoError(t, getErr)
	require.InDelta(t, 0, stored.RemainingAmount, 0.001)
}

func TestCreateDirectInvoice(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	inv, err := svc.Create(ctx, CreateInput{
		ClientID: 3,
		Lines:    []Line{{ProductID: 1, VariantID: 1, Quantity: 2, UnitPrice: 20}},
		Currency: "USD",
		Type:     TypeRegular,
	})
	require.NoError(t, err)
	require.InDelta(t, 40, inv.TotalPrice, 0.001)
	require.InDelta(t, 40, inv.RemainingAmount, 0.001)
	require.NotEmpty(t, inv.Ref)
	require.Nil(t, inv.OrderID)
}

func TestCreateReturnInvoice(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	inv, err := svc.Create(ctx, CreateInput{
		ClientID: 3,
		Lines:    []Line{{ProductID: 1, VariantID: 1, Quantity: 1, UnitPrice: 55}},
		Currency: "EUR",
		Type:     TypeReturn,
	})
	require.NoError(t, err)
	require.InDelta(t, -55, inv.TotalPrice, 0.001)
	require.Zero(t, inv.RemainingAmount)
}

func TestCreateRejectsBadInput(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{ClientID: 3, Currency: "USD", Type: TypeRegular})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{
		ClientID: 3,
		Lines:    []Line{{ProductID: 1, VariantID: 1, Quantity: 1, UnitPrice: 10}},
		Currency: "GBP",
		Type:     TypeRegular,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

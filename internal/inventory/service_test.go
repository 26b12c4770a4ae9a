package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

type memoryRepo struct {
	mu          sync.Mutex
	variants    map[int64]Variant
	adjustments []Adjustment
	nextID      int64
}

func newMemoryRepo(variants ...Variant) *memoryRepo {
	repo := &memoryRepo{variants: make(map[int64]Variant)}
	for _, v := range variants {
		repo.variants[v.ID] = v
	}
	return repo
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetVariant(ctx context.Context, id int64) (Variant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.variants[id]
	if !ok {
		return Variant{}, ErrVariantNotFound
	}
	return v, nil
}

func (r *memoryRepo) ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Adjustment, len(r.adjustments))
	copy(out, r.adjustments)
	return out, nil
}

func (tx *memoryTx) GetVariantForUpdate(ctx context.Context, id int64) (Variant, error) {
	v, ok := tx.repo.variants[id]
	if !ok {
		return Variant{}, ErrVariantNotFound
	}
	return v, nil
}

func (tx *memoryTx) UpdateVariantQuantity(ctx context.Context, id int64, quantity int64) error {
	v, ok := tx.repo.variants[id]
	if !ok {
		return ErrVariantNotFound
	}
	v.Quantity = quantity
	tx.repo.variants[id] = v
	return nil
}

func (tx *memoryTx) InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error) {
	tx.repo.nextID++
	adj.ID = tx.repo.nextID
	tx.repo.adjustments = append(tx.repo.adjustments, adj)
	return adj.ID, nil
}

type memoryIdem struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryIdem() *memoryIdem {
	return &memoryIdem{keys: make(map[string]bool)}
}

func (s *memoryIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *memoryIdem) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

func TestAdjustSignedDeltas(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, ProductID: 1, Quantity: 10})
	svc := NewService(repo, nil, nil, ServiceConfig{AllowNegativeStock: true}, nil)
	ctx := context.Background()

	adj, err := svc.Adjust(ctx, AdjustInput{VariantID: 1, Delta: -4, Source: SourceOrderAccept})
	require.NoError(t, err)
	require.EqualValues(t, 6, adj.NewQuantity)

	adj, err = svc.Adjust(ctx, AdjustInput{VariantID: 1, Delta: 9, Source: SourceOrderReverse})
	require.NoError(t, err)
	require.EqualValues(t, 15, adj.NewQuantity)

	v, err := svc.GetVariant(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 15, v.Quantity)
}

func TestAdjustRejectsZeroDeltaAndUnknownSource(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, Quantity: 5})
	svc := NewService(repo, nil, nil, ServiceConfig{AllowNegativeStock: true}, nil)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustInput{VariantID: 1, Delta: 0, Source: SourceManual})
	require.ErrorIs(t, err, ErrInvalidDelta)

	_, err = svc.Adjust(ctx, AdjustInput{VariantID: 1, Delta: 1, Source: Source("donation")})
	require.ErrorIs(t, err, ErrUnknownSource)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdjustNegativeStockGuard(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, Quantity: 3})
	ctx := context.Background()

	guarded := NewService(repo, nil, nil, ServiceConfig{AllowNegativeStock: false}, nil)
	_, err := guarded.Adjust(ctx, AdjustInput{VariantID: 1, Delta: -5, Source: SourceManual})
	require.ErrorIs(t, err, ErrNegativeStock)

	v, err := guarded.GetVariant(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, v.Quantity)

	relaxed := NewService(repo, nil, nil, ServiceConfig{AllowNegativeStock: true}, nil)
	adj, err := relaxed.Adjust(ctx, AdjustInput{VariantID: 1, Delta: -5, Source: SourceManual})
	require.NoError(t, err)
	require.EqualValues(t, -2, adj.NewQuantity)
}

func TestAdjustDuplicateReference(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, Quantity: 10})
	idem := newMemoryIdem()
	svc := NewService(repo, nil, idem, ServiceConfig{AllowNegativeStock: true}, nil)
	ctx := context.Background()

	ref := uuid.NewString()
	_, err := svc.Adjust(ctx, AdjustInput{VariantID: 1, Delta: -2, Source: SourceOrderAccept, RefID: ref})
	require.NoError(t, err)

	_, err = svc.Adjust(ctx, AdjustInput{VariantID: 1, Delta: -2, Source: SourceOrderAccept, RefID: ref})
	require.ErrorIs(t, err, ErrDuplicateAdjustment)

	v, err := svc.GetVariant(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 8, v.Quantity)

	// A different source with the same reference is a distinct operation.
	_, err = svc.Adjust(ctx, AdjustInput{VariantID: 1, Delta: 2, Source: SourceOrderReverse, RefID: ref})
	require.NoError(t, err)
}

func TestAdjustReleasesKeyOnFailure(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, Quantity: 1})
	idem := newMemoryIdem()
	svc := NewService(repo, nil, idem, ServiceConfig{AllowNegativeStock: false}, nil)
	ctx := context.Background()

	ref := uuid.NewString()
	_, err := svc.Adjust(ctx, AdjustInput{VariantID: 1, Delta: -5, Source: SourceManual, RefID: ref})
	require.ErrorIs(t, err, ErrNegativeStock)

	// The failed attempt must not poison the reference for a valid retry.
	_, err = svc.Adjust(ctx, AdjustInput{VariantID: 1, Delta: -1, Source: SourceManual, RefID: ref})
	require.NoError(t, err)
}

func TestApplyBatchMergesSameVariant(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, Quantity: 10}, Variant{ID: 2, Quantity: 10})
	svc := NewService(repo, nil, nil, ServiceConfig{AllowNegativeStock: true}, nil)
	ctx := context.Background()

	result := svc.ApplyBatch(ctx, []AdjustInput{
		{VariantID: 1, Delta: -5, Source: SourceOrderEdit},
		{VariantID: 1, Delta: 3, Source: SourceOrderEdit},
		{VariantID: 2, Delta: -1, Source: SourceOrderEdit},
	})
	require.NoError(t, result.Err())
	require.Len(t, result.Applied, 2)

	adjustments, err := svc.ListAdjustments(ctx, AdjustmentFilter{})
	require.NoError(t, err)
	require.Len(t, adjustments, 2)

	v1, _ := svc.GetVariant(ctx, 1)
	require.EqualValues(t, 8, v1.Quantity)
	v2, _ := svc.GetVariant(ctx, 2)
	require.EqualValues(t, 9, v2.Quantity)
}

func TestApplyBatchSkipsNetZero(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, Quantity: 10})
	svc := NewService(repo, nil, nil, ServiceConfig{AllowNegativeStock: true}, nil)

	result := svc.ApplyBatch(context.Background(), []AdjustInput{
		{VariantID: 1, Delta: -3, Source: SourceOrderEdit},
		{VariantID: 1, Delta: 3, Source: SourceOrderEdit},
	})
	require.NoError(t, result.Err())
	require.Empty(t, result.Applied)

	adjustments, err := repo.ListAdjustments(context.Background(), AdjustmentFilter{})
	require.NoError(t, err)
	require.Empty(t, adjustments)
}

func TestApplyBatchPartialFailure(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, Quantity: 10})
	svc := NewService(repo, nil, nil, ServiceConfig{AllowNegativeStock: true}, nil)

	result := svc.ApplyBatch(context.Background(), []AdjustInput{
		{VariantID: 1, Delta: -2, Source: SourceOrderAccept},
		{VariantID: 99, Delta: -2, Source: SourceOrderAccept},
	})
	require.Len(t, result.Applied, 1)
	require.Len(t, result.Failed, 1)
	require.EqualValues(t, 99, result.Failed[0].VariantID)

	err := result.Err()
	require.Error(t, err)
	var partial *PartialError
	require.True(t, errors.As(err, &partial))
	require.ErrorIs(t, err, ErrVariantNotFound)

	// The healthy variant still moved.
	v, getErr := svc.GetVariant(context.Background(), 1)
	require.NoError(t, getErr)
	require.EqualValues(t, 8, v.Quantity)
}

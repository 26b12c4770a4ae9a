package inventory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// Source enumerates the provenance of a stock adjustment.
type Source string

const (
	// SourceOrderAccept marks stock leaving when an order is accepted.
	SourceOrderAccept Source = "order_accept"
	// SourceOrderEdit marks the net delta applied when an accepted order is edited.
	SourceOrderEdit Source = "order_edit"
	// SourceOrderReverse marks stock returning when an accepted order is deleted.
	SourceOrderReverse Source = "order_reverse"
	// SourceManual marks a hand-entered correction.
	SourceManual Source = "manual_adjustment"
)

// KnownSource reports whether s belongs to the closed source set.
func KnownSource(s Source) bool {
	switch s {
	case SourceOrderAccept, SourceOrderEdit, SourceOrderReverse, SourceManual:
		return true
	}
	return false
}

// Variant is a sellable product variation with a mutable stock counter. The
// counter is mutated exclusively through Service.Adjust.
type Variant struct {
	ID        int64
	ProductID int64
	Size      string
	Color     string
	Quantity  int64
	UpdatedAt time.Time
}

// Adjustment is the audit-trail row written for every stock mutation.
type Adjustment struct {
	ID          int64
	VariantID   int64
	Delta       int64
	Source      Source
	RefID       string
	Note        string
	NewQuantity int64
	CreatedAt   time.Time
}

// AdjustInput describes a signed stock delta to apply.
type AdjustInput struct {
	VariantID int64
	Delta     int64
	Source    Source
	RefID     string
	Note      string
}

// AdjustmentFilter filters the audit trail listing.
type AdjustmentFilter struct {
	VariantID int64
	Source    Source
	Limit     int
}

var (
	// ErrInvalidDelta indicates a zero delta.
	ErrInvalidDelta = fmt.Errorf("inventory: delta must be non zero: %w", shared.ErrValidation)
	// ErrUnknownSource indicates a source outside the closed set.
	ErrUnknownSource = fmt.Errorf("inventory: unknown adjustment source: %w", shared.ErrValidation)
	// ErrNegativeStock is returned when the guard is enabled and the delta
	// would take the counter below zero.
	ErrNegativeStock = fmt.Errorf("inventory: negative stock not allowed: %w", shared.ErrConflict)
	// ErrVariantNotFound indicates a missing variant row.
	ErrVariantNotFound = fmt.Errorf("inventory: variant %w", shared.ErrNotFound)
	// ErrDuplicateAdjustment indicates a retry of an already applied delta.
	ErrDuplicateAdjustment = fmt.Errorf("inventory: adjustment already applied: %w", shared.ErrConflict)
)

// BatchFailure records one variant whose adjustment could not be applied.
type BatchFailure struct {
	VariantID int64
	Err       error
}

// BatchResult reports the outcome of ApplyBatch. Failures of one variant do
// not block the others.
type BatchResult struct {
	Applied []Adjustment
	Failed  []BatchFailure
}

// Err returns a PartialError when any variant failed, nil otherwise.
func (r BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &PartialError{Failed: r.Failed}
}

// PartialError reports a batch where some variants were adjusted and others
// were not. Callers must surface it so a human can reconcile.
type PartialError struct {
	Failed []BatchFailure
}

func (e *PartialError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, fmt.Sprintf("%d", f.VariantID))
	}
	sort.Strings(ids)
	return fmt.Sprintf("inventory: batch partially applied, failed variants: %s", strings.Join(ids, ", "))
}

func (e *PartialError) Unwrap() error {
	if len(e.Failed) == 1 {
		return e.Failed[0].Err
	}
	return nil
}

package receipts

import (
	"context"
	"fmt"
	"math"

	"github.com/qwerty-development/makielli-internal-sub000/internal/invoices"
)

// Result is the outcome of validating a prospective receipt. Errors block
// the receipt; warnings inform the operator and never block.
type Result struct {
	Errors   []string          `json:"errors"`
	Warnings []string          `json:"warnings"`
	Invoice  *invoices.Invoice `json:"invoice,omitempty"`
}

// OK reports whether the receipt may be recorded.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// nearSettlementRatio is the share of the outstanding amount above which a
// receipt gets a near-settlement warning.
const nearSettlementRatio = 0.9

// validate runs the blocking rules in order, cheapest first, then the
// advisory checks. extraRemaining widens the headroom check when an existing
// receipt on the same invoice is about to be released.
func (s *Service) validate(ctx context.Context, invoiceID int64, amount float64, currency string, extraRemaining float64) (Result, error) {
	var res Result

	if amount <= 0 {
		res.Errors = append(res.Errors, "amount must be greater than zero")
		return res, nil
	}

	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		if errorsIsNotFound(err) {
			res.Errors = append(res.Errors, fmt.Sprintf("invoice %d does not exist", invoiceID))
			return res, nil
		}
		return res, err
	}
	res.Invoice = inv

	if inv.Type == invoices.TypeReturn {
		res.Errors = append(res.Errors, "return invoices cannot receive payments")
		return res, nil
	}
	if inv.Currency != currency {
		res.Errors = append(res.Errors, fmt.Sprintf("currency %s does not match invoice currency %s", currency, inv.Currency))
		return res, nil
	}
	headroom := inv.RemainingAmount + extraRemaining
	if amount > headroom {
		res.Errors = append(res.Errors, fmt.Sprintf("amount %.2f exceeds remaining %.2f", amount, headroom))
		return res, nil
	}

	if headroom > 0 && amount > nearSettlementRatio*headroom {
		res.Warnings = append(res.Warnings, "receipt settles more than 90% of the outstanding amount")
	}
	if inv.RemainingAmount > math.Abs(inv.TotalPrice) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("invoice remaining %.2f exceeds total %.2f", inv.RemainingAmount, math.Abs(inv.TotalPrice)))
	}
	return res, nil
}

// Validate checks a prospective receipt without recording it.
func (s *Service) Validate(ctx context.Context, invoiceID int64, amount float64, currency string) (Result, error) {
	return s.validate(ctx, invoiceID, amount, currency, 0)
}

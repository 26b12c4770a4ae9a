package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// Statement is a human-readable rendering of a client's reconciled ledger.
type Statement struct {
	ClientID    int64           `json:"client_id"`
	ClientName  string          `json:"client_name"`
	Balance     float64         `json:"balance"`
	GeneratedAt time.Time       `json:"generated_at"`
	Lines       []StatementLine `json:"lines"`
}

// StatementLine is one formatted ledger movement.
type StatementLine struct {
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Amount      string    `json:"amount"`
	Balance     float64   `json:"balance"`
}

// Statement builds the client's statement from a fresh reconciliation,
// served through the versioned cache. A stale snapshot is at most one
// version bump behind.
func (s *Service) Statement(ctx context.Context, clientID int64) (*Statement, error) {
	key, err := s.cacheKey(ctx, clientID)
	if err != nil {
		return nil, err
	}
	var stmt Statement
	err = s.cache.FetchJSON(ctx, key, &stmt, func(ctx context.Context) (interface{}, error) {
		return s.buildStatement(ctx, clientID)
	})
	if err != nil {
		return nil, err
	}
	return &stmt, nil
}

func (s *Service) cacheKey(ctx context.Context, clientID int64) (string, error) {
	return s.cache.BuildKey(ctx, "statement", "client", fmt.Sprint(clientID))
}

func (s *Service) buildStatement(ctx context.Context, clientID int64) (*Statement, error) {
	client, err := s.repo.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	report, err := s.Reconcile(ctx, clientID)
	if err != nil {
		return nil, err
	}
	stmt := &Statement{
		ClientID:    clientID,
		ClientName:  client.Name,
		Balance:     report.CalculatedBalance,
		GeneratedAt: time.Now(),
		Lines:       make([]StatementLine, 0, len(report.Transactions)),
	}
	for _, entry := range report.Transactions {
		stmt.Lines = append(stmt.Lines, StatementLine{
			Date:        entry.OccurredAt,
			Description: describeEntry(entry),
			Amount:      shared.FormatAmount(entry.Amount, entry.Currency),
			Balance:     entry.RunningBalance,
		})
	}
	return stmt, nil
}

func describeEntry(entry LedgerEntry) string {
	switch entry.Kind {
	case EntryReturnInvoice:
		return "Return invoice " + entry.Number
	case EntryReceipt:
		if entry.Number != "" {
			return "Payment on invoice " + entry.Number
		}
		return "Payment received"
	default:
		return "Invoice " + entry.Number
	}
}

package clients

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

// driftTolerance is the absolute difference below which the stored balance
// is left alone. Absorbs float rounding noise.
const driftTolerance = 0.01

// RepositoryPort abstracts client persistence and the ledger replay query.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (*Client, error)
	ListIDs(ctx context.Context) ([]int64, error)
	LedgerEntries(ctx context.Context, clientID int64) ([]LedgerEntry, error)
	SetBalance(ctx context.Context, clientID int64, balance float64) error
}

// AuditPort records balance corrections.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the balance reconciler and client reads.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	cache  *Cache
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cache: cache, logger: logger}
}

// Get returns a client.
func (s *Service) Get(ctx context.Context, id int64) (*Client, error) {
	return s.repo.Get(ctx, id)
}

// ListIDs returns all client ids, for the sweep job.
func (s *Service) ListIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListIDs(ctx)
}

// Reconcile replays a client's invoices and receipts into a signed ledger,
// folds it to a calculated balance, and overwrites the stored balance when
// the two disagree by more than the tolerance. Safe to re-run; a second
// pass over unchanged data reports zero difference.
func (s *Service) Reconcile(ctx context.Context, clientID int64) (*Report, error) {
	client, err := s.repo.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.LedgerEntries(ctx, clientID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].OccurredAt.Equal(entries[j].OccurredAt) {
			return entries[i].RefID < entries[j].RefID
		}
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})

	var running float64
	for i := range entries {
		running = shared.Round2(running + entries[i].Amount)
		entries[i].RunningBalance = running
	}

	// Difference is stored minus calculated: positive means the stored
	// balance overstates what the ledger supports.
	report := &Report{
		ClientID:          clientID,
		StoredBalance:     client.Balance,
		CalculatedBalance: running,
		Difference:        shared.Round2(client.Balance - running),
		Transactions:      entries,
	}
	if math.Abs(report.Difference) <= driftTolerance {
		return report, nil
	}

	if err := s.repo.SetBalance(ctx, clientID, running); err != nil {
		return nil, err
	}
	report.WasUpdated = true
	s.logger.Warn("client balance corrected",
		slog.Int64("client_id", clientID),
		slog.Float64("before", client.Balance),
		slog.Float64("after", running),
		slog.Float64("difference", report.Difference))
	s.recordAudit(ctx, clientID, map[string]any{
		"before": client.Balance,
		"after":  running,
	})
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("statement cache bump failed", slog.Any("error", err))
		}
	}
	return report, nil
}

func (s *Service) recordAudit(ctx context.Context, clientID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{Action: "client.balance_correct", Entity: "client", EntityID: fmt.Sprint(clientID), Meta: meta}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

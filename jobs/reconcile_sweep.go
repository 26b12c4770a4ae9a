package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/qwerty-development/makielli-internal-sub000/internal/clients"
)

// ReconcileSweeper runs the nightly balance reconciliation over all clients.
type ReconcileSweeper struct {
	clients *clients.Service
	logger  *slog.Logger
}

// NewReconcileSweeper builds ReconcileSweeper.
func NewReconcileSweeper(svc *clients.Service, logger *slog.Logger) *ReconcileSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileSweeper{clients: svc, logger: logger}
}

// Handle processes TaskBalanceReconcileSweep tasks. One client failing does
// not stop the sweep; the task itself only fails when the client list cannot
// be read.
func (s *ReconcileSweeper) Handle(ctx context.Context, _ *asynq.Task) error {
	ids, err := s.clients.ListIDs(ctx)
	if err != nil {
		return err
	}
	var corrected, failed int
	for _, id := range ids {
		report, err := s.clients.Reconcile(ctx, id)
		if err != nil {
			failed++
			s.logger.Error("reconcile sweep client failed",
				slog.Int64("client_id", id), slog.Any("error", err))
			continue
		}
		if report.WasUpdated {
			corrected++
			s.logger.Info("reconcile sweep corrected balance",
				slog.Int64("client_id", id),
				slog.Float64("difference", report.Difference))
		}
	}
	s.logger.Info("reconcile sweep finished",
		slog.Int("clients", len(ids)),
		slog.Int("corrected", corrected),
		slog.Int("failed", failed))
	return nil
}

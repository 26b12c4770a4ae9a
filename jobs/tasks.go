package jobs

import "github.com/hibiken/asynq"

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBalanceReconcileSweep replays every client's ledger and corrects
	// drifted balances.
	TaskBalanceReconcileSweep = "ledger:reconcile_sweep"
)

// NewBalanceReconcileSweepTask constructs the sweep task. No payload; the
// handler walks the full client list.
func NewBalanceReconcileSweepTask() *asynq.Task {
	return asynq.NewTask(TaskBalanceReconcileSweep, nil)
}

// Package workers provides River job workers for background catalog maintenance.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/mechlib/catalog/internal/service"
)

const reconcileKind = "reconcile_update_markers"

// ReconcileQueueName is the River queue used for update-marker repair.
const ReconcileQueueName = "reconcile"

// ReconcileArgs is the job payload for one repair pass over stale update markers.
type ReconcileArgs struct {
	StaleAfter time.Duration `json:"stale_after"`
	Limit      int           `json:"limit"`
}

// Kind returns the River job kind.
func (ReconcileArgs) Kind() string { return reconcileKind }

// InsertOpts keeps at most one pass queued or running at a time.
func (ReconcileArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       ReconcileQueueName,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByQueue: true,
		},
	}
}

var _ river.JobArgs = ReconcileArgs{}

// reconciler is the minimal interface needed by the worker.
type reconciler interface {
	Run(ctx context.Context, staleAfter time.Duration, limit int) (service.ReconcileReport, error)
}

// ReconcileWorker repairs updates interrupted between the blob re-upload and the index replacement.
type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]

	reconciler reconciler
	timeout    time.Duration
}

const defaultReconcileTimeout = 5 * time.Minute

// NewReconcileWorker creates a ReconcileWorker. A non-positive timeout uses the default.
func NewReconcileWorker(r reconciler, timeout time.Duration) *ReconcileWorker {
	if timeout <= 0 {
		timeout = defaultReconcileTimeout
	}

	return &ReconcileWorker{reconciler: r, timeout: timeout}
}

// Timeout limits how long a single pass can run.
func (w *ReconcileWorker) Timeout(*river.Job[ReconcileArgs]) time.Duration {
	return w.timeout
}

// Work runs one pass. Markers that fail to repair stay in place for the next pass, so only a failure to
// list markers is returned to River for retry.
func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[ReconcileArgs]) error {
	report, err := w.reconciler.Run(ctx, job.Args.StaleAfter, job.Args.Limit)
	if err != nil {
		slog.ErrorContext(ctx, "reconcile: pass failed", "job_id", job.ID, "attempt", job.Attempt, "error", err)

		return fmt.Errorf("reconcile update markers: %w", err)
	}

	if report.Failed > 0 {
		slog.WarnContext(ctx, "reconcile: markers left for next pass", "failed", report.Failed)
	}

	return nil
}

// PeriodicReconcileJob schedules a repair pass every interval, starting when the client starts.
func PeriodicReconcileJob(interval, staleAfter time.Duration, limit int) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return ReconcileArgs{StaleAfter: staleAfter, Limit: limit}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

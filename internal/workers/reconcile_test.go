package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mechlib/catalog/internal/service"
)

type mockReconciler struct {
	runFunc func(ctx context.Context, staleAfter time.Duration, limit int) (service.ReconcileReport, error)

	staleAfter time.Duration
	limit      int
}

func (m *mockReconciler) Run(ctx context.Context, staleAfter time.Duration, limit int) (service.ReconcileReport, error) {
	m.staleAfter = staleAfter
	m.limit = limit

	if m.runFunc != nil {
		return m.runFunc(ctx, staleAfter, limit)
	}

	return service.ReconcileReport{}, nil
}

func reconcileJob(args ReconcileArgs) *river.Job[ReconcileArgs] {
	return &river.Job[ReconcileArgs]{JobRow: &rivertype.JobRow{ID: 7, Attempt: 1}, Args: args}
}

func TestReconcileWorker_Work(t *testing.T) {
	ctx := context.Background()

	t.Run("passes job args to the reconciler", func(t *testing.T) {
		r := &mockReconciler{}
		w := NewReconcileWorker(r, 0)

		require.NoError(t, w.Work(ctx, reconcileJob(ReconcileArgs{StaleAfter: 10 * time.Minute, Limit: 25})))
		assert.Equal(t, 10*time.Minute, r.staleAfter)
		assert.Equal(t, 25, r.limit)
	})

	t.Run("failed markers do not fail the job", func(t *testing.T) {
		r := &mockReconciler{
			runFunc: func(context.Context, time.Duration, int) (service.ReconcileReport, error) {
				return service.ReconcileReport{Repaired: 1, Failed: 2}, nil
			},
		}

		assert.NoError(t, NewReconcileWorker(r, 0).Work(ctx, reconcileJob(ReconcileArgs{})))
	})

	t.Run("listing failure is retried", func(t *testing.T) {
		boom := errors.New("db down")
		r := &mockReconciler{
			runFunc: func(context.Context, time.Duration, int) (service.ReconcileReport, error) {
				return service.ReconcileReport{}, boom
			},
		}

		err := NewReconcileWorker(r, 0).Work(ctx, reconcileJob(ReconcileArgs{}))
		assert.ErrorIs(t, err, boom)
	})
}

func TestReconcileWorker_Timeout(t *testing.T) {
	assert.Equal(t, defaultReconcileTimeout, NewReconcileWorker(&mockReconciler{}, 0).Timeout(nil))
	assert.Equal(t, time.Minute, NewReconcileWorker(&mockReconciler{}, time.Minute).Timeout(nil))
}

func TestReconcileArgs(t *testing.T) {
	args := ReconcileArgs{}
	assert.Equal(t, "reconcile_update_markers", args.Kind())
	assert.Equal(t, ReconcileQueueName, args.InsertOpts().Queue)
	assert.NotNil(t, PeriodicReconcileJob(time.Minute, time.Minute, 10))
}

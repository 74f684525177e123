package job

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T) (*Tracker, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewTracker(mock), mock
}

func TestTrackerCreate(t *testing.T) {
	tr, mock := newTracker(t)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO purge_jobs`).
		WithArgs("j1", TriggerManual, []string{"exports"}, StatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}).AddRow(time.Now()))

	j, err := tr.Create(context.Background(), "j1", TriggerManual, []string{"exports"})
	require.NoError(t, err)
	require.Equal(t, StatusPending, j.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackerTransitionFiresOnce(t *testing.T) {
	tr, mock := newTracker(t)
	defer mock.Close()

	mock.ExpectExec(`UPDATE purge_jobs SET status`).
		WithArgs(StatusRunning, "j1", StatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, tr.MarkRunning(context.Background(), "j1"))

	mock.ExpectExec(`UPDATE purge_jobs SET status`).
		WithArgs(StatusRunning, "j1", StatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := tr.MarkRunning(context.Background(), "j1")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTrackerCompleteRejectsTerminalJob(t *testing.T) {
	tr, mock := newTracker(t)
	defer mock.Close()

	mock.ExpectExec(`UPDATE purge_jobs`).
		WithArgs(StatusCompleted, int64(10), int64(8), int64(8), int64(2), int64(0), int64(4096), "j1", StatusRunning).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := tr.Complete(context.Background(), "j1", Counters{Scanned: 10, Deleted: 8, Archived: 8, Failed: 2, BytesFreed: 4096})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTrackerRequestCancelMissingJob(t *testing.T) {
	tr, mock := newTracker(t)
	defer mock.Close()

	mock.ExpectExec(`UPDATE purge_jobs SET cancel_requested`).
		WithArgs("j1", StatusRunning).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT id, trigger_source, target_categories`).
		WithArgs("j1").
		WillReturnError(pgx.ErrNoRows)

	err := tr.RequestCancel(context.Background(), "j1")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackerRequestCancelNeedsRunningJob(t *testing.T) {
	tr, mock := newTracker(t)
	defer mock.Close()

	mock.ExpectExec(`UPDATE purge_jobs SET cancel_requested`).
		WithArgs("j2", StatusRunning).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT id, trigger_source, target_categories`).
		WithArgs("j2").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "trigger_source", "target_categories", "status",
			"records_scanned", "records_deleted", "records_archived", "records_failed",
			"records_would_purge", "storage_bytes_freed", "cancel_requested", "error_message",
			"started_at", "completed_at",
		}).AddRow("j2", TriggerManual, []string{"exports"}, StatusPending,
			int64(0), int64(0), int64(0), int64(0), int64(0), int64(0), false, "", time.Now(), nil))

	err := tr.RequestCancel(context.Background(), "j2")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

package job

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"lifecycle/internal/platform/db"
)

// Tracker records the lifecycle and metrics of purge jobs. Status
// transitions are guarded by the expected current status in the WHERE
// clause, so each edge of pending → running → terminal fires at most
// once even under concurrent workers.
type Tracker struct {
	DB db.Pool
}

func NewTracker(pool db.Pool) *Tracker {
	return &Tracker{DB: pool}
}

func (t *Tracker) Create(ctx context.Context, id, trigger string, categories []string) (PurgeJob, error) {
	if categories == nil {
		categories = []string{}
	}
	j := PurgeJob{ID: id, Trigger: trigger, TargetCategories: categories, Status: StatusPending}
	err := t.DB.QueryRow(ctx, `
    INSERT INTO purge_jobs (id, trigger_source, target_categories, status)
    VALUES ($1,$2,$3,$4)
    RETURNING started_at
  `, id, trigger, categories, StatusPending).Scan(&j.StartedAt)
	if err != nil {
		return PurgeJob{}, err
	}
	return j, nil
}

func (t *Tracker) MarkRunning(ctx context.Context, id string) error {
	return t.transition(ctx, id, StatusPending, StatusRunning, "")
}

func (t *Tracker) Complete(ctx context.Context, id string, c Counters) error {
	tag, err := t.DB.Exec(ctx, `
    UPDATE purge_jobs
    SET status = $1, records_scanned = $2, records_deleted = $3, records_archived = $4,
        records_failed = $5, records_would_purge = $6, storage_bytes_freed = $7, completed_at = now()
    WHERE id = $8 AND status = $9
  `, StatusCompleted, c.Scanned, c.Deleted, c.Archived, c.Failed, c.WouldPurge, c.BytesFreed, id, StatusRunning)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (t *Tracker) Fail(ctx context.Context, id, message string) error {
	tag, err := t.DB.Exec(ctx, `
    UPDATE purge_jobs
    SET status = $1, error_message = $2, completed_at = now()
    WHERE id = $3 AND status IN ($4, $5)
  `, StatusFailed, message, id, StatusPending, StatusRunning)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Cancel finalizes a running job that honored a cancellation request.
// Counters cover the pages processed before the job stopped.
func (t *Tracker) Cancel(ctx context.Context, id string, c Counters) error {
	tag, err := t.DB.Exec(ctx, `
    UPDATE purge_jobs
    SET status = $1, records_scanned = $2, records_deleted = $3, records_archived = $4,
        records_failed = $5, records_would_purge = $6, storage_bytes_freed = $7, completed_at = now()
    WHERE id = $8 AND status = $9
  `, StatusCancelled, c.Scanned, c.Deleted, c.Archived, c.Failed, c.WouldPurge, c.BytesFreed, id, StatusRunning)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (t *Tracker) transition(ctx context.Context, id, from, to, message string) error {
	tag, err := t.DB.Exec(ctx, `
    UPDATE purge_jobs SET status = $1 WHERE id = $2 AND status = $3
  `, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// RequestCancel flags a running job for cooperative cancellation. The
// executor notices between pages, never mid-page.
func (t *Tracker) RequestCancel(ctx context.Context, id string) error {
	tag, err := t.DB.Exec(ctx, `
    UPDATE purge_jobs SET cancel_requested = TRUE WHERE id = $1 AND status = $2
  `, id, StatusRunning)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := t.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

func (t *Tracker) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := t.DB.QueryRow(ctx, `SELECT cancel_requested FROM purge_jobs WHERE id = $1`, id).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return requested, err
}

func (t *Tracker) Get(ctx context.Context, id string) (PurgeJob, error) {
	j, err := t.scanOne(t.DB.QueryRow(ctx, selectJob+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurgeJob{}, ErrNotFound
	}
	return j, err
}

// LastCompleted returns the most recent completed job, optionally
// narrowed to jobs that targeted a category. Dashboards and the
// scheduler's back-pressure checks use it.
func (t *Tracker) LastCompleted(ctx context.Context, category string) (PurgeJob, error) {
	query := selectJob + ` WHERE status = 'completed'`
	var args []any
	if category != "" {
		query += ` AND $1 = ANY(target_categories)`
		args = append(args, category)
	}
	query += ` ORDER BY completed_at DESC LIMIT 1`
	j, err := t.scanOne(t.DB.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return PurgeJob{}, ErrNotFound
	}
	return j, err
}

func (t *Tracker) ListBetween(ctx context.Context, from, to time.Time) ([]PurgeJob, error) {
	rows, err := t.DB.Query(ctx, selectJob+`
    WHERE started_at >= $1 AND started_at < $2
    ORDER BY started_at
  `, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []PurgeJob
	for rows.Next() {
		j, err := t.scanOne(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (t *Tracker) List(ctx context.Context, limit, offset int) ([]PurgeJob, error) {
	rows, err := t.DB.Query(ctx, selectJob+`
    ORDER BY started_at DESC LIMIT $1 OFFSET $2
  `, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []PurgeJob
	for rows.Next() {
		j, err := t.scanOne(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const selectJob = `
    SELECT id, trigger_source, target_categories, status,
           records_scanned, records_deleted, records_archived, records_failed,
           records_would_purge, storage_bytes_freed, cancel_requested, error_message,
           started_at, completed_at
    FROM purge_jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func (t *Tracker) scanOne(row rowScanner) (PurgeJob, error) {
	var j PurgeJob
	err := row.Scan(&j.ID, &j.Trigger, &j.TargetCategories, &j.Status,
		&j.RecordsScanned, &j.RecordsDeleted, &j.RecordsArchived, &j.RecordsFailed,
		&j.RecordsWouldPurge, &j.StorageBytesFreed, &j.CancelRequested, &j.ErrorMessage,
		&j.StartedAt, &j.CompletedAt)
	return j, err
}

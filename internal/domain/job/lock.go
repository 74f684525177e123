package job

import (
	"context"
	"time"

	"lifecycle/internal/platform/db"
)

// Locker is the durable per-category run-in-progress marker. The lock
// lives in its own table rather than process memory, so it survives
// restarts and holds across horizontally scaled workers. A conflicting
// acquire returns ErrConflict immediately; triggers are never queued.
type Locker struct {
	DB  db.Pool
	TTL time.Duration
}

func NewLocker(pool db.Pool, ttl time.Duration) *Locker {
	return &Locker{DB: pool, TTL: ttl}
}

// Acquire claims the category for jobID. A lock left behind by a
// crashed worker is taken over once it is older than TTL.
func (l *Locker) Acquire(ctx context.Context, category, jobID string) error {
	tag, err := l.DB.Exec(ctx, `
    INSERT INTO purge_job_locks (data_category, job_id, locked_at)
    VALUES ($1,$2,now())
    ON CONFLICT (data_category) DO UPDATE
      SET job_id = EXCLUDED.job_id, locked_at = now()
      WHERE purge_job_locks.locked_at < now() - make_interval(secs => $3)
  `, category, jobID, l.TTL.Seconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Release drops the lock only if jobID still owns it, so a takeover is
// never undone by the worker that lost the lock.
func (l *Locker) Release(ctx context.Context, category, jobID string) error {
	_, err := l.DB.Exec(ctx, `
    DELETE FROM purge_job_locks WHERE data_category = $1 AND job_id = $2
  `, category, jobID)
	return err
}

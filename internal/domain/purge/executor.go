// Package purge implements the orchestrator that enforces retention
// policies: it pages through eligible records per category, consults
// the legal-hold guard on every deletion path, archives and deletes
// through category stores, and finalizes job counters from the audit
// ledger itself.
package purge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"lifecycle/internal/domain/audit"
	"lifecycle/internal/domain/hold"
	"lifecycle/internal/domain/job"
	"lifecycle/internal/domain/policy"
	"lifecycle/internal/platform/metrics"
)

type PolicySource interface {
	Active(ctx context.Context, category string) (policy.RetentionPolicy, error)
}

type HoldSource interface {
	Snapshot(ctx context.Context) (hold.Snapshot, error)
}

type AuditSink interface {
	Ready(ctx context.Context) error
	Record(ctx context.Context, e audit.Entry) error
	RecordGuarded(ctx context.Context, op func(ctx context.Context) (audit.Entry, error)) error
	RecordGuardedIn(ctx context.Context, op func(ctx context.Context, tx pgx.Tx) (audit.Entry, error)) error
	JobTotals(ctx context.Context, jobID string) (audit.Totals, error)
}

// TxRecordStore marks a RecordStore whose rows live in the audit
// database. Hard deletes then run inside the audit transaction, so the
// row and its entry commit or roll back together.
type TxRecordStore interface {
	HardDeleteIn(ctx context.Context, tx pgx.Tx, id string) (int64, error)
}

type JobStore interface {
	Create(ctx context.Context, id, trigger string, categories []string) (job.PurgeJob, error)
	MarkRunning(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, c job.Counters) error
	Cancel(ctx context.Context, id string, c job.Counters) error
	Fail(ctx context.Context, id, message string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (job.PurgeJob, error)
}

type CategoryLocker interface {
	Acquire(ctx context.Context, category, jobID string) error
	Release(ctx context.Context, category, jobID string) error
}

type Archiver interface {
	Archive(ctx context.Context, blobRef, destination string) error
	Delete(ctx context.Context, blobRef string) error
}

type Config struct {
	PageSize     int
	MaxParallel  int
	OpTimeout    time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	// MinRetention is a safety floor: a policy with a shorter period is
	// treated as misconfigured and skipped rather than acted on.
	MinRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 500
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
	return c
}

type Executor struct {
	policies PolicySource
	guard    HoldSource
	audit    AuditSink
	jobs     JobStore
	locks    CategoryLocker
	archiver Archiver
	registry *Registry
	cfg      Config
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

func NewExecutor(policies PolicySource, guard HoldSource, auditLog AuditSink, jobs JobStore, locks CategoryLocker, archiver Archiver, registry *Registry, cfg Config) *Executor {
	return &Executor{
		policies: policies,
		guard:    guard,
		audit:    auditLog,
		jobs:     jobs,
		locks:    locks,
		archiver: archiver,
		registry: registry,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default().With("component", "purge.executor"),
		now:      time.Now,
	}
}

// WithMetrics attaches a collector; without one the executor runs
// uninstrumented.
func (e *Executor) WithMetrics(m *metrics.Collector) *Executor {
	e.metrics = m
	return e
}

type Options struct {
	Categories []string
	DryRun     bool
	Trigger    string
}

type runStats struct {
	scanned    atomic.Int64
	held       atomic.Int64
	wouldPurge atomic.Int64
	failed     atomic.Int64
	cancelled  atomic.Bool
}

type preparedRun struct {
	jobID  string
	names  []string
	dryRun bool
	row    job.PurgeJob
}

// Run executes one purge job over the requested categories (all
// registered categories when none are named). Categories run in
// parallel, each under its durable lock; a busy category rejects the
// whole trigger with job.ErrConflict before any job row is created.
func (e *Executor) Run(ctx context.Context, opts Options) (job.PurgeJob, error) {
	prepared, err := e.prepare(ctx, opts)
	if err != nil {
		return job.PurgeJob{}, err
	}
	return e.execute(ctx, prepared)
}

// Begin acquires the locks and creates the job like Run, then finishes
// the page work in the background. Callers poll the job row for the
// outcome; conflict and precondition errors still surface immediately.
func (e *Executor) Begin(ctx context.Context, opts Options) (job.PurgeJob, error) {
	prepared, err := e.prepare(ctx, opts)
	if err != nil {
		return job.PurgeJob{}, err
	}
	go func() {
		bg := context.WithoutCancel(ctx)
		if _, err := e.execute(bg, prepared); err != nil {
			e.logger.Error("background purge run failed", "jobId", prepared.jobID, "err", err)
		}
	}()
	return prepared.row, nil
}

func (e *Executor) prepare(ctx context.Context, opts Options) (preparedRun, error) {
	trigger := opts.Trigger
	switch {
	case opts.DryRun:
		trigger = job.TriggerDryRun
	case trigger == "":
		trigger = job.TriggerManual
	}

	names, err := e.resolveCategories(opts.Categories)
	if err != nil {
		return preparedRun{}, err
	}

	// Systemic preconditions: an unreachable audit sink means nothing
	// may be deleted, so no job starts at all.
	if err := e.audit.Ready(ctx); err != nil {
		return preparedRun{}, fmt.Errorf("audit sink unavailable: %w", err)
	}

	jobID := uuid.NewString()
	acquired, err := e.acquireLocks(ctx, names, jobID)
	if err != nil {
		return preparedRun{}, err
	}

	row, err := e.jobs.Create(ctx, jobID, trigger, names)
	if err != nil {
		e.releaseLocks(ctx, acquired, jobID)
		return preparedRun{}, fmt.Errorf("create job: %w", err)
	}
	if err := e.jobs.MarkRunning(ctx, jobID); err != nil {
		// The row exists already; fail it so it never strands in pending.
		if failErr := e.jobs.Fail(ctx, jobID, fmt.Sprintf("mark running: %v", err)); failErr != nil {
			e.logger.Error("job fail transition failed", "jobId", jobID, "err", failErr)
		}
		e.releaseLocks(ctx, acquired, jobID)
		return preparedRun{}, err
	}
	row.Status = job.StatusRunning
	return preparedRun{jobID: jobID, names: names, dryRun: opts.DryRun, row: row}, nil
}

func (e *Executor) execute(ctx context.Context, prepared preparedRun) (job.PurgeJob, error) {
	jobID := prepared.jobID
	names := prepared.names
	defer e.releaseLocks(ctx, names, jobID)

	started := e.now()
	stats := &runStats{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallel)
	for _, name := range names {
		cat, _ := e.registry.Get(name)
		g.Go(func() error {
			return e.runCategory(gctx, jobID, cat, prepared.dryRun, stats)
		})
	}
	runErr := g.Wait()

	counters := job.Counters{
		Scanned:    stats.scanned.Load(),
		Failed:     stats.failed.Load(),
		WouldPurge: stats.wouldPurge.Load(),
	}
	if !prepared.dryRun {
		totals, totalsErr := e.audit.JobTotals(ctx, jobID)
		if totalsErr != nil {
			runErr = errors.Join(runErr, fmt.Errorf("finalize counters: %w", totalsErr))
		} else {
			for _, name := range names {
				cat, _ := e.registry.Get(name)
				counters.Deleted += totals[cat.PurgedAction].Count
				counters.BytesFreed += totals[cat.PurgedAction].BytesFreed
				counters.Archived += totals[cat.ArchivedAction].Count
			}
		}
	}

	status := job.StatusCompleted
	switch {
	case runErr != nil:
		status = job.StatusFailed
		if err := e.jobs.Fail(ctx, jobID, runErr.Error()); err != nil {
			e.logger.Error("job fail transition failed", "jobId", jobID, "err", err)
		}
	case stats.cancelled.Load():
		status = job.StatusCancelled
		if err := e.jobs.Cancel(ctx, jobID, counters); err != nil {
			e.logger.Error("job cancel transition failed", "jobId", jobID, "err", err)
		}
	default:
		if err := e.jobs.Complete(ctx, jobID, counters); err != nil {
			e.logger.Error("job complete transition failed", "jobId", jobID, "err", err)
		}
	}
	if e.metrics != nil {
		e.metrics.ObserveJob(status, e.now().Sub(started))
	}

	e.logger.Info("purge run finished",
		"jobId", jobID,
		"trigger", prepared.row.Trigger,
		"status", status,
		"scanned", counters.Scanned,
		"deleted", counters.Deleted,
		"archived", counters.Archived,
		"failed", counters.Failed,
		"held", stats.held.Load(),
		"wouldPurge", stats.wouldPurge.Load(),
	)

	final, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return job.PurgeJob{}, err
	}
	if runErr != nil {
		return final, runErr
	}
	return final, nil
}

func (e *Executor) resolveCategories(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return e.registry.Names(), nil
	}
	names := make([]string, 0, len(requested))
	for _, name := range requested {
		if _, ok := e.registry.Get(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, name)
		}
		names = append(names, name)
	}
	return names, nil
}

func (e *Executor) acquireLocks(ctx context.Context, names []string, jobID string) ([]string, error) {
	var acquired []string
	for _, name := range names {
		if err := e.locks.Acquire(ctx, name, jobID); err != nil {
			e.releaseLocks(ctx, acquired, jobID)
			if errors.Is(err, job.ErrConflict) {
				return nil, fmt.Errorf("category %s: %w", name, err)
			}
			return nil, fmt.Errorf("acquire lock for %s: %w", name, err)
		}
		acquired = append(acquired, name)
	}
	return acquired, nil
}

func (e *Executor) releaseLocks(ctx context.Context, names []string, jobID string) {
	for _, name := range names {
		if err := e.locks.Release(ctx, name, jobID); err != nil {
			e.logger.Warn("lock release failed", "category", name, "jobId", jobID, "err", err)
		}
	}
}

func (e *Executor) runCategory(ctx context.Context, jobID string, cat Category, dryRun bool, stats *runStats) error {
	log := e.logger.With("category", cat.Name, "jobId", jobID)

	pol, err := e.policies.Active(ctx, cat.Name)
	if errors.Is(err, policy.ErrNotConfigured) {
		// Missing configuration skips the category; it never defaults
		// to deletion.
		log.Warn("no active retention policy, skipping category")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve policy for %s: %w", cat.Name, err)
	}
	if pol.RetentionPeriod < e.cfg.MinRetention {
		log.Warn("retention period below safety floor, skipping category",
			"retention", pol.RetentionPeriod, "floor", e.cfg.MinRetention)
		return nil
	}

	cutoff := pol.Cutoff(e.now())
	log.Info("category purge starting", "cutoff", cutoff, "mode", pol.DeletionMode, "dryRun", dryRun)

	token := ""
	for {
		if stats.cancelled.Load() {
			return nil
		}
		if requested, err := e.jobs.CancelRequested(ctx, jobID); err == nil && requested {
			stats.cancelled.Store(true)
			log.Info("cancellation requested, stopping before next page")
			return nil
		}

		// Fresh hold snapshot per page: a hold created mid-run protects
		// records in pages not yet processed.
		snap, err := e.guard.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("hold snapshot: %w", err)
		}

		page, err := cat.Store.ListEligible(ctx, cutoff, token, e.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("list eligible %s records: %w", cat.Name, err)
		}

		for _, rec := range page.Records {
			stats.scanned.Add(1)
			if snap.Held(rec.OwnerID, cat.Name) {
				stats.held.Add(1)
				if e.metrics != nil {
					e.metrics.HoldRejections.WithLabelValues(cat.Name).Inc()
				}
				continue
			}
			if dryRun {
				stats.wouldPurge.Add(1)
				continue
			}
			if err := e.purgeRecord(ctx, jobID, cat, pol, rec, ""); err != nil {
				stats.failed.Add(1)
				if e.metrics != nil {
					e.metrics.RecordsFailed.WithLabelValues(cat.Name).Inc()
				}
				log.Warn("record purge failed", "recordId", rec.ID, "err", err)
				continue
			}
			if e.metrics != nil {
				e.metrics.RecordsPurged.WithLabelValues(cat.Name, pol.DeletionMode).Inc()
				if pol.ArchiveBeforeDelete {
					e.metrics.RecordsArchived.WithLabelValues(cat.Name).Inc()
				}
				if rec.SizeBytes > 0 && pol.DeletionMode == policy.ModeHard {
					e.metrics.BytesFreed.WithLabelValues(cat.Name).Add(float64(rec.SizeBytes))
				}
			}
		}

		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}

// purgeRecord archives and deletes a single record. Each destructive
// step commits its audit entry in the same transaction that marks the
// step successful; an archive failure aborts only this record, before
// any deletion is attempted.
func (e *Executor) purgeRecord(ctx context.Context, jobID string, cat Category, pol policy.RetentionPolicy, rec Record, actor string) error {
	if pol.ArchiveBeforeDelete {
		destination := pol.ArchiveTarget
		if destination == "" {
			destination = cat.ArchiveTarget
		}
		err := e.audit.RecordGuarded(ctx, func(ctx context.Context) (audit.Entry, error) {
			if err := e.withRetry(ctx, func(ctx context.Context) error {
				return e.archiver.Archive(ctx, rec.BlobRef, destination)
			}); err != nil {
				return audit.Entry{}, fmt.Errorf("archive: %w", err)
			}
			return audit.Entry{
				Action:       cat.ArchivedAction,
				ResourceType: cat.Name,
				ResourceID:   rec.ID,
				JobID:        jobID,
				PolicyID:     pol.ID,
				Actor:        actor,
				Metadata:     map[string]any{"destination": destination, "blobRef": rec.BlobRef},
			}, nil
		})
		if err != nil {
			return err
		}
	}

	switch pol.DeletionMode {
	case policy.ModeSoft:
		err := e.audit.RecordGuarded(ctx, func(ctx context.Context) (audit.Entry, error) {
			if err := e.withRetry(ctx, func(ctx context.Context) error {
				return cat.Store.MarkSoftDeleted(ctx, rec.ID)
			}); err != nil {
				return audit.Entry{}, fmt.Errorf("soft delete: %w", err)
			}
			return audit.Entry{
				Action:       cat.PurgedAction,
				ResourceType: cat.Name,
				ResourceID:   rec.ID,
				JobID:        jobID,
				PolicyID:     pol.ID,
				Actor:        actor,
				Metadata:     map[string]any{"mode": policy.ModeSoft},
			}, nil
		})
		if err != nil {
			// The record must not stay soft-deleted without its audit
			// entry; undoing the marker re-queues it for a later run.
			if undoErr := cat.Store.UnmarkSoftDeleted(ctx, rec.ID); undoErr != nil {
				e.logger.Error("soft-delete rollback failed",
					"category", cat.Name, "recordId", rec.ID, "err", undoErr)
			}
			return err
		}
		return nil

	case policy.ModeHard:
		if txStore, ok := cat.Store.(TxRecordStore); ok {
			return e.hardDeleteGuarded(ctx, jobID, cat, pol, rec, actor, txStore)
		}
		var deleted bool
		err := e.audit.RecordGuarded(ctx, func(ctx context.Context) (audit.Entry, error) {
			var freed int64
			if err := e.withRetry(ctx, func(ctx context.Context) error {
				n, err := cat.Store.HardDelete(ctx, rec.ID)
				if err != nil {
					return err
				}
				freed = n
				return nil
			}); err != nil {
				return audit.Entry{}, fmt.Errorf("hard delete: %w", err)
			}
			deleted = true
			if rec.BlobRef != "" {
				if err := e.withRetry(ctx, func(ctx context.Context) error {
					return e.archiver.Delete(ctx, rec.BlobRef)
				}); err != nil {
					// The record row is gone; an orphaned blob is
					// reclaimable later and must not fail the record.
					e.logger.Warn("blob delete failed after hard delete",
						"category", cat.Name, "recordId", rec.ID, "blobRef", rec.BlobRef, "err", err)
				}
			}
			return audit.Entry{
				Action:       cat.PurgedAction,
				ResourceType: cat.Name,
				ResourceID:   rec.ID,
				JobID:        jobID,
				PolicyID:     pol.ID,
				Actor:        actor,
				Metadata:     map[string]any{"mode": policy.ModeHard, "bytesFreed": freed},
			}, nil
		})
		if err != nil && deleted {
			e.logger.Error("record hard-deleted but audit commit failed, reconcile from store",
				"category", cat.Name, "recordId", rec.ID, "jobId", jobID, "err", err)
		}
		return err

	default:
		return fmt.Errorf("policy %s: unknown deletion mode %q", pol.ID, pol.DeletionMode)
	}
}

// hardDeleteGuarded removes the row inside the audit transaction. No
// retry wrapper around the delete: a failed statement poisons the
// transaction, so the whole record retries on a later run instead. The
// blob goes only after the transaction committed.
func (e *Executor) hardDeleteGuarded(ctx context.Context, jobID string, cat Category, pol policy.RetentionPolicy, rec Record, actor string, store TxRecordStore) error {
	err := e.audit.RecordGuardedIn(ctx, func(ctx context.Context, tx pgx.Tx) (audit.Entry, error) {
		freed, err := store.HardDeleteIn(ctx, tx, rec.ID)
		if err != nil {
			return audit.Entry{}, fmt.Errorf("hard delete: %w", err)
		}
		return audit.Entry{
			Action:       cat.PurgedAction,
			ResourceType: cat.Name,
			ResourceID:   rec.ID,
			JobID:        jobID,
			PolicyID:     pol.ID,
			Actor:        actor,
			Metadata:     map[string]any{"mode": policy.ModeHard, "bytesFreed": freed},
		}, nil
	})
	if err != nil {
		return err
	}
	if rec.BlobRef != "" {
		if err := e.withRetry(ctx, func(ctx context.Context) error {
			return e.archiver.Delete(ctx, rec.BlobRef)
		}); err != nil {
			// The record row is gone; an orphaned blob is reclaimable
			// later and must not fail the record.
			e.logger.Warn("blob delete failed after hard delete",
				"category", cat.Name, "recordId", rec.ID, "blobRef", rec.BlobRef, "err", err)
		}
	}
	return nil
}

// withRetry bounds each external call with a timeout and a fixed
// number of attempts; exhaustion demotes the record, never the job.
func (e *Executor) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(e.cfg.MaxAttempts-1), retry.NewConstant(e.cfg.RetryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
		defer cancel()
		if err := op(opCtx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

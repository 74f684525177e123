package purge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"lifecycle/internal/domain/audit"
	"lifecycle/internal/domain/job"
	"lifecycle/internal/domain/policy"
)

// ForceResult reports the outcome of a force purge, record by record.
type ForceResult struct {
	JobID    string   `json:"jobId"`
	Purged   []string `json:"purged"`
	Rejected []string `json:"rejected"`
	Failed   []string `json:"failed"`
}

// ForcePurge deletes the named records immediately, ignoring their
// retention cutoff. It never ignores legal holds: a held record is
// rejected and the rejection itself is written to the audit ledger with
// the requesting actor and reason. When every requested record is held
// the result carries ErrHoldViolation. The operation runs as its own
// job under the category lock.
func (e *Executor) ForcePurge(ctx context.Context, category string, recordIDs []string, reason, actor string) (ForceResult, error) {
	if len(recordIDs) == 0 {
		return ForceResult{}, ErrNoRecordIDs
	}
	cat, ok := e.registry.Get(category)
	if !ok {
		return ForceResult{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	if err := e.audit.Ready(ctx); err != nil {
		return ForceResult{}, fmt.Errorf("audit sink unavailable: %w", err)
	}

	// A missing policy does not block a force purge; retention is being
	// overridden anyway. The fallback deletes hard with no archive step.
	pol, err := e.policies.Active(ctx, category)
	if errors.Is(err, policy.ErrNotConfigured) {
		pol = policy.RetentionPolicy{DataCategory: category, DeletionMode: policy.ModeHard}
	} else if err != nil {
		return ForceResult{}, fmt.Errorf("resolve policy for %s: %w", category, err)
	}

	jobID := uuid.NewString()
	if err := e.locks.Acquire(ctx, category, jobID); err != nil {
		if errors.Is(err, job.ErrConflict) {
			return ForceResult{}, fmt.Errorf("category %s: %w", category, err)
		}
		return ForceResult{}, fmt.Errorf("acquire lock for %s: %w", category, err)
	}
	defer e.releaseLocks(ctx, []string{category}, jobID)

	if _, err := e.jobs.Create(ctx, jobID, job.TriggerForce, []string{category}); err != nil {
		return ForceResult{}, fmt.Errorf("create job: %w", err)
	}
	if err := e.jobs.MarkRunning(ctx, jobID); err != nil {
		if failErr := e.jobs.Fail(ctx, jobID, fmt.Sprintf("mark running: %v", err)); failErr != nil {
			e.logger.Error("job fail transition failed", "jobId", jobID, "err", failErr)
		}
		return ForceResult{}, err
	}

	result := ForceResult{JobID: jobID}
	counters := job.Counters{}
	log := e.logger.With("category", category, "jobId", jobID, "actor", actor)

	for _, id := range recordIDs {
		counters.Scanned++

		snap, err := e.guard.Snapshot(ctx)
		if err != nil {
			counters.Failed++
			result.Failed = append(result.Failed, id)
			log.Warn("hold snapshot failed", "recordId", id, "err", err)
			continue
		}

		rec, err := cat.Store.Get(ctx, id)
		if err != nil {
			counters.Failed++
			result.Failed = append(result.Failed, id)
			log.Warn("record lookup failed", "recordId", id, "err", err)
			continue
		}

		if snap.Held(rec.OwnerID, category) {
			result.Rejected = append(result.Rejected, id)
			if e.metrics != nil {
				e.metrics.HoldRejections.WithLabelValues(category).Inc()
			}
			entry := audit.Entry{
				Action:       audit.ActionForcePurgeRejected,
				ResourceType: category,
				ResourceID:   id,
				JobID:        jobID,
				Actor:        actor,
				Metadata:     map[string]any{"reason": reason, "ownerId": rec.OwnerID},
			}
			if err := e.audit.Record(ctx, entry); err != nil {
				log.Error("rejection entry append failed", "recordId", id, "err", err)
			}
			log.Warn("force purge rejected by legal hold", "recordId", id, "ownerId", rec.OwnerID)
			continue
		}

		if err := e.purgeRecord(ctx, jobID, cat, pol, rec, actor); err != nil {
			counters.Failed++
			result.Failed = append(result.Failed, id)
			if e.metrics != nil {
				e.metrics.RecordsFailed.WithLabelValues(category).Inc()
			}
			log.Warn("force purge failed", "recordId", id, "err", err)
			continue
		}
		result.Purged = append(result.Purged, id)
		if e.metrics != nil {
			e.metrics.RecordsPurged.WithLabelValues(category, pol.DeletionMode).Inc()
		}
	}

	totals, err := e.audit.JobTotals(ctx, jobID)
	if err != nil {
		msg := fmt.Sprintf("finalize counters: %v", err)
		if failErr := e.jobs.Fail(ctx, jobID, msg); failErr != nil {
			log.Error("job fail transition failed", "err", failErr)
		}
		return result, fmt.Errorf("finalize counters: %w", err)
	}
	counters.Deleted = totals[cat.PurgedAction].Count
	counters.BytesFreed = totals[cat.PurgedAction].BytesFreed
	counters.Archived = totals[cat.ArchivedAction].Count

	if err := e.jobs.Complete(ctx, jobID, counters); err != nil {
		log.Error("job complete transition failed", "err", err)
	}
	log.Info("force purge finished",
		"requested", len(recordIDs),
		"purged", len(result.Purged),
		"rejected", len(result.Rejected),
		"failed", len(result.Failed),
	)
	if len(result.Purged) == 0 && len(result.Failed) == 0 && len(result.Rejected) > 0 {
		return result, fmt.Errorf("%d of %d records held: %w", len(result.Rejected), len(recordIDs), ErrHoldViolation)
	}
	return result, nil
}

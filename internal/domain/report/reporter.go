package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"lifecycle/internal/domain/audit"
	"lifecycle/internal/domain/job"
	"lifecycle/internal/domain/policy"
	"lifecycle/internal/domain/purge"
	"lifecycle/internal/platform/db"
)

var ErrNotFound = errors.New("compliance report not found")

type PolicySource interface {
	List(ctx context.Context) ([]policy.RetentionPolicy, error)
}

type JobSource interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]job.PurgeJob, error)
}

type AuditSource interface {
	Count(ctx context.Context, filter audit.Filter) (int, error)
}

type Reporter struct {
	DB       db.Pool
	policies PolicySource
	jobs     JobSource
	audit    AuditSource
	registry *purge.Registry
	// FailureRateThreshold is the records-failed fraction above which a
	// category is flagged for review.
	FailureRateThreshold float64
}

func NewReporter(pool db.Pool, policies PolicySource, jobs JobSource, auditLog AuditSource, registry *purge.Registry, failureRateThreshold float64) *Reporter {
	if failureRateThreshold <= 0 {
		failureRateThreshold = 0.05
	}
	return &Reporter{
		DB:                   pool,
		policies:             policies,
		jobs:                 jobs,
		audit:                auditLog,
		registry:             registry,
		FailureRateThreshold: failureRateThreshold,
	}
}

// Generate aggregates the window into a new report row. The report is
// derived data; regenerating the same window produces a fresh row with
// the same figures unless the underlying ledger grew.
func (r *Reporter) Generate(ctx context.Context, periodStart, periodEnd time.Time) (ComplianceReport, error) {
	if !periodEnd.After(periodStart) {
		return ComplianceReport{}, fmt.Errorf("periodEnd must be after periodStart")
	}

	policies, err := r.policies.List(ctx)
	if err != nil {
		return ComplianceReport{}, fmt.Errorf("list policies: %w", err)
	}
	jobs, err := r.jobs.ListBetween(ctx, periodStart, periodEnd)
	if err != nil {
		return ComplianceReport{}, fmt.Errorf("list jobs: %w", err)
	}

	var activity []CategoryActivity
	for _, name := range r.registry.Names() {
		cat, _ := r.registry.Get(name)
		a := CategoryActivity{Category: name}
		window := audit.Filter{From: periodStart, To: periodEnd}

		filter := window
		filter.Action = cat.PurgedAction
		purged, err := r.audit.Count(ctx, filter)
		if err != nil {
			return ComplianceReport{}, fmt.Errorf("count %s entries: %w", cat.PurgedAction, err)
		}
		a.Purged = int64(purged)

		filter = window
		filter.Action = cat.ArchivedAction
		archived, err := r.audit.Count(ctx, filter)
		if err != nil {
			return ComplianceReport{}, fmt.Errorf("count %s entries: %w", cat.ArchivedAction, err)
		}
		a.Archived = int64(archived)

		filter = window
		filter.Action = audit.ActionForcePurgeRejected
		filter.ResourceType = name
		rejected, err := r.audit.Count(ctx, filter)
		if err != nil {
			return ComplianceReport{}, fmt.Errorf("count rejections: %w", err)
		}
		a.Rejections = int64(rejected)

		activity = append(activity, a)
	}

	metrics, violations, recommendations := buildReport(policies, jobs, activity, r.FailureRateThreshold)
	rep := ComplianceReport{
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		Metrics:         metrics,
		Violations:      violations,
		Recommendations: recommendations,
	}
	if err := r.persist(ctx, &rep); err != nil {
		return ComplianceReport{}, err
	}
	return rep, nil
}

func (r *Reporter) persist(ctx context.Context, rep *ComplianceReport) error {
	metricsJSON, err := json.Marshal(rep.Metrics)
	if err != nil {
		return err
	}
	violations := rep.Violations
	if violations == nil {
		violations = []Violation{}
	}
	violationsJSON, err := json.Marshal(violations)
	if err != nil {
		return err
	}
	recommendations := rep.Recommendations
	if recommendations == nil {
		recommendations = []string{}
	}
	recommendationsJSON, err := json.Marshal(recommendations)
	if err != nil {
		return err
	}
	return r.DB.QueryRow(ctx, `
    INSERT INTO compliance_reports (period_start, period_end, metrics_json, violations_json, recommendations_json)
    VALUES ($1,$2,$3,$4,$5)
    RETURNING id, generated_at
  `, rep.PeriodStart, rep.PeriodEnd, metricsJSON, violationsJSON, recommendationsJSON).
		Scan(&rep.ID, &rep.GeneratedAt)
}

func (r *Reporter) Get(ctx context.Context, id string) (ComplianceReport, error) {
	var rep ComplianceReport
	var metricsJSON, violationsJSON, recommendationsJSON []byte
	err := r.DB.QueryRow(ctx, `
    SELECT id, period_start, period_end, metrics_json, violations_json, recommendations_json, generated_at
    FROM compliance_reports WHERE id = $1
  `, id).Scan(&rep.ID, &rep.PeriodStart, &rep.PeriodEnd, &metricsJSON, &violationsJSON, &recommendationsJSON, &rep.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ComplianceReport{}, ErrNotFound
	}
	if err != nil {
		return ComplianceReport{}, err
	}
	if err := json.Unmarshal(metricsJSON, &rep.Metrics); err != nil {
		return ComplianceReport{}, err
	}
	if err := json.Unmarshal(violationsJSON, &rep.Violations); err != nil {
		return ComplianceReport{}, err
	}
	if err := json.Unmarshal(recommendationsJSON, &rep.Recommendations); err != nil {
		return ComplianceReport{}, err
	}
	return rep, nil
}

func (r *Reporter) List(ctx context.Context, limit, offset int) ([]ComplianceReport, error) {
	rows, err := r.DB.Query(ctx, `
    SELECT id, period_start, period_end, generated_at
    FROM compliance_reports
    ORDER BY generated_at DESC LIMIT $1 OFFSET $2
  `, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ComplianceReport
	for rows.Next() {
		var rep ComplianceReport
		if err := rows.Scan(&rep.ID, &rep.PeriodStart, &rep.PeriodEnd, &rep.GeneratedAt); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

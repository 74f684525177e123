package report

import (
	"fmt"
	"sort"

	"lifecycle/internal/domain/job"
	"lifecycle/internal/domain/policy"
)

// CategoryActivity carries the audit-derived counts for one category in
// the reporting window. Purged and Archived reflect committed ledger
// entries, not in-memory tallies.
type CategoryActivity struct {
	Category   string
	Purged     int64
	Archived   int64
	Rejections int64
}

// buildReport is the pure aggregation core. It attributes job counters
// to every category a job targeted, so single-category jobs attribute
// exactly and multi-category jobs give each target the job-level view.
func buildReport(policies []policy.RetentionPolicy, jobs []job.PurgeJob, activity []CategoryActivity, failureRateThreshold float64) (Metrics, []Violation, []string) {
	byCategory := map[string]*CategoryMetrics{}
	category := func(name string) *CategoryMetrics {
		if m, ok := byCategory[name]; ok {
			return m
		}
		m := &CategoryMetrics{Category: name}
		byCategory[name] = m
		return m
	}

	var metrics Metrics
	for _, j := range jobs {
		metrics.TotalJobs++
		switch j.Status {
		case job.StatusCompleted:
			metrics.CompletedJobs++
		case job.StatusFailed:
			metrics.FailedJobs++
		case job.StatusCancelled:
			metrics.CancelledJobs++
		}
		metrics.RecordsFailed += j.RecordsFailed
		metrics.StorageBytesFreed += j.StorageBytesFreed

		for _, name := range j.TargetCategories {
			m := category(name)
			switch j.Status {
			case job.StatusCompleted:
				m.JobsCompleted++
			case job.StatusFailed:
				m.JobsFailed++
			}
			m.RecordsScanned += j.RecordsScanned
			m.RecordsFailed += j.RecordsFailed
		}
	}
	for _, a := range activity {
		m := category(a.Category)
		m.RecordsPurged = a.Purged
		m.RecordsArchived = a.Archived
		m.HoldRejections = a.Rejections
		metrics.RecordsPurged += a.Purged
		metrics.RecordsArchived += a.Archived
		metrics.HoldRejections += a.Rejections
	}

	names := make([]string, 0, len(byCategory))
	for name := range byCategory {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		metrics.Categories = append(metrics.Categories, *byCategory[name])
	}

	var violations []Violation
	var recommendations []string
	for _, p := range policies {
		if !p.IsActive {
			continue
		}
		m, seen := byCategory[p.DataCategory]
		if !seen || m.JobsCompleted == 0 {
			violations = append(violations, Violation{
				Kind:     ViolationNoCompletedRun,
				Category: p.DataCategory,
				Detail:   fmt.Sprintf("active policy for %s had no completed purge run in the period", p.DataCategory),
			})
			recommendations = append(recommendations,
				fmt.Sprintf("check scheduler coverage for category %s", p.DataCategory))
		}
	}
	for _, name := range names {
		m := byCategory[name]
		if m.RecordsScanned == 0 {
			continue
		}
		rate := float64(m.RecordsFailed) / float64(m.RecordsScanned)
		if rate > failureRateThreshold {
			violations = append(violations, Violation{
				Kind:     ViolationElevatedFailureRate,
				Category: name,
				Detail:   fmt.Sprintf("%.1f%% of scanned records failed (threshold %.1f%%)", rate*100, failureRateThreshold*100),
			})
			recommendations = append(recommendations,
				fmt.Sprintf("needs review: elevated purge failure rate for category %s", name))
		}
	}
	if metrics.HoldRejections > 0 {
		recommendations = append(recommendations,
			fmt.Sprintf("%d purge attempts were rejected by legal holds; review outstanding holds", metrics.HoldRejections))
	}

	return metrics, violations, recommendations
}

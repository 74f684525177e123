// Package report derives compliance reports from purge jobs and the
// audit ledger. Reports are regenerable snapshots; generating one never
// mutates the data it aggregates.
package report

import "time"

const (
	ViolationNoCompletedRun      = "no_completed_run"
	ViolationElevatedFailureRate = "elevated_failure_rate"
)

type Violation struct {
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Detail   string `json:"detail"`
}

// CategoryMetrics aggregates one category's activity inside the
// reporting window. Purged and Archived come from committed audit
// entries; the job figures come from purge_jobs rows.
type CategoryMetrics struct {
	Category        string `json:"category"`
	JobsCompleted   int    `json:"jobsCompleted"`
	JobsFailed      int    `json:"jobsFailed"`
	RecordsScanned  int64  `json:"recordsScanned"`
	RecordsFailed   int64  `json:"recordsFailed"`
	RecordsPurged   int64  `json:"recordsPurged"`
	RecordsArchived int64  `json:"recordsArchived"`
	HoldRejections  int64  `json:"holdRejections"`
}

type Metrics struct {
	TotalJobs         int               `json:"totalJobs"`
	CompletedJobs     int               `json:"completedJobs"`
	FailedJobs        int               `json:"failedJobs"`
	CancelledJobs     int               `json:"cancelledJobs"`
	RecordsPurged     int64             `json:"recordsPurged"`
	RecordsArchived   int64             `json:"recordsArchived"`
	RecordsFailed     int64             `json:"recordsFailed"`
	StorageBytesFreed int64             `json:"storageBytesFreed"`
	HoldRejections    int64             `json:"holdRejections"`
	Categories        []CategoryMetrics `json:"categories"`
}

type ComplianceReport struct {
	ID              string      `json:"id"`
	PeriodStart     time.Time   `json:"periodStart"`
	PeriodEnd       time.Time   `json:"periodEnd"`
	Metrics         Metrics     `json:"metrics"`
	Violations      []Violation `json:"violations"`
	Recommendations []string    `json:"recommendations"`
	GeneratedAt     time.Time   `json:"generatedAt"`
}

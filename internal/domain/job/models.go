package job

import (
	"errors"
	"time"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerDryRun    = "dry_run"
	TriggerForce     = "force"
)

var (
	ErrNotFound = errors.New("purge job not found")
	// ErrInvalidTransition means a lifecycle edge was attempted out of
	// order or twice; every edge fires exactly once.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrConflict means a run is already in flight for a category.
	ErrConflict = errors.New("purge run already in progress for category")
)

type PurgeJob struct {
	ID                string     `json:"id"`
	Trigger           string     `json:"trigger"`
	TargetCategories  []string   `json:"targetCategories"`
	Status            string     `json:"status"`
	RecordsScanned    int64      `json:"recordsScanned"`
	RecordsDeleted    int64      `json:"recordsDeleted"`
	RecordsArchived   int64      `json:"recordsArchived"`
	RecordsFailed     int64      `json:"recordsFailed"`
	RecordsWouldPurge int64      `json:"recordsWouldPurge"`
	StorageBytesFreed int64      `json:"storageBytesFreed"`
	CancelRequested   bool       `json:"cancelRequested"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	StartedAt         time.Time  `json:"startedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// Counters is the terminal tally written when a job finishes. Deleted,
// archived and freed-bytes figures come from committed audit entries.
// WouldPurge is the dry-run counterpart of Deleted; real runs leave it
// at zero.
type Counters struct {
	Scanned    int64
	Deleted    int64
	Archived   int64
	Failed     int64
	WouldPurge int64
	BytesFreed int64
}

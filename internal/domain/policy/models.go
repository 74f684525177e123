package policy

import (
	"errors"
	"fmt"
	"time"
)

const (
	ModeSoft = "soft"
	ModeHard = "hard"
)

// ErrNotConfigured signals that a category has no active retention
// policy. Callers must skip the category; absence of configuration is
// never an instruction to delete.
var ErrNotConfigured = errors.New("no active retention policy for category")

type RetentionPolicy struct {
	ID                  string        `json:"id"`
	DataCategory        string        `json:"dataCategory"`
	RetentionPeriod     time.Duration `json:"retentionPeriod"`
	DeletionMode        string        `json:"deletionMode"`
	ArchiveBeforeDelete bool          `json:"archiveBeforeDelete"`
	ArchiveTarget       string        `json:"archiveTarget,omitempty"`
	IsActive            bool          `json:"isActive"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// Cutoff returns the moment before which records become purge-eligible.
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.Add(-p.RetentionPeriod)
}

func (p RetentionPolicy) Validate() error {
	if p.DataCategory == "" {
		return fmt.Errorf("dataCategory is required")
	}
	if p.RetentionPeriod <= 0 {
		return fmt.Errorf("retentionPeriod must be positive")
	}
	if p.DeletionMode != ModeSoft && p.DeletionMode != ModeHard {
		return fmt.Errorf("deletionMode must be %q or %q", ModeSoft, ModeHard)
	}
	if p.ArchiveBeforeDelete && p.ArchiveTarget == "" {
		return fmt.Errorf("archiveTarget is required when archiveBeforeDelete is set")
	}
	return nil
}

package hold

import (
	"errors"
	"time"
)

const (
	StatusActive   = "active"
	StatusReleased = "released"
)

var (
	ErrNotFound        = errors.New("legal hold not found")
	ErrAlreadyReleased = errors.New("legal hold already released")
)

// Scope limits a hold to particular users and/or data categories. An
// empty slice on either dimension is a wildcard for that dimension
// only: a hold with no user IDs covers every owner of the listed
// categories, and a hold with no categories covers all categories for
// the listed users. Both empty means a global hold that freezes all
// purging; creating one is allowed but deliberate (see Validate).
type Scope struct {
	UserIDs        []string `json:"userIds"`
	DataCategories []string `json:"dataCategories"`
}

type LegalHold struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Scope      Scope      `json:"scope"`
	Reason     string     `json:"reason"`
	CreatedBy  string     `json:"createdBy"`
	CreatedAt  time.Time  `json:"createdAt"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
}

func (h LegalHold) Validate() error {
	if h.Reason == "" {
		return errors.New("reason is required")
	}
	if h.CreatedBy == "" {
		return errors.New("createdBy is required")
	}
	return nil
}

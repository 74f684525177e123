package purge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Record is the engine's view of a purgeable record. The concrete
// shape is owned by the category's store; the engine only needs enough
// to evaluate holds, archive blobs and report sizes.
type Record struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time
	SizeBytes int64
	BlobRef   string
}

type Page struct {
	Records   []Record
	NextToken string
}

// RecordStore is implemented per category by whichever system owns the
// records. ListEligible must return records in a stable, non-overlapping
// order and must exclude records already marked soft-deleted; the
// engine's idempotence rests on that exclusion.
type RecordStore interface {
	ListEligible(ctx context.Context, cutoff time.Time, pageToken string, limit int) (Page, error)
	Get(ctx context.Context, id string) (Record, error)
	MarkSoftDeleted(ctx context.Context, id string) error
	// UnmarkSoftDeleted undoes a soft-delete marker whose audit entry
	// failed to commit, so the record is retried on a later run instead
	// of vanishing from queries unaudited.
	UnmarkSoftDeleted(ctx context.Context, id string) error
	HardDelete(ctx context.Context, id string) (bytesFreed int64, err error)
}

// Category binds a data category name to its record store and its
// audit action names. The executor is category-agnostic; everything
// category-specific lives here.
type Category struct {
	Name           string
	PurgedAction   string
	ArchivedAction string
	ArchiveTarget  string
	Store          RecordStore
}

type Registry struct {
	categories map[string]Category
}

func NewRegistry() *Registry {
	return &Registry{categories: map[string]Category{}}
}

func (r *Registry) Register(c Category) error {
	if c.Name == "" {
		return fmt.Errorf("category name is required")
	}
	if c.Store == nil {
		return fmt.Errorf("category %s: record store is required", c.Name)
	}
	if _, exists := r.categories[c.Name]; exists {
		return fmt.Errorf("category %s already registered", c.Name)
	}
	if c.PurgedAction == "" {
		c.PurgedAction = singular(c.Name) + "_purged"
	}
	if c.ArchivedAction == "" {
		c.ArchivedAction = singular(c.Name) + "_archived"
	}
	if c.ArchiveTarget == "" {
		c.ArchiveTarget = c.Name
	}
	r.categories[c.Name] = c
	return nil
}

func (r *Registry) Get(name string) (Category, bool) {
	c, ok := r.categories[name]
	return c, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.categories))
	for name := range r.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func singular(name string) string {
	if len(name) > 1 && strings.HasSuffix(name, "s") {
		return strings.TrimSuffix(name, "s")
	}
	return name
}

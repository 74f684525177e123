package policy

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"lifecycle/internal/platform/db"
)

type Store struct {
	DB db.Pool
}

func NewStore(pool db.Pool) *Store {
	return &Store{DB: pool}
}

// Active returns the single active policy for a category, or
// ErrNotConfigured when none exists.
func (s *Store) Active(ctx context.Context, category string) (RetentionPolicy, error) {
	var p RetentionPolicy
	var retentionSeconds int64
	err := s.DB.QueryRow(ctx, `
    SELECT id, data_category, retention_seconds, deletion_mode, archive_before_delete, archive_target, is_active, created_at, updated_at
    FROM retention_policies
    WHERE data_category = $1 AND is_active
  `, category).Scan(&p.ID, &p.DataCategory, &retentionSeconds, &p.DeletionMode, &p.ArchiveBeforeDelete, &p.ArchiveTarget, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RetentionPolicy{}, ErrNotConfigured
	}
	if err != nil {
		return RetentionPolicy{}, err
	}
	p.RetentionPeriod = time.Duration(retentionSeconds) * time.Second
	return p, nil
}

func (s *Store) Upsert(ctx context.Context, p RetentionPolicy) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	var id string
	if err := s.DB.QueryRow(ctx, `
    INSERT INTO retention_policies (data_category, retention_seconds, deletion_mode, archive_before_delete, archive_target, is_active)
    VALUES ($1,$2,$3,$4,$5,TRUE)
    ON CONFLICT (data_category) WHERE is_active DO UPDATE
      SET retention_seconds = EXCLUDED.retention_seconds,
          deletion_mode = EXCLUDED.deletion_mode,
          archive_before_delete = EXCLUDED.archive_before_delete,
          archive_target = EXCLUDED.archive_target,
          updated_at = now()
    RETURNING id
  `, p.DataCategory, int64(p.RetentionPeriod/time.Second), p.DeletionMode, p.ArchiveBeforeDelete, p.ArchiveTarget).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Deactivate(ctx context.Context, category string) error {
	tag, err := s.DB.Exec(ctx, `
    UPDATE retention_policies SET is_active = FALSE, updated_at = now()
    WHERE data_category = $1 AND is_active
  `, category)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotConfigured
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]RetentionPolicy, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, data_category, retention_seconds, deletion_mode, archive_before_delete, archive_target, is_active, created_at, updated_at
    FROM retention_policies
    WHERE is_active
    ORDER BY data_category
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []RetentionPolicy
	for rows.Next() {
		var p RetentionPolicy
		var retentionSeconds int64
		if err := rows.Scan(&p.ID, &p.DataCategory, &retentionSeconds, &p.DeletionMode, &p.ArchiveBeforeDelete, &p.ArchiveTarget, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.RetentionPeriod = time.Duration(retentionSeconds) * time.Second
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

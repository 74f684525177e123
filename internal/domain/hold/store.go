package hold

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"lifecycle/internal/platform/db"
)

type Store struct {
	DB db.Pool
}

func NewStore(pool db.Pool) *Store {
	return &Store{DB: pool}
}

func (s *Store) Create(ctx context.Context, h LegalHold) (string, error) {
	if err := h.Validate(); err != nil {
		return "", err
	}
	userIDs := h.Scope.UserIDs
	if userIDs == nil {
		userIDs = []string{}
	}
	categories := h.Scope.DataCategories
	if categories == nil {
		categories = []string{}
	}
	var id string
	if err := s.DB.QueryRow(ctx, `
    INSERT INTO legal_holds (status, user_ids, data_categories, reason, created_by)
    VALUES ($1,$2,$3,$4,$5)
    RETURNING id
  `, StatusActive, userIDs, categories, h.Reason, h.CreatedBy).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// Release transitions a hold to released exactly once. Released holds
// are immutable; their rows stay for audit history.
func (s *Store) Release(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `
    UPDATE legal_holds SET status = $1, released_at = now()
    WHERE id = $2 AND status = $3
  `, StatusReleased, id, StatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyReleased
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (LegalHold, error) {
	var h LegalHold
	err := s.DB.QueryRow(ctx, `
    SELECT id, status, user_ids, data_categories, reason, created_by, created_at, released_at
    FROM legal_holds
    WHERE id = $1
  `, id).Scan(&h.ID, &h.Status, &h.Scope.UserIDs, &h.Scope.DataCategories, &h.Reason, &h.CreatedBy, &h.CreatedAt, &h.ReleasedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LegalHold{}, ErrNotFound
	}
	return h, err
}

func (s *Store) ListActive(ctx context.Context) ([]LegalHold, error) {
	return s.list(ctx, `
    SELECT id, status, user_ids, data_categories, reason, created_by, created_at, released_at
    FROM legal_holds
    WHERE status = 'active'
    ORDER BY created_at
  `)
}

func (s *Store) List(ctx context.Context) ([]LegalHold, error) {
	return s.list(ctx, `
    SELECT id, status, user_ids, data_categories, reason, created_by, created_at, released_at
    FROM legal_holds
    ORDER BY created_at DESC
  `)
}

func (s *Store) list(ctx context.Context, query string) ([]LegalHold, error) {
	rows, err := s.DB.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []LegalHold
	for rows.Next() {
		var h LegalHold
		if err := rows.Scan(&h.ID, &h.Status, &h.Scope.UserIDs, &h.Scope.DataCategories, &h.Reason, &h.CreatedBy, &h.CreatedAt, &h.ReleasedAt); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

// Guard answers hold checks for the purge paths. It snapshots active
// holds so a page of records is evaluated against one consistent view.
type Guard struct {
	store *Store
}

func NewGuard(store *Store) *Guard {
	return &Guard{store: store}
}

func (g *Guard) Snapshot(ctx context.Context) (Snapshot, error) {
	holds, err := g.store.ListActive(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(holds), nil
}

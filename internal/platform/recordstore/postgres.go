// Package recordstore provides a Postgres-backed record store for data
// categories whose rows live in this database with the conventional
// columns (id, owner_id, created_at, size_bytes, blob_ref, deleted_at).
// Categories owned by other systems implement the same interface on
// their side.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"lifecycle/internal/domain/purge"
	"lifecycle/internal/platform/db"
)

var ErrNotFound = errors.New("record not found")

// Postgres pages with a keyset on (created_at, id) so records deleted
// between pages never shift the remaining pages.
type Postgres struct {
	DB    db.Pool
	Table string
}

func New(pool db.Pool, table string) (*Postgres, error) {
	if !validTable(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{DB: pool, Table: table}, nil
}

// validTable guards the one identifier that cannot be a bind parameter.
func validTable(table string) bool {
	if table == "" {
		return false
	}
	for _, r := range table {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return false
	}
	return true
}

func (p *Postgres) ListEligible(ctx context.Context, cutoff time.Time, pageToken string, limit int) (purge.Page, error) {
	query := fmt.Sprintf(`
    SELECT id, owner_id, created_at, COALESCE(size_bytes, 0), COALESCE(blob_ref, '')
    FROM %s
    WHERE created_at < $1 AND deleted_at IS NULL
  `, p.Table)
	args := []any{cutoff}

	if pageToken != "" {
		afterTime, afterID, err := decodeToken(pageToken)
		if err != nil {
			return purge.Page{}, err
		}
		query += " AND (created_at, id) > ($2, $3)"
		args = append(args, afterTime, afterID)
	}
	query += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", len(args)+1)
	args = append(args, limit+1)

	rows, err := p.DB.Query(ctx, query, args...)
	if err != nil {
		return purge.Page{}, err
	}
	defer rows.Close()

	var records []purge.Record
	for rows.Next() {
		var r purge.Record
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.CreatedAt, &r.SizeBytes, &r.BlobRef); err != nil {
			return purge.Page{}, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return purge.Page{}, err
	}

	page := purge.Page{Records: records}
	if len(records) > limit {
		page.Records = records[:limit]
		last := page.Records[limit-1]
		page.NextToken = encodeToken(last.CreatedAt, last.ID)
	}
	return page, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (purge.Record, error) {
	var r purge.Record
	err := p.DB.QueryRow(ctx, fmt.Sprintf(`
    SELECT id, owner_id, created_at, COALESCE(size_bytes, 0), COALESCE(blob_ref, '')
    FROM %s WHERE id = $1 AND deleted_at IS NULL
  `, p.Table), id).Scan(&r.ID, &r.OwnerID, &r.CreatedAt, &r.SizeBytes, &r.BlobRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return purge.Record{}, ErrNotFound
	}
	if err != nil {
		return purge.Record{}, err
	}
	return r, nil
}

func (p *Postgres) MarkSoftDeleted(ctx context.Context, id string) error {
	tag, err := p.DB.Exec(ctx, fmt.Sprintf(`
    UPDATE %s SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL
  `, p.Table), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UnmarkSoftDeleted(ctx context.Context, id string) error {
	_, err := p.DB.Exec(ctx, fmt.Sprintf(`
    UPDATE %s SET deleted_at = NULL WHERE id = $1
  `, p.Table), id)
	return err
}

func (p *Postgres) HardDelete(ctx context.Context, id string) (int64, error) {
	var freed int64
	err := p.DB.QueryRow(ctx, fmt.Sprintf(`
    DELETE FROM %s WHERE id = $1 RETURNING COALESCE(size_bytes, 0)
  `, p.Table), id).Scan(&freed)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return freed, nil
}

// HardDeleteIn deletes within the caller's transaction. The purge
// executor uses it so the row removal and its audit entry commit
// together.
func (p *Postgres) HardDeleteIn(ctx context.Context, tx pgx.Tx, id string) (int64, error) {
	var freed int64
	err := tx.QueryRow(ctx, fmt.Sprintf(`
    DELETE FROM %s WHERE id = $1 RETURNING COALESCE(size_bytes, 0)
  `, p.Table), id).Scan(&freed)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return freed, nil
}

func encodeToken(createdAt time.Time, id string) string {
	return createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
}

func decodeToken(token string) (time.Time, string, error) {
	at, id, ok := strings.Cut(token, "|")
	if !ok {
		return time.Time{}, "", fmt.Errorf("malformed page token")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed page token: %w", err)
	}
	return createdAt, id, nil
}

// Package audit is the append-only ledger of every mutating action the
// purge engine takes. Entries are never updated or deleted; job
// counters are derived from committed entries so the ledger and the
// job metrics cannot drift apart.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"lifecycle/internal/platform/db"
)

const ActionForcePurgeRejected = "force_purge_rejected"

type Entry struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	JobID        string         `json:"jobId,omitempty"`
	PolicyID     string         `json:"policyId,omitempty"`
	Actor        string         `json:"actor,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

type Filter struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	JobID        string
	From         time.Time
	To           time.Time
}

type Tally struct {
	Count      int64
	BytesFreed int64
}

// Totals maps an action name to its committed entry tally for one job.
type Totals map[string]Tally

type Service struct {
	DB db.Pool
}

func New(pool db.Pool) *Service {
	return &Service{DB: pool}
}

// Ready probes the audit sink. The executor refuses to start a job when
// the sink is unreachable, since nothing may be deleted unaudited.
func (s *Service) Ready(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

func (s *Service) Record(ctx context.Context, e Entry) error {
	return insertEntry(ctx, s.DB, e)
}

// RecordGuarded runs op and appends the entry it returns inside one
// transaction, committing only when op succeeded. A destructive action
// counts as done only once its entry is durably committed; if the
// append or commit fails the caller must treat the record as failed
// and undo or retry the action on a later run.
func (s *Service) RecordGuarded(ctx context.Context, op func(ctx context.Context) (Entry, error)) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("audit tx begin: %w", err)
	}
	entry, err := op(ctx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("audit append: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("audit commit: %w", err)
	}
	return nil
}

// RecordGuardedIn is RecordGuarded with the transaction handed to op,
// for destructive statements that live in the same database as the
// ledger. The statement and its entry then commit or roll back as one;
// a record can never be gone without its committed entry.
func (s *Service) RecordGuardedIn(ctx context.Context, op func(ctx context.Context, tx pgx.Tx) (Entry, error)) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("audit tx begin: %w", err)
	}
	entry, err := op(ctx, tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("audit append: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("audit commit: %w", err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertEntry(ctx context.Context, db execer, e Entry) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	var jobID, policyID any
	if e.JobID != "" {
		jobID = e.JobID
	}
	if e.PolicyID != "" {
		policyID = e.PolicyID
	}
	_, err = db.Exec(ctx, `
    INSERT INTO audit_entries (action, resource_type, resource_id, job_id, policy_id, actor, metadata)
    VALUES ($1,$2,$3,$4,$5,$6,$7)
  `, e.Action, e.ResourceType, e.ResourceID, jobID, policyID, e.Actor, metadataJSON)
	return err
}

// JobTotals aggregates committed entries for one job by action, with
// the blob bytes recorded in their metadata. Job counters are
// finalized from this, not from an in-memory tally.
func (s *Service) JobTotals(ctx context.Context, jobID string) (Totals, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT action, COUNT(1), COALESCE(SUM((metadata->>'bytesFreed')::bigint), 0)
    FROM audit_entries
    WHERE job_id = $1
    GROUP BY action
  `, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := Totals{}
	for rows.Next() {
		var action string
		var tally Tally
		if err := rows.Scan(&action, &tally.Count, &tally.BytesFreed); err != nil {
			return nil, err
		}
		totals[action] = tally
	}
	return totals, rows.Err()
}

func (s *Service) Count(ctx context.Context, filter Filter) (int, error) {
	query, args := buildBaseQuery("SELECT COUNT(1)", filter)
	var total int
	if err := s.DB.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Service) List(ctx context.Context, filter Filter, limit, offset int) ([]Entry, error) {
	query, args := buildBaseQuery("SELECT id, action, resource_type, resource_id, COALESCE(job_id::text, ''), COALESCE(policy_id::text, ''), actor, metadata, created_at", filter)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var metadataJSON []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.ResourceType, &e.ResourceID, &e.JobID, &e.PolicyID, &e.Actor, &metadataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func buildBaseQuery(prefix string, filter Filter) (string, []any) {
	query := prefix + " FROM audit_entries WHERE 1=1"
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(clause, len(args))
	}
	if filter.Actor != "" {
		add(" AND actor = $%d", filter.Actor)
	}
	if filter.Action != "" {
		add(" AND action = $%d", filter.Action)
	}
	if filter.ResourceType != "" {
		add(" AND resource_type = $%d", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add(" AND resource_id = $%d", filter.ResourceID)
	}
	if filter.JobID != "" {
		add(" AND job_id = $%d", filter.JobID)
	}
	if !filter.From.IsZero() {
		add(" AND created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add(" AND created_at < $%d", filter.To)
	}
	return query, args
}

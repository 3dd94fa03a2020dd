// Package postgres implements the outbox store against a pgx connection
// pool, plus a LISTEN/NOTIFY-based wake-up for the relay's poll loop built
// on lib/pq. The listener is only a latency optimization: the poll loop is
// the source of truth, so a missed notification can never strand a
// record.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/outboxrelay/outboxrelay/internal/core/domain"
	"github.com/outboxrelay/outboxrelay/internal/core/ports"
)

// pool is the subset of *pgxpool.Pool the store needs, extracted so unit
// tests can substitute a hand-rolled fake instead of a live connection
// (go-sqlmock targets database/sql, not pgx, so it cannot stand in for
// this store).
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ports.OutboxStore over the outbox_messages table.
type Store struct {
	pool pool
}

var _ ports.OutboxStore = (*Store)(nil)

// New wraps a pgx pool (or any fake satisfying the same three methods).
func New(p pool) *Store {
	return &Store{pool: p}
}

// Insert enlists a new PENDING record inside the caller's transaction.
func (s *Store) Insert(ctx context.Context, tx ports.Querier, rec *domain.OutboxRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_messages
			(id, aggregate_id, aggregate_type, event_type, payload, changed_fields,
			 status, created_at, retry_count, max_retries, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, 0)`,
		rec.ID, rec.AggregateID, rec.AggregateType, rec.EventType,
		string(rec.Payload), nullableJSON(rec.ChangedFields),
		string(domain.StatusPending), rec.CreatedAt, rec.MaxRetries,
	)
	if err != nil {
		return fmt.Errorf("insert outbox record: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// LeasePending selects up to limit PENDING records whose worker_id is
// either NULL or equal to workerID, ordered by created_at ascending.
func (s *Store) LeasePending(ctx context.Context, workerID string, limit int) ([]domain.OutboxRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, payload, changed_fields,
		       status, created_at, processed_at, retry_count, max_retries,
		       error_message, worker_id, version
		FROM outbox_messages
		WHERE status = $1 AND (worker_id IS NULL OR worker_id = $2)
		ORDER BY created_at ASC
		LIMIT $3`,
		string(domain.StatusPending), workerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("lease pending: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("lease pending: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lease pending: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.OutboxRecord, error) {
	var rec domain.OutboxRecord
	var status string
	var payload, changedFields *string
	var processedAt *time.Time
	var errorMessage, workerID *string

	err := row.Scan(
		&rec.ID, &rec.AggregateID, &rec.AggregateType, &rec.EventType,
		&payload, &changedFields, &status, &rec.CreatedAt, &processedAt,
		&rec.RetryCount, &rec.MaxRetries, &errorMessage, &workerID, &rec.Version,
	)
	if err != nil {
		return domain.OutboxRecord{}, err
	}
	rec.Status = domain.Status(status)
	if payload != nil {
		rec.Payload = []byte(*payload)
	}
	if changedFields != nil {
		rec.ChangedFields = []byte(*changedFields)
	}
	rec.ProcessedAt = processedAt
	rec.ErrorMessage = errorMessage
	rec.WorkerID = workerID
	return rec, nil
}

// Claim sets worker_id := workerID guarded by version, bumping version.
func (s *Store) Claim(ctx context.Context, rec *domain.OutboxRecord, workerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages
		SET worker_id = $1, version = version + 1
		WHERE id = $2 AND version = $3`,
		workerID, rec.ID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrContention
	}
	rec.WorkerID = &workerID
	rec.Version++
	return nil
}

// MarkSent transitions the record to SENT, guarded by version. Calling it
// twice on the same (now stale) version is a no-op contention skip, not a
// regression — idempotence the relay engine relies on under crash-retry.
func (s *Store) MarkSent(ctx context.Context, rec *domain.OutboxRecord) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages
		SET status = $1, processed_at = $2, error_message = NULL, version = version + 1
		WHERE id = $3 AND version = $4`,
		string(domain.StatusSent), now, rec.ID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrContention
	}
	rec.Status = domain.StatusSent
	rec.ProcessedAt = &now
	rec.ErrorMessage = nil
	rec.Version++
	return nil
}

// MarkFailed increments retry_count and, on exhausting max_retries,
// promotes the record to DEAD_LETTER with processed_at set; otherwise it
// resets status to PENDING with worker_id cleared so the next poll picks
// it back up (the fix for the "FAILED re-polling" open question).
func (s *Store) MarkFailed(ctx context.Context, rec *domain.OutboxRecord, cause error) (domain.Status, error) {
	msg := cause.Error()
	newRetryCount := rec.RetryCount + 1

	if newRetryCount >= rec.MaxRetries {
		now := time.Now().UTC()
		tag, err := s.pool.Exec(ctx, `
			UPDATE outbox_messages
			SET status = $1, retry_count = $2, error_message = $3,
			    processed_at = $4, version = version + 1
			WHERE id = $5 AND version = $6`,
			string(domain.StatusDeadLetter), newRetryCount, msg, now, rec.ID, rec.Version,
		)
		if err != nil {
			return "", fmt.Errorf("mark failed (dead-letter): %w", err)
		}
		if tag.RowsAffected() == 0 {
			return "", ports.ErrContention
		}
		rec.Status = domain.StatusDeadLetter
		rec.RetryCount = newRetryCount
		rec.ErrorMessage = &msg
		rec.ProcessedAt = &now
		rec.Version++
		return domain.StatusDeadLetter, nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages
		SET status = $1, retry_count = $2, error_message = $3,
		    worker_id = NULL, version = version + 1
		WHERE id = $4 AND version = $5`,
		string(domain.StatusPending), newRetryCount, msg, rec.ID, rec.Version,
	)
	if err != nil {
		return "", fmt.Errorf("mark failed (retry): %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ports.ErrContention
	}
	rec.Status = domain.StatusPending
	rec.RetryCount = newRetryCount
	rec.ErrorMessage = &msg
	rec.WorkerID = nil
	rec.Version++
	return domain.StatusPending, nil
}

// CountByStatus backs the pending/failed/dead-letter gauges.
func (s *Store) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM outbox_messages WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by status: %w", err)
	}
	return n, nil
}

// DeleteSentBefore prunes SENT records older than cutoff. Records in
// DEAD_LETTER are never touched here.
func (s *Store) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM outbox_messages
		WHERE status = $1 AND processed_at < $2`,
		string(domain.StatusSent), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete sent before: %w", err)
	}
	return tag.RowsAffected(), nil
}

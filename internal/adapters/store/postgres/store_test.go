package postgres

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/outboxrelay/outboxrelay/internal/core/domain"
	"github.com/outboxrelay/outboxrelay/internal/core/ports"
)

// fakePool is a hand-rolled double for the pool interface: go-sqlmock only
// targets database/sql, not pgx, so store unit tests substitute this
// instead of a live pgxpool.Pool.
type fakePool struct {
	execs     []execCall
	execErr   error
	execTag   pgconn.CommandTag
	queryRows *fakeRows
	queryErr  error
	row       *fakeRow
}

type execCall struct {
	sql  string
	args []any
}

func (p *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, execCall{sql: sql, args: args})
	if p.execErr != nil {
		return pgconn.CommandTag{}, p.execErr
	}
	return p.execTag, nil
}

func (p *fakePool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	return p.queryRows, nil
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.row
}

// fakeRows implements pgx.Rows over a static set of pre-typed column
// values, one row per entry.
type fakeRows struct {
	rows [][]any
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Scan(dest ...any) error { return scanInto(dest, r.rows[r.pos-1]) }
func (r *fakeRows) Values() ([]any, error) { return r.rows[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.vals)
}

func scanInto(dest []any, vals []any) error {
	if len(dest) != len(vals) {
		return errors.New("scanInto: column count mismatch")
	}
	for i := range dest {
		dv := reflect.ValueOf(dest[i]).Elem()
		if vals[i] == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		dv.Set(reflect.ValueOf(vals[i]))
	}
	return nil
}

func pendingRow(id uuid.UUID, aggID string, payload *string, version int64) []any {
	return []any{
		id, aggID, "widget", "WIDGET_INSERT",
		payload, (*string)(nil), "PENDING",
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), (*time.Time)(nil),
		0, 3, (*string)(nil), (*string)(nil), version,
	}
}

func TestLeasePendingScansRows(t *testing.T) {
	id := uuid.New()
	payload := `{"a":1}`
	pool := &fakePool{queryRows: &fakeRows{rows: [][]any{pendingRow(id, "agg-1", &payload, 0)}}}
	s := New(pool)

	recs, err := s.LeasePending(context.Background(), "worker-1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].ID != id {
		t.Errorf("expected id %s, got %s", id, recs[0].ID)
	}
	if recs[0].Status != domain.StatusPending {
		t.Errorf("expected PENDING, got %s", recs[0].Status)
	}
	if string(recs[0].Payload) != payload {
		t.Errorf("expected payload %s, got %s", payload, recs[0].Payload)
	}
}

func TestClaimSucceeds(t *testing.T) {
	pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 1")}
	s := New(pool)

	rec := &domain.OutboxRecord{ID: uuid.New(), Version: 0}
	if err := s.Claim(context.Background(), rec, "worker-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("expected version bumped to 1, got %d", rec.Version)
	}
	if rec.WorkerID == nil || *rec.WorkerID != "worker-1" {
		t.Errorf("expected worker id set, got %v", rec.WorkerID)
	}
}

func TestClaimContention(t *testing.T) {
	pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 0")}
	s := New(pool)

	rec := &domain.OutboxRecord{ID: uuid.New(), Version: 0}
	err := s.Claim(context.Background(), rec, "worker-1")
	if !errors.Is(err, ports.ErrContention) {
		t.Errorf("expected ErrContention, got %v", err)
	}
}

func TestMarkFailedRetriesBeforeExhaustion(t *testing.T) {
	pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 1")}
	s := New(pool)

	rec := &domain.OutboxRecord{ID: uuid.New(), RetryCount: 0, MaxRetries: 3, Version: 0}
	status, err := s.MarkFailed(context.Background(), rec, errors.New("broker unreachable"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != domain.StatusPending {
		t.Errorf("expected PENDING after 1st failure of 3, got %s", status)
	}
	if rec.WorkerID != nil {
		t.Error("expected worker_id cleared after a failed attempt that will retry")
	}
	if rec.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", rec.RetryCount)
	}
}

func TestMarkFailedDeadLettersAtMaxRetries(t *testing.T) {
	pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 1")}
	s := New(pool)

	rec := &domain.OutboxRecord{ID: uuid.New(), RetryCount: 2, MaxRetries: 3, Version: 0}
	status, err := s.MarkFailed(context.Background(), rec, errors.New("broker unreachable"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != domain.StatusDeadLetter {
		t.Errorf("expected DEAD_LETTER at retry budget exhaustion, got %s", status)
	}
	if rec.ProcessedAt == nil {
		t.Error("expected processed_at set on dead-letter")
	}
}

func TestMarkSentIsIdempotentOnContention(t *testing.T) {
	pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 0")}
	s := New(pool)

	rec := &domain.OutboxRecord{ID: uuid.New(), Version: 1}
	err := s.MarkSent(context.Background(), rec)
	if !errors.Is(err, ports.ErrContention) {
		t.Errorf("expected ErrContention on a stale version, got %v", err)
	}
}

func TestDeleteSentBefore(t *testing.T) {
	pool := &fakePool{execTag: pgconn.NewCommandTag("DELETE 4")}
	s := New(pool)

	n, err := s.DeleteSentBefore(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 rows deleted, got %d", n)
	}
}

func TestCountByStatus(t *testing.T) {
	pool := &fakePool{row: &fakeRow{vals: []any{int64(7)}}}
	s := New(pool)

	n, err := s.CountByStatus(context.Background(), domain.StatusPending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7, got %d", n)
	}
}

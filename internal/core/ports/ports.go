// Package ports declares the interfaces the core relay depends on: the
// outbox store, the bus publisher, and the sentinel errors that cross
// those boundaries. Adapters in internal/adapters implement these.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/outboxrelay/outboxrelay/internal/core/domain"
)

var (
	// ErrCreationFailed is raised by the capture interceptor when payload
	// serialization or aggregate-id extraction fails. The host transaction
	// must roll back on this error.
	ErrCreationFailed = errors.New("outbox: failed to create record")

	// ErrNotTracked names the case of an aggregate type with no registered
	// metadata. registry.Lookup reports that case with ok=false rather than
	// this error, and the interceptor treats it as a no-op, not a failure.
	ErrNotTracked = errors.New("outbox: aggregate type not tracked")

	// ErrContention is returned when a version-guarded update affects zero
	// rows: another worker already moved the record. Callers drop it.
	ErrContention = errors.New("outbox: version mismatch, record claimed elsewhere")
)

// OutboxStore is the typed access layer over the outbox_messages table.
type OutboxStore interface {
	// Insert enlists a new PENDING record in the caller-supplied
	// transaction. Used by the capture interceptor.
	Insert(ctx context.Context, tx Querier, rec *domain.OutboxRecord) error

	// LeasePending selects up to limit PENDING records whose worker_id is
	// either unset or equal to workerID, ordered by created_at ascending.
	LeasePending(ctx context.Context, workerID string, limit int) ([]domain.OutboxRecord, error)

	// Claim sets worker_id := workerID guarded by version. Returns
	// ErrContention if another worker already claimed the row.
	Claim(ctx context.Context, rec *domain.OutboxRecord, workerID string) error

	// MarkSent transitions the record to SENT, guarded by version.
	MarkSent(ctx context.Context, rec *domain.OutboxRecord) error

	// MarkFailed increments retry_count and, once the retry budget is
	// exhausted, promotes the record to DEAD_LETTER; otherwise it resets
	// status to PENDING with worker_id cleared so the next poll can retry
	// it. Returns the resulting status.
	MarkFailed(ctx context.Context, rec *domain.OutboxRecord, cause error) (domain.Status, error)

	// CountByStatus is used by the observability surface's gauges.
	CountByStatus(ctx context.Context, status domain.Status) (int64, error)

	// DeleteSentBefore prunes SENT records older than cutoff, returning
	// the number of rows removed.
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Querier is satisfied by the postgres.SQLTx and postgres.PgxTx adapters
// (wrapping *sql.Tx and pgx.Tx respectively), so the capture interceptor
// can enlist an outbox row in whichever transaction the host persistence
// layer started.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (Result, error)
}

// Result mirrors the subset of sql.Result/pgconn.CommandTag the store needs.
type Result interface {
	RowsAffected() (int64, error)
}

// Publisher is the external bus contract: publish(topic, key, value) with
// synchronous acknowledgement. A timeout must be surfaced as an error.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// Clock is injected so tests can control "now" deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the production Clock.
var SystemClock Clock = systemClock{}

// IDGenerator is injected so tests can control id assignment.
type IDGenerator interface {
	NewID() uuid.UUID
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() uuid.UUID { return uuid.New() }

// SystemIDGenerator is the production IDGenerator.
var SystemIDGenerator IDGenerator = uuidGenerator{}

// Package domain holds the one persistent entity of the relay: the outbox
// record materialized by the capture interceptor and drained by the relay
// engine.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an OutboxRecord.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// DefaultMaxRetries is used when a tracked aggregate type does not
// configure its own retry budget on the registry.
const DefaultMaxRetries = 3

// FieldDiff captures the before/after of a single changed property.
type FieldDiff struct {
	OldValue any `json:"oldValue"`
	NewValue any `json:"newValue"`
}

// OutboxRecord is the row materialized by the capture interceptor and
// forwarded by the relay engine. Field semantics follow the outbox schema:
// status=PENDING implies ProcessedAt is nil; status=SENT implies ProcessedAt
// is set and ErrorMessage is nil; status=DEAD_LETTER implies RetryCount >=
// MaxRetries and ProcessedAt is set. Once Status is SENT or DEAD_LETTER the
// record is immutable except for the pruner.
type OutboxRecord struct {
	ID             uuid.UUID
	AggregateID    string
	AggregateType  string
	EventType      string
	Payload        json.RawMessage
	ChangedFields  json.RawMessage // nil unless diff tracking produced one
	Status         Status
	CreatedAt      time.Time
	ProcessedAt    *time.Time
	RetryCount     int
	MaxRetries     int
	ErrorMessage   *string
	WorkerID       *string
	Version        int64
}

// Envelope is the JSON structure published to the bus.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	ChangedFields json.RawMessage `json:"changedFields"`
	CreatedAt     time.Time       `json:"createdAt"`
	Metadata      EnvelopeMeta    `json:"metadata"`
}

type EnvelopeMeta struct {
	WorkerID string `json:"workerId"`
	Version  int64  `json:"version"`
}

// ToEnvelope projects the record into its wire representation.
func (r OutboxRecord) ToEnvelope() Envelope {
	var workerID string
	if r.WorkerID != nil {
		workerID = *r.WorkerID
	}
	return Envelope{
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		EventType:     r.EventType,
		Payload:       r.Payload,
		ChangedFields: r.ChangedFields,
		CreatedAt:     r.CreatedAt,
		Metadata: EnvelopeMeta{
			WorkerID: workerID,
			Version:  r.Version,
		},
	}
}

// Topic derives the bus topic for this record under the given prefix.
func (r OutboxRecord) Topic(prefix string) string {
	return prefix + "." + lowercase(r.AggregateType)
}

func lowercase(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

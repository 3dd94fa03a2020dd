package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/outboxrelay/outboxrelay/internal/adapters/observability"
	"github.com/outboxrelay/outboxrelay/internal/config"
	"github.com/outboxrelay/outboxrelay/internal/core/domain"
	"github.com/outboxrelay/outboxrelay/internal/core/ports"
	"github.com/outboxrelay/outboxrelay/test/mocks"
)

type fakeStore struct {
	leaseBatch []domain.OutboxRecord
	leaseErr   error

	claimErr error

	markSentErr  error
	sentIDs      []uuid.UUID

	markFailedStatus domain.Status
	markFailedErr    error
	failedIDs        []uuid.UUID

	counts map[domain.Status]int64

	deleteCutoff time.Time
	deleteN      int64
	deleteErr    error
}

func (s *fakeStore) Insert(ctx context.Context, tx ports.Querier, rec *domain.OutboxRecord) error {
	return nil
}

func (s *fakeStore) LeasePending(ctx context.Context, workerID string, limit int) ([]domain.OutboxRecord, error) {
	if s.leaseErr != nil {
		return nil, s.leaseErr
	}
	return s.leaseBatch, nil
}

func (s *fakeStore) Claim(ctx context.Context, rec *domain.OutboxRecord, workerID string) error {
	return s.claimErr
}

func (s *fakeStore) MarkSent(ctx context.Context, rec *domain.OutboxRecord) error {
	if s.markSentErr != nil {
		return s.markSentErr
	}
	s.sentIDs = append(s.sentIDs, rec.ID)
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, rec *domain.OutboxRecord, cause error) (domain.Status, error) {
	if s.markFailedErr != nil {
		return "", s.markFailedErr
	}
	s.failedIDs = append(s.failedIDs, rec.ID)
	return s.markFailedStatus, nil
}

func (s *fakeStore) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	return s.counts[status], nil
}

func (s *fakeStore) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.deleteCutoff = cutoff
	return s.deleteN, s.deleteErr
}

func testConfig() *config.RelayConfig {
	return &config.RelayConfig{
		Enabled:         true,
		BatchSize:       10,
		PollingInterval: time.Second,
		WorkerID:        "worker-1",
		TopicPrefix:     "outbox.events",
		DeadLetterTopic: "outbox.dead-letter",
		CleanupCron:     "0 2 * * *",
		RetentionDays:   30,
	}
}

func testEngine(store ports.OutboxStore, pub ports.Publisher) *Engine {
	log := zap.NewNop().Sugar()
	return New(store, pub, testConfig(), observability.NewNoop(), log, nil)
}

func sampleRecord() domain.OutboxRecord {
	return domain.OutboxRecord{
		ID:            uuid.New(),
		AggregateID:   "agg-1",
		AggregateType: "widget",
		EventType:     "WIDGET_INSERT",
		Payload:       []byte(`{"id":"agg-1"}`),
		Status:        domain.StatusPending,
		MaxRetries:    3,
	}
}

func TestProcessRecordPublishSuccessMarksSent(t *testing.T) {
	store := &fakeStore{}
	pub := mocks.NewMockPublisher()
	e := testEngine(store, pub)

	rec := sampleRecord()
	e.processRecord(context.Background(), &rec)

	if len(store.sentIDs) != 1 || store.sentIDs[0] != rec.ID {
		t.Fatalf("expected record marked sent, got %v", store.sentIDs)
	}
	msgs := pub.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(msgs))
	}
	if msgs[0].Topic != "outbox.events.widget" {
		t.Errorf("expected topic %q, got %q", "outbox.events.widget", msgs[0].Topic)
	}
	if msgs[0].Key != "agg-1" {
		t.Errorf("expected key %q, got %q", "agg-1", msgs[0].Key)
	}
}

func TestProcessRecordClaimContentionSkips(t *testing.T) {
	store := &fakeStore{claimErr: ports.ErrContention}
	pub := mocks.NewMockPublisher()
	e := testEngine(store, pub)

	rec := sampleRecord()
	e.processRecord(context.Background(), &rec)

	if len(pub.Messages()) != 0 {
		t.Error("expected no publish attempt when claim hits contention")
	}
	if len(store.sentIDs) != 0 || len(store.failedIDs) != 0 {
		t.Error("expected no status transition when claim hits contention")
	}
}

func TestProcessRecordPublishFailureRetries(t *testing.T) {
	store := &fakeStore{markFailedStatus: domain.StatusPending}
	pub := mocks.NewMockPublisher()
	pub.PublishErr = errors.New("broker unreachable")
	e := testEngine(store, pub)

	rec := sampleRecord()
	e.processRecord(context.Background(), &rec)

	if len(store.failedIDs) != 1 {
		t.Fatalf("expected MarkFailed called once, got %d", len(store.failedIDs))
	}
	if len(pub.Messages()) != 0 {
		t.Error("expected no dead-letter mirror when retrying")
	}
}

func TestProcessRecordDeadLetterMirrorsEnvelope(t *testing.T) {
	store := &fakeStore{markFailedStatus: domain.StatusDeadLetter}
	pub := mocks.NewMockPublisher()
	pub.FailTopics = map[string]error{"outbox.events.widget": errors.New("broker unreachable")}
	e := testEngine(store, pub)

	rec := sampleRecord()
	e.processRecord(context.Background(), &rec)

	if len(store.failedIDs) != 1 {
		t.Fatalf("expected MarkFailed called once, got %d", len(store.failedIDs))
	}
	msgs := pub.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 mirrored dead-letter publish, got %d", len(msgs))
	}
	if msgs[0].Topic != "outbox.dead-letter" {
		t.Errorf("expected dead-letter topic, got %q", msgs[0].Topic)
	}
	if msgs[0].Key != rec.ID.String() {
		t.Errorf("expected dead-letter key to be record id, got %q", msgs[0].Key)
	}
}

func TestPollStopsStartingNewRecordsOnCancelledContext(t *testing.T) {
	store := &fakeStore{leaseBatch: []domain.OutboxRecord{sampleRecord(), sampleRecord()}}
	pub := mocks.NewMockPublisher()
	e := testEngine(store, pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := e.poll(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.Messages()) != 0 {
		t.Error("expected no records processed once context is cancelled")
	}
}

func TestPollEmptyBatchIsNoop(t *testing.T) {
	store := &fakeStore{}
	e := testEngine(store, mocks.NewMockPublisher())

	if err := e.poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPrunePassesComputedCutoff(t *testing.T) {
	store := &fakeStore{deleteN: 3}
	e := testEngine(store, mocks.NewMockPublisher())

	before := time.Now().Add(-30 * 24 * time.Hour)
	if err := e.prune(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.deleteCutoff.After(before.Add(time.Minute)) {
		t.Errorf("expected cutoff around 30 days ago, got %v", store.deleteCutoff)
	}
}

func TestIsReadyBecomesFalseWhenStale(t *testing.T) {
	e := testEngine(&fakeStore{}, mocks.NewMockPublisher())
	e.lastProcessed = time.Now().Add(-10 * time.Minute)

	if e.IsReady() {
		t.Error("expected IsReady to be false after exceeding the staleness threshold")
	}
}

func TestRunWhenDisabledBlocksUntilCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	log := zap.NewNop().Sugar()
	e := New(&fakeStore{}, mocks.NewMockPublisher(), cfg, observability.NewNoop(), log, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := e.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

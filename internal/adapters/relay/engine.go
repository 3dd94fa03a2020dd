// Package relay implements the relay engine: a ticker-driven poll loop that
// leases PENDING records, publishes each to the bus, and transitions
// status with bounded retries and dead-lettering, plus a cron-scheduled
// pruner. The ticker is the source of truth; a NotifyListener can wake a
// poll cycle early as a latency optimization, but a missed notification
// never strands a record past the next tick.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/outboxrelay/outboxrelay/internal/adapters/observability"
	"github.com/outboxrelay/outboxrelay/internal/config"
	"github.com/outboxrelay/outboxrelay/internal/core/domain"
	"github.com/outboxrelay/outboxrelay/internal/core/ports"
)

const defaultPublishTimeout = 30 * time.Second

// Waker is satisfied by postgres.NotifyListener; nil is a valid Engine
// dependency (pure ticker-driven polling).
type Waker interface {
	Wake() <-chan struct{}
}

// Engine runs the relay's recurrent poll and prune tasks.
type Engine struct {
	store     ports.OutboxStore
	publisher ports.Publisher
	cfg       *config.RelayConfig
	metrics   *observability.Collector
	log       *zap.SugaredLogger
	waker     Waker

	publishTimeout time.Duration

	lastProcessed time.Time
	healthy       bool
}

// New constructs an Engine. waker may be nil.
func New(store ports.OutboxStore, publisher ports.Publisher, cfg *config.RelayConfig, metrics *observability.Collector, log *zap.SugaredLogger, waker Waker) *Engine {
	return &Engine{
		store:          store,
		publisher:      publisher,
		cfg:            cfg,
		metrics:        metrics,
		log:            log,
		waker:          waker,
		publishTimeout: defaultPublishTimeout,
		lastProcessed:  time.Now(),
		healthy:        true,
	}
}

const healthCheckStaleThreshold = 5 * time.Minute

// IsHealthy answers liveness probes: is the poll loop responsive.
func (e *Engine) IsHealthy() bool { return e.healthy }

// IsReady answers readiness probes: is the engine both healthy and not
// stuck (no successful cycle in healthCheckStaleThreshold).
func (e *Engine) IsReady() bool {
	return e.healthy && time.Since(e.lastProcessed) <= healthCheckStaleThreshold
}

// Run blocks, running the poll loop and the cron-scheduled pruner until
// ctx is cancelled. On shutdown it finishes the in-flight record (publish
// + status write) before returning.
func (e *Engine) Run(ctx context.Context) error {
	if !e.cfg.Enabled {
		e.log.Info("relay: disabled by configuration, not starting")
		<-ctx.Done()
		return ctx.Err()
	}

	sched := cron.New()
	if _, err := sched.AddFunc(e.cfg.CleanupCron, func() {
		if err := e.prune(ctx); err != nil {
			e.log.Errorw("relay: prune failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("relay: invalid cleanup cron expression %q: %w", e.cfg.CleanupCron, err)
	}
	sched.Start()
	defer sched.Stop()

	ticker := time.NewTicker(e.cfg.PollingInterval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if e.waker != nil {
		wake = e.waker.Wake()
	}

	e.log.Infow("relay: starting poll loop",
		"worker_id", e.cfg.WorkerID, "interval", e.cfg.PollingInterval, "batch_size", e.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("relay: shutting down poll loop")
			return ctx.Err()
		case <-ticker.C:
			e.runPollCycle(ctx)
		case <-wake:
			e.runPollCycle(ctx)
		}
	}
}

func (e *Engine) runPollCycle(ctx context.Context) {
	ctx, span := observability.StartRelayProcessSpan(ctx, e.cfg.WorkerID)
	defer span.End()

	if err := e.poll(ctx); err != nil {
		e.healthy = false
		e.log.Errorw("relay: poll cycle failed", "error", err)
		return
	}
	e.healthy = true
	e.lastProcessed = time.Now()
	e.metrics.PollingRuns.Inc()
	e.refreshGauges(ctx)
}

// poll runs one lease-publish-mark cycle over a batch of pending records.
func (e *Engine) poll(ctx context.Context) error {
	batch, err := e.store.LeasePending(ctx, e.cfg.WorkerID, e.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("lease pending: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	for i := range batch {
		if ctx.Err() != nil {
			// cooperative shutdown: stop starting new records, let any
			// in-flight record above already have finished.
			return nil
		}
		e.processRecord(ctx, &batch[i])
	}
	return nil
}

func (e *Engine) processRecord(ctx context.Context, rec *domain.OutboxRecord) {
	// A record already started runs to completion (publish + status write)
	// even if shutdown cancels ctx; publishTimeout still bounds the publish.
	ctx = context.WithoutCancel(ctx)
	ctx, span := observability.StartProcessMessageSpan(ctx, rec.ID.String(), rec.AggregateType, rec.EventType, e.cfg.WorkerID)
	defer span.End()

	if err := e.store.Claim(ctx, rec, e.cfg.WorkerID); err != nil {
		if errors.Is(err, ports.ErrContention) {
			// another worker already owns this record; yield without retry
			// within this pass.
			return
		}
		e.log.Errorw("relay: claim failed", "record_id", rec.ID, "error", err)
		return
	}

	topic := rec.Topic(e.cfg.TopicPrefix)
	envelope, err := marshalEnvelope(rec)
	if err != nil {
		e.log.Errorw("relay: marshal envelope failed", "record_id", rec.ID, "error", err)
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, e.publishTimeout)
	start := time.Now()
	pubErr := e.publisher.Publish(publishCtx, topic, rec.AggregateID, envelope)
	cancel()
	e.metrics.ProcessingTime.WithLabelValues(rec.AggregateType).Observe(time.Since(start).Seconds())

	if pubErr == nil {
		if err := e.store.MarkSent(ctx, rec); err != nil && !errors.Is(err, ports.ErrContention) {
			e.log.Errorw("relay: mark sent failed", "record_id", rec.ID, "error", err)
			return
		}
		e.metrics.MessagesProcessed.WithLabelValues(rec.AggregateType, string(domain.StatusSent)).Inc()
		return
	}

	e.log.Warnw("relay: publish failed", "record_id", rec.ID, "topic", topic, "error", pubErr)
	status, err := e.store.MarkFailed(ctx, rec, pubErr)
	if err != nil {
		if errors.Is(err, ports.ErrContention) {
			return
		}
		e.log.Errorw("relay: mark failed failed", "record_id", rec.ID, "error", err)
		return
	}
	e.metrics.MessagesProcessed.WithLabelValues(rec.AggregateType, string(status)).Inc()

	if status == domain.StatusDeadLetter {
		e.mirrorToDeadLetter(ctx, rec, envelope)
	}
}

// mirrorToDeadLetter best-effort publishes the envelope to the dead-letter
// topic keyed by the record id. Failure here is logged, never raised.
func (e *Engine) mirrorToDeadLetter(ctx context.Context, rec *domain.OutboxRecord, envelope []byte) {
	dlCtx, cancel := context.WithTimeout(ctx, e.publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(dlCtx, e.cfg.DeadLetterTopic, rec.ID.String(), envelope); err != nil {
		e.log.Errorw("relay: dead-letter mirror publish failed", "record_id", rec.ID, "error", err)
	}
}

func marshalEnvelope(rec *domain.OutboxRecord) ([]byte, error) {
	return json.Marshal(rec.ToEnvelope())
}

// prune deletes SENT records older than the configured retention.
func (e *Engine) prune(ctx context.Context) error {
	cutoff := time.Now().Add(-time.Duration(e.cfg.RetentionDays) * 24 * time.Hour)
	n, err := e.store.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	e.log.Infow("relay: pruned sent records", "deleted", n, "cutoff", cutoff)
	return nil
}

func (e *Engine) refreshGauges(ctx context.Context) {
	if pending, err := e.store.CountByStatus(ctx, domain.StatusPending); err == nil {
		e.metrics.Pending.Set(float64(pending))
	}
	if failed, err := e.store.CountByStatus(ctx, domain.StatusFailed); err == nil {
		e.metrics.Failed.Set(float64(failed))
	}
	if dead, err := e.store.CountByStatus(ctx, domain.StatusDeadLetter); err == nil {
		e.metrics.DeadLetter.Set(float64(dead))
	}
}

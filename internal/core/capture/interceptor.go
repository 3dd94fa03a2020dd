// Package capture implements the event-capture interceptor: on pre-insert
// and pre-update of a tracked aggregate it builds an OutboxRecord and
// enlists it in the caller's transaction. It never blocks on I/O beyond the
// store's Insert call, and it is a no-op for aggregates the registry does
// not track. Every call on a tracked aggregate opens an
// outbox.create_message span; a successful enlist increments
// outbox_messages_created_total and a failure building the record
// increments outbox_creation_failures_total.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/outboxrelay/outboxrelay/internal/adapters/observability"
	"github.com/outboxrelay/outboxrelay/internal/core/domain"
	"github.com/outboxrelay/outboxrelay/internal/core/ports"
	"github.com/outboxrelay/outboxrelay/internal/core/registry"
)

// Identifiable lets an aggregate hand the interceptor its id directly,
// bypassing the reflective fallback below.
type Identifiable interface {
	OutboxID() string
}

// conventional field names tried, in order, when an aggregate does not
// implement Identifiable. Only fields are looked up here; Identifiable is
// the one accessor the interceptor consults.
var idFieldNames = []string{"ID", "EntityID", "PrimaryKey"}

// MetadataSource lets the interceptor consult a shared, out-of-process
// metadata override before falling back to the registry's statically
// registered values. cache.MetadataCache satisfies this.
type MetadataSource interface {
	Get(ctx context.Context, aggregateType string) (registry.Metadata, bool, error)
}

// Interceptor builds and enlists OutboxRecords for tracked aggregates.
type Interceptor struct {
	registry  *registry.Registry
	store     ports.OutboxStore
	clock     ports.Clock
	ids       ports.IDGenerator
	metrics   *observability.Collector
	metaCache MetadataSource
}

// New constructs an Interceptor bound to the given registry and store.
func New(reg *registry.Registry, store ports.OutboxStore) *Interceptor {
	return &Interceptor{
		registry: reg,
		store:    store,
		clock:    ports.SystemClock,
		ids:      ports.SystemIDGenerator,
		metrics:  observability.NewNoop(),
	}
}

// WithClock overrides the clock (tests only).
func (i *Interceptor) WithClock(c ports.Clock) *Interceptor { i.clock = c; return i }

// WithIDGenerator overrides id assignment (tests only).
func (i *Interceptor) WithIDGenerator(g ports.IDGenerator) *Interceptor { i.ids = g; return i }

// WithMetrics points the interceptor at a real Collector instead of the
// default no-op one, so outbox.messages.created and outbox.creation.failures
// are actually observable.
func (i *Interceptor) WithMetrics(c *observability.Collector) *Interceptor { i.metrics = c; return i }

// WithMetadataCache enables the read-through metadata lookup: an operator
// publishing an override through the cache takes effect on this
// interceptor's next insert/update without a redeploy.
func (i *Interceptor) WithMetadataCache(c MetadataSource) *Interceptor { i.metaCache = c; return i }

// resolveMetadata consults metaCache for an override of meta, falling back
// to the registry's static value on a miss, an error, or when no cache is
// configured.
func (i *Interceptor) resolveMetadata(ctx context.Context, meta registry.Metadata) registry.Metadata {
	if i.metaCache == nil {
		return meta
	}
	override, ok, err := i.metaCache.Get(ctx, meta.AggregateType)
	if err != nil || !ok {
		return meta
	}
	return override
}

// OnInsert is invoked by the host persistence layer before an insert
// commits. For an untracked entity it returns nil immediately.
func (i *Interceptor) OnInsert(ctx context.Context, tx ports.Querier, entity any) error {
	meta, project, ok := i.registry.Lookup(entity)
	if !ok {
		return nil
	}
	meta = i.resolveMetadata(ctx, meta)
	eventType := registry.DeriveEventType(meta, "INSERT")

	ctx, span := observability.StartCreateMessageSpan(ctx, meta.AggregateType, eventType)
	defer span.End()

	rec, err := i.build(meta, project, entity, eventType, nil)
	if err != nil {
		i.metrics.CreationFailures.WithLabelValues(meta.AggregateType).Inc()
		return err
	}
	if err := i.store.Insert(ctx, tx, rec); err != nil {
		return fmt.Errorf("outbox: enlist insert record: %w", err)
	}
	i.metrics.MessagesCreated.WithLabelValues(meta.AggregateType, eventType).Inc()
	return nil
}

// OnUpdate is invoked before an update commits, given the old and new
// property values keyed by field name (the shape a shadow-copy-on-load
// data-access layer would hand over). For an untracked entity it returns
// nil immediately.
func (i *Interceptor) OnUpdate(ctx context.Context, tx ports.Querier, entity any, old, new map[string]any) error {
	meta, project, ok := i.registry.Lookup(entity)
	if !ok {
		return nil
	}
	meta = i.resolveMetadata(ctx, meta)
	eventType := registry.DeriveEventType(meta, "UPDATE")

	ctx, span := observability.StartCreateMessageSpan(ctx, meta.AggregateType, eventType)
	defer span.End()

	var changedFields json.RawMessage
	if meta.IncludeChangedFields {
		diff := diffFields(old, new)
		// Empty diff still produces a record: the update happened, and
		// consumers decide relevance.
		b, err := json.Marshal(diff)
		if err != nil {
			i.metrics.CreationFailures.WithLabelValues(meta.AggregateType).Inc()
			return fmt.Errorf("%w: marshal changed fields: %v", ports.ErrCreationFailed, err)
		}
		changedFields = b
	}

	rec, err := i.build(meta, project, entity, eventType, changedFields)
	if err != nil {
		i.metrics.CreationFailures.WithLabelValues(meta.AggregateType).Inc()
		return err
	}
	if err := i.store.Insert(ctx, tx, rec); err != nil {
		return fmt.Errorf("outbox: enlist update record: %w", err)
	}
	i.metrics.MessagesCreated.WithLabelValues(meta.AggregateType, eventType).Inc()
	return nil
}

func (i *Interceptor) build(meta registry.Metadata, project registry.ProjectFunc, entity any, eventType string, changedFields json.RawMessage) (*domain.OutboxRecord, error) {
	aggregateID, err := extractAggregateID(entity)
	if err != nil {
		return nil, fmt.Errorf("%w: extract aggregate id: %v", ports.ErrCreationFailed, err)
	}

	var projected any = entity
	if project != nil {
		projected, err = project(entity)
		if err != nil {
			return nil, fmt.Errorf("%w: project payload: %v", ports.ErrCreationFailed, err)
		}
	}

	payload, err := json.Marshal(projected)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", ports.ErrCreationFailed, err)
	}

	maxRetries := meta.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	now := i.clock.Now()
	return &domain.OutboxRecord{
		ID:            i.ids.NewID(),
		AggregateID:   aggregateID,
		AggregateType: meta.AggregateType,
		EventType:     eventType,
		Payload:       payload,
		ChangedFields: changedFields,
		Status:        domain.StatusPending,
		CreatedAt:     now,
		MaxRetries:    maxRetries,
	}, nil
}

// extractAggregateID tries, in order: the Identifiable interface, then
// reflective field access for ID/EntityID/PrimaryKey, then gives up.
func extractAggregateID(entity any) (string, error) {
	if id, ok := entity.(Identifiable); ok {
		s := id.OutboxID()
		if s == "" {
			return "", fmt.Errorf("OutboxID() returned empty string")
		}
		return s, nil
	}

	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", fmt.Errorf("nil aggregate")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", fmt.Errorf("aggregate id unavailable: not a struct")
	}

	for _, name := range idFieldNames {
		f := v.FieldByName(name)
		if f.IsValid() && f.CanInterface() {
			return stringify(f.Interface()), nil
		}
	}
	return "", fmt.Errorf("aggregate id unavailable: no Identifiable, ID, EntityID, or PrimaryKey field")
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// diffFields pairwise-compares old vs new by property name using value
// equality, emitting an entry for each differing property.
func diffFields(old, new map[string]any) map[string]domain.FieldDiff {
	out := make(map[string]domain.FieldDiff)
	for name, newVal := range new {
		oldVal, existed := old[name]
		if existed && reflect.DeepEqual(oldVal, newVal) {
			continue
		}
		out[name] = domain.FieldDiff{OldValue: oldVal, NewValue: newVal}
	}
	return out
}

// Package registry holds, per tracked aggregate type, the metadata the
// capture interceptor needs: whether to record field-level diffs, the
// event-type/aggregate-type overrides, the retry budget, and an optional
// payload projection. Lookups are cached by reflect.Type for O(1) hot-path
// access; the cache is a sync.Map so reads never block each other and
// writes (registrations) are rare, happening once per aggregate type at
// program init.
package registry

import (
	"reflect"
	"strings"
	"sync"
)

// ProjectFunc produces the JSON-serializable payload for an aggregate. The
// default (no projection registered) serializes the aggregate itself.
type ProjectFunc func(entity any) (any, error)

// Metadata is the per-aggregate-type configuration resolved by the
// interceptor before building an OutboxRecord.
type Metadata struct {
	AggregateType         string
	EventTypeOverride     string
	IncludeChangedFields  bool
	MaxRetries            int
}

type entry struct {
	meta    Metadata
	project ProjectFunc
}

// Registry is a concurrent, append-mostly map from aggregate Go type to its
// outbox metadata. Reads (Lookup) never block each other; writes
// (Register) are rare and expected at program init.
type Registry struct {
	entries sync.Map // reflect.Type -> entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Option configures a Register call.
type Option func(*Metadata)

// WithEventType overrides the derived <TYPE>_INSERT/<TYPE>_UPDATE name.
func WithEventType(name string) Option {
	return func(m *Metadata) { m.EventTypeOverride = name }
}

// WithAggregateType overrides the derived type name (defaults to the Go
// type's name).
func WithAggregateType(name string) Option {
	return func(m *Metadata) { m.AggregateType = name }
}

// WithChangedFields enables field-level diff tracking on updates.
func WithChangedFields() Option {
	return func(m *Metadata) { m.IncludeChangedFields = true }
}

// WithMaxRetries sets the per-aggregate-type retry budget before
// dead-lettering (spec default 3 when unset).
func WithMaxRetries(n int) Option {
	return func(m *Metadata) { m.MaxRetries = n }
}

// Register records that values of type T are outbox-tracked. project may
// be nil, in which case the aggregate itself is serialized.
func Register[T any](r *Registry, project func(T) (any, error), opts ...Option) {
	var zero T
	t := reflect.TypeOf(zero)
	meta := Metadata{
		AggregateType: t.Name(),
		MaxRetries:    3,
	}
	for _, opt := range opts {
		opt(&meta)
	}

	var wrapped ProjectFunc
	if project != nil {
		wrapped = func(entity any) (any, error) {
			if typed, ok := entity.(T); ok {
				return project(typed)
			}
			// entity may be a *T even though T is a value type: Lookup
			// resolves pointer aggregates by dereferencing their
			// reflect.Type, so the projection has to do the same or a
			// pointer entity would silently skip ToOutboxPayload.
			if v := reflect.ValueOf(entity); v.Kind() == reflect.Ptr && !v.IsNil() {
				if typed, ok := v.Elem().Interface().(T); ok {
					return project(typed)
				}
			}
			return entity, nil
		}
	}

	r.entries.Store(t, entry{meta: meta, project: wrapped})
}

// Lookup resolves the metadata and projection for a value's dynamic type.
// ok is false for untracked types (the interceptor treats that as a no-op).
func (r *Registry) Lookup(v any) (Metadata, ProjectFunc, bool) {
	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	raw, ok := r.entries.Load(t)
	if !ok {
		return Metadata{}, nil, false
	}
	e := raw.(entry)
	return e.meta, e.project, true
}

// DeriveEventType builds the default event name: UPPERCASE(type) + "_" +
// operation, unless the metadata carries an explicit override.
func DeriveEventType(meta Metadata, operation string) string {
	if meta.EventTypeOverride != "" {
		return meta.EventTypeOverride
	}
	return strings.ToUpper(meta.AggregateType) + "_" + strings.ToUpper(operation)
}

package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/outboxrelay/outboxrelay"

// StartCreateMessageSpan wraps a capture interceptor insert/update call.
func StartCreateMessageSpan(ctx context.Context, entityType, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "outbox.create_message",
		trace.WithAttributes(
			attribute.String("entity_type", entityType),
			attribute.String("event_type", eventType),
		),
	)
}

// StartRelayProcessSpan wraps one poll cycle.
func StartRelayProcessSpan(ctx context.Context, workerID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "outbox.relay.process",
		trace.WithAttributes(attribute.String("worker_id", workerID)),
	)
}

// StartProcessMessageSpan wraps a single record's publish attempt.
func StartProcessMessageSpan(ctx context.Context, recordID, entityType, eventType, workerID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "outbox.relay.process_message",
		trace.WithAttributes(
			attribute.String("record_id", recordID),
			attribute.String("entity_type", entityType),
			attribute.String("event_type", eventType),
			attribute.String("worker_id", workerID),
		),
	)
}

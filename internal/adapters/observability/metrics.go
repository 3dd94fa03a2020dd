// Package observability provides counters, gauges, a per-record publish
// timer, and tracing spans around capture and relay. Metric names follow
// Prometheus's underscore/_total convention; each metric's help text
// spells out what it counts in full.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles every metric the capture and relay packages emit.
// Tests wire NewNoop or a private registry instead of the default one.
type Collector struct {
	MessagesCreated   *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	CreationFailures  *prometheus.CounterVec
	PollingRuns       prometheus.Counter

	Pending    prometheus.Gauge
	Failed     prometheus.Gauge
	DeadLetter prometheus.Gauge

	ProcessingTime *prometheus.HistogramVec
}

// New registers every metric against reg (pass prometheus.NewRegistry()
// in tests to avoid collisions with the global default registry).
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		MessagesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_messages_created_total",
			Help: "outbox.messages.created — records materialized by the capture interceptor",
		}, []string{"entity_type", "event_type"}),

		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_messages_processed_total",
			Help: "outbox.messages.processed — publish attempts by resulting status",
		}, []string{"entity_type", "status"}),

		CreationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_creation_failures_total",
			Help: "outbox.creation.failures — capture interceptor serialization/id-extraction errors",
		}, []string{"entity_type"}),

		PollingRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_relay_polling_total",
			Help: "outbox.relay.polling — completed poll cycles",
		}),

		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_messages_pending",
			Help: "outbox.messages.pending — current PENDING record count",
		}),
		Failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_messages_failed",
			Help: "outbox.messages.failed — current FAILED record count",
		}),
		DeadLetter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_messages_dead_letter",
			Help: "outbox.messages.dead_letter — current DEAD_LETTER record count",
		}),

		ProcessingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "outbox_processing_time_seconds",
			Help: "outbox.processing.time — per-record publish latency",
		}, []string{"entity_type"}),
	}

	reg.MustRegister(
		c.MessagesCreated, c.MessagesProcessed, c.CreationFailures, c.PollingRuns,
		c.Pending, c.Failed, c.DeadLetter, c.ProcessingTime,
	)
	return c
}

// NewNoop returns a Collector registered against a private registry,
// so tests can exercise the relay and capture packages without touching
// prometheus's process-global default registry.
func NewNoop() *Collector {
	return New(prometheus.NewRegistry())
}

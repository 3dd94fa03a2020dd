// Package kafka implements ports.Publisher over Kafka using segmentio's
// client, the default bus for this relay. One *kafka.Writer is created per
// topic on first use and cached, because kafka-go writers are bound to a
// single topic; partitioning by aggregate id comes from setting the
// message Key, which each writer's Hash balancer maps to a partition,
// giving best-effort per-aggregate ordering.
package kafka

import (
	"context"
	"fmt"
	"sync"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/outboxrelay/outboxrelay/internal/config"
)

// Publisher publishes outbox envelopes to Kafka topics keyed by aggregate
// id, synchronously awaiting broker acknowledgement per write.
type Publisher struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafkago.Writer
	cb      *gobreaker.CircuitBreaker
}

// New returns a Publisher dialing the given broker addresses.
func New(brokers []string) *Publisher {
	return &Publisher{
		brokers: brokers,
		writers: make(map[string]*kafkago.Writer),
		cb:      config.NewCircuitBreaker("Kafka-Publisher"),
	}
}

func (p *Publisher) writerFor(topic string) *kafkago.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Async:        false,
	}
	p.writers[topic] = w
	return w
}

// Publish writes value to topic with key as the partitioning key, blocking
// until the broker acknowledges (or the context deadline expires, which is
// treated as a transient failure by the relay).
func (p *Publisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	w := p.writerFor(topic)
	_, err := p.cb.Execute(func() (any, error) {
		return nil, w.WriteMessages(ctx, kafkago.Message{
			Key:   []byte(key),
			Value: value,
		})
	})
	if err != nil {
		return fmt.Errorf("kafka: publish %s/%s: %w", topic, key, err)
	}
	return nil
}

// Close flushes and closes every writer opened so far.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

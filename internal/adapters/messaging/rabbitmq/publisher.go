// Package rabbitmq implements ports.Publisher over AMQP 0-9-1: it declares
// a topic exchange per bus topic and publishes with the aggregate id as
// routing key.
package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	"github.com/outboxrelay/outboxrelay/internal/config"
)

// Publisher publishes outbox envelopes to RabbitMQ topic exchanges.
type Publisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	cb   *gobreaker.CircuitBreaker

	mu      sync.Mutex
	bound   map[string]struct{} // exchanges already declared
}

// New dials amqpURL and returns a ready-to-publish Publisher.
func New(amqpURL string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	return &Publisher{
		conn:  conn,
		ch:    ch,
		cb:    config.NewCircuitBreaker("RabbitMQ-Publisher"),
		bound: make(map[string]struct{}),
	}, nil
}

func (p *Publisher) ensureExchange(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.bound[topic]; ok {
		return nil
	}
	if err := p.ch.ExchangeDeclare(topic, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	p.bound[topic] = struct{}{}
	return nil
}

// Publish declares (idempotently) a topic exchange named after topic, then
// publishes value with routing key = key, persistent delivery mode,
// guarded by a circuit breaker. The channel is not in confirm mode, so
// Publish returns once the message is handed to the channel; it does not
// wait for a broker acknowledgement.
func (p *Publisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.ensureExchange(topic); err != nil {
		return fmt.Errorf("rabbitmq: declare exchange %s: %w", topic, err)
	}

	_, err := p.cb.Execute(func() (any, error) {
		return nil, p.ch.PublishWithContext(
			ctx,
			topic, // exchange
			key,   // routing key
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         value,
			},
		)
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: publish %s/%s: %w", topic, key, err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	var firstErr error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

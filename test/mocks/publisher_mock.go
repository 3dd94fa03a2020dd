// Package mocks provides shared test doubles for port interfaces, reused
// across package-level unit tests and the integration smoke tests.
package mocks

import (
	"context"
	"sync"
)

// PublishedMessage records one call to MockPublisher.Publish.
type PublishedMessage struct {
	Topic string
	Key   string
	Value []byte
}

// MockPublisher implements ports.Publisher in-memory, standing in for the
// Kafka/RabbitMQ adapters in tests that only care about what the relay
// engine tried to send.
type MockPublisher struct {
	mu sync.Mutex

	Published []PublishedMessage

	// PublishErr, when set, is returned by every Publish call.
	PublishErr error

	// FailTopics fails only publishes to the named topics; nil means none.
	FailTopics map[string]error

	closed bool
}

// NewMockPublisher returns an empty MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// Publish records the call and returns the injected error, if any.
func (m *MockPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailTopics != nil {
		if err, ok := m.FailTopics[topic]; ok {
			return err
		}
	}
	if m.PublishErr != nil {
		return m.PublishErr
	}

	m.Published = append(m.Published, PublishedMessage{Topic: topic, Key: key, Value: append([]byte(nil), value...)})
	return nil
}

// Close marks the publisher closed and is otherwise a no-op.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Messages returns a snapshot of everything published so far.
func (m *MockPublisher) Messages() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishedMessage, len(m.Published))
	copy(out, m.Published)
	return out
}

// Closed reports whether Close was called.
func (m *MockPublisher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

package kafka

import "testing"

// writerFor doesn't dial a broker (kafka-go writers connect lazily on the
// first WriteMessages call), so its caching behavior is unit-testable
// without a live cluster.
func TestWriterForCachesByTopic(t *testing.T) {
	p := New([]string{"localhost:9092"})

	w1 := p.writerFor("outbox.events.widget")
	w2 := p.writerFor("outbox.events.widget")
	if w1 != w2 {
		t.Error("expected the same writer to be reused for the same topic")
	}

	w3 := p.writerFor("outbox.events.order")
	if w1 == w3 {
		t.Error("expected a distinct writer for a different topic")
	}
	if w3.Topic != "outbox.events.order" {
		t.Errorf("expected writer bound to its topic, got %q", w3.Topic)
	}
}

func TestCloseClosesAllWriters(t *testing.T) {
	p := New([]string{"localhost:9092"})
	p.writerFor("a")
	p.writerFor("b")

	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error closing writers with no open connections: %v", err)
	}
}

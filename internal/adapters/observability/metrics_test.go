package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewNoopRegistersWithoutPanicking(t *testing.T) {
	c := NewNoop()
	if c.MessagesCreated == nil || c.MessagesProcessed == nil || c.ProcessingTime == nil {
		t.Fatal("expected all metric fields to be initialized")
	}
}

func TestCollectorLabelsAreIndependent(t *testing.T) {
	c := NewNoop()

	c.MessagesProcessed.WithLabelValues("widget", "SENT").Inc()
	c.MessagesProcessed.WithLabelValues("widget", "DEAD_LETTER").Inc()

	sentCount := testutil.ToFloat64(c.MessagesProcessed.WithLabelValues("widget", "SENT"))
	if sentCount != 1 {
		t.Errorf("expected SENT counter at 1, got %v", sentCount)
	}
}

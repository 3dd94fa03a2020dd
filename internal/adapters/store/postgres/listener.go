package postgres

import (
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	outboxChannelName            = "outbox_channel"
	listenerMinReconnectInterval = 10 * time.Second
	listenerMaxReconnectInterval = time.Minute
)

// NotifyListener wakes the relay's poll loop early on
// pg_notify('outbox_channel', ...). It is strictly a latency optimization:
// Wake fires best-effort, and the relay's own ticker remains the source of
// truth, so a dropped or missed notification never strands a record.
type NotifyListener struct {
	listener *pq.Listener
	wake     chan struct{}
	log      *zap.SugaredLogger
}

// NewNotifyListener opens a pq.Listener against dbURL and subscribes to
// the outbox channel. Call Close when done.
func NewNotifyListener(dbURL string, log *zap.SugaredLogger) (*NotifyListener, error) {
	wake := make(chan struct{}, 1)
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warnw("outbox listener error", "error", err)
		}
	}

	l := pq.NewListener(dbURL, listenerMinReconnectInterval, listenerMaxReconnectInterval, reportProblem)
	if err := l.Listen(outboxChannelName); err != nil {
		l.Close()
		return nil, err
	}

	nl := &NotifyListener{listener: l, wake: wake, log: log}
	go nl.pump()
	return nl, nil
}

func (nl *NotifyListener) pump() {
	for notification := range nl.listener.Notify {
		if notification == nil {
			continue
		}
		select {
		case nl.wake <- struct{}{}:
		default:
		}
	}
}

// Wake fires whenever a notification arrives; the poll loop selects on it
// alongside its ticker.
func (nl *NotifyListener) Wake() <-chan struct{} { return nl.wake }

// Close releases the underlying connection.
func (nl *NotifyListener) Close() error { return nl.listener.Close() }

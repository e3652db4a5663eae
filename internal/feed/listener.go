package feed

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"

	"paintops/internal/logger"
)

// Channel is the NOTIFY channel the outbox triggers signal on.
const Channel = "change_events"

// Listener turns Postgres notifications into relay wake-ups.
type Listener struct {
	log  *logger.Logger
	pql  *pq.Listener
	wake chan struct{}
}

func NewListener(dsn string, log *logger.Logger) (*Listener, error) {
	log = log.With("service", "ChangeListener")
	pql := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("listener event", "event", ev, "error", err)
		}
	})
	if err := pql.Listen(Channel); err != nil {
		_ = pql.Close()
		return nil, errors.Wrapf(err, "listen %s", Channel)
	}
	return &Listener{log: log, pql: pql, wake: make(chan struct{}, 1)}, nil
}

func (l *Listener) Wake() <-chan struct{} { return l.wake }

// Run forwards notifications until ctx is done, then closes the connection.
// A nil notification follows a reconnect and wakes the relay too.
func (l *Listener) Run(ctx context.Context) {
	defer l.pql.Close()
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.pql.Notify:
			l.signal()
		case <-ping.C:
			if err := l.pql.Ping(); err != nil {
				l.log.Warn("listener ping failed", "error", err)
			}
		}
	}
}

func (l *Listener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

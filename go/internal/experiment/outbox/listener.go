package outbox

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// DefaultNotifyChannel is the LISTEN/NOTIFY channel outbox inserts signal on.
const DefaultNotifyChannel = "experiment_outbox_events"

// Listener turns Postgres notifications into worker wakeups. Polling still
// covers anything missed while the connection was down.
type Listener struct {
	listener *pq.Listener
	wake     chan struct{}
	done     chan struct{}
}

func NewListener(dsn, channel string) (*Listener, error) {
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Error().Err(err).Msg("listener event")
			return
		}
		if ev == pq.ListenerEventReconnected {
			log.Info().Str("channel", channel).Msg("listener reconnected")
		}
	})
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().Str("channel", channel).Msg("listening for notifications")

	out := &Listener{
		listener: l,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go out.forward()
	return out, nil
}

// Wake fires once per burst of notifications.
func (l *Listener) Wake() <-chan struct{} {
	return l.wake
}

func (l *Listener) forward() {
	defer close(l.done)
	// A nil notification means the connection was re-established; wake
	// anyway so the worker catches up.
	for range l.listener.Notify {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}

func (l *Listener) Close() error {
	err := l.listener.Close()
	<-l.done
	return err
}

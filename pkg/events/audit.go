package events

import (
	"github.com/rs/zerolog"
)

// AuditLogger consumes the event stream and writes one structured log line
// per event, giving operators a durable trail of instance lifecycle changes.
type AuditLogger struct {
	broker *Broker
	sub    Subscriber
	done   chan struct{}
}

// StartAuditLogger subscribes to the broker and logs every event until
// Stop is called
func StartAuditLogger(b *Broker, logger zerolog.Logger) *AuditLogger {
	a := &AuditLogger{
		broker: b,
		sub:    b.Subscribe(),
		done:   make(chan struct{}),
	}
	go a.run(logger)
	return a
}

// Stop unsubscribes from the broker and waits for the log loop to drain
func (a *AuditLogger) Stop() {
	a.broker.Unsubscribe(a.sub)
	<-a.done
}

func (a *AuditLogger) run(logger zerolog.Logger) {
	defer close(a.done)
	for event := range a.sub {
		entry := logger.Info().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Time("timestamp", event.Timestamp)
		for k, v := range event.Metadata {
			entry = entry.Str(k, v)
		}
		entry.Msg(event.Message)
	}
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes build events over core NATS. Subjects are
// `<prefix>.<event type>` so consumers can subscribe to just the transitions
// they care about.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to the broker. subject is the subject prefix,
// e.g. "fwbuilder.builds".
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("event subject prefix is required")
	}

	conn, err := nats.Connect(url,
		nats.Name("fwbuilder"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	slog.Info("NATS event publisher connected",
		"url", url,
		"subject", subject)

	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Publish sends one event. Build progress is ephemeral, so plain publish
// without JetStream acks is enough; a dropped event only costs a missed
// progress update.
func (p *NATSPublisher) Publish(ctx context.Context, event BuildEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.subject + "." + event.Type
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		slog.Warn("Error draining NATS connection", "error", err)
	}
}

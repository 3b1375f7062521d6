package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Conn is the minimal NATS connection surface the publisher needs.
// *nats.Conn satisfies it directly; tests provide a fake so no server is
// required.
type Conn interface {
	Publish(subject string, data []byte) error
	Flush() error
}

// Publisher forwards run events to a NATS subject as JSON, so external
// observers (dashboards, other services) can follow a run without holding
// the event channel.
type Publisher struct {
	conn    Conn
	subject string
	logger  *zap.Logger
}

// NewPublisher creates a publisher for one subject. The subject is
// typically run-scoped, e.g. "arachne.run.<runId>".
func NewPublisher(conn Conn, subject string, logger *zap.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if subject == "" {
		return nil, errors.New("subject cannot be empty")
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Publisher{conn: conn, subject: subject, logger: logger}, nil
}

// Publish sends one event.
func (p *Publisher) Publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", p.subject, err)
	}
	return nil
}

// Forward drains an event stream into the subject until the stream closes
// or the context is cancelled. Publish failures are logged and skipped:
// observers are best-effort and must never affect the run. The connection
// is flushed before returning.
func (p *Publisher) Forward(ctx context.Context, evs <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			_ = p.conn.Flush()
			return ctx.Err()
		case ev, ok := <-evs:
			if !ok {
				if err := p.conn.Flush(); err != nil {
					return fmt.Errorf("failed to flush connection: %w", err)
				}
				return nil
			}
			if err := p.Publish(ev); err != nil {
				p.logger.Warn("Dropping event for external observers",
					zap.String("kind", string(ev.Kind)),
					zap.Error(err))
			}
		}
	}
}

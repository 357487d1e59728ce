package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// EventPublisher publishes scheduler and workflow lifecycle events to NATS
// for consumption by downstream reporting and messaging services.
//
// Subject convention: coop.events.<event_type>
// Event types: workflow_started, workflow_completed, approval_required,
//              loan_disbursed, job_failed
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so event delivery failures never interrupt job or workflow
// processing.
type EventPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// Event is the JSON schema published to NATS.
type Event struct {
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewEventPublisher connects to NATS. An empty URL returns a disabled
// publisher (all publishes are no-ops).
func NewEventPublisher(url string, log zerolog.Logger) (*EventPublisher, error) {
	if url == "" {
		return &EventPublisher{log: log}, nil
	}
	conn, err := nats.Connect(url, nats.Name("be-coop-scheduler"))
	if err != nil {
		return nil, err
	}
	return &EventPublisher{conn: conn, log: log}, nil
}

// Close drains the connection.
func (p *EventPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// Publish emits one event. Subject: coop.events.<eventType>.
func (p *EventPublisher) Publish(ctx context.Context, eventType string, event *Event) {
	if p.conn == nil {
		return
	}
	event.EventType = eventType

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("event: failed to marshal")
		return
	}

	subject := fmt.Sprintf("coop.events.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("entity_id", event.EntityID).
			Msg("event: failed to publish (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("entity_id", event.EntityID).
		Msg("event: published")
}

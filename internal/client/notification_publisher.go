package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes expense workflow events to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.expenses.<event_type>
// Event types: expense_submitted, approval_required, expense_approved,
//
//	expense_rejected, expense_escalated
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never interrupt
// approval operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	CompanyID    string                 `json:"company_id"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection produces a no-op publisher, used when NATS
// is not configured.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// PublishExpenseEvent publishes an expense approval event.
// Subject: notifications.expenses.<eventType>
func (p *NotificationPublisher) PublishExpenseEvent(ctx context.Context, eventType, expenseID, companyID, actorID string, recipients []string, payload map[string]interface{}) {
	if p.conn == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		CompanyID:    companyID,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "expense",
		ResourceID:   expenseID,
		IsActionable: true,
		Severity:     "info",
		Category:     "expense_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.expenses.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("expense_id", expenseID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("expense_id", expenseID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

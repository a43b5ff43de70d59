// Package notify publishes approval lifecycle events to interested parties.
// Delivery is fire-and-forget: callers publish after the state change has
// committed and never roll back on a failed publish.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// EventType names a lifecycle event.
type EventType string

// Lifecycle events.
const (
	EventSubmitted   EventType = "request.submitted"
	EventAdvanced    EventType = "request.advanced"
	EventApproved    EventType = "request.approved"
	EventDeclined    EventType = "request.declined"
	EventSentBack    EventType = "request.sent_back"
	EventCancelled   EventType = "request.cancelled"
	EventCommented   EventType = "request.commented"
	EventSLABreached EventType = "request.sla_breached"
)

// Event is one published lifecycle notification.
type Event struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	TenantID      string            `json:"tenant_id"`
	RequestID     string            `json:"request_id"`
	RequestNumber string            `json:"request_number"`
	TemplateID    string            `json:"template_id"`
	Status        string            `json:"status"`
	Level         int               `json:"level"`
	ActorID       string            `json:"actor_id,omitempty"`
	RequesterID   string            `json:"requester_id"`
	RecipientID   string            `json:"recipient_id,omitempty"`
	Comment       string            `json:"comment,omitempty"`
	Deadline      *time.Time        `json:"deadline,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Trace         map[string]string `json:"trace,omitempty"`
}

// Notifier delivers events.
type Notifier interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// LogNotifier writes events to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Publish logs evt at info level.
func (n *LogNotifier) Publish(_ context.Context, evt Event) error {
	n.logger.Info("approval event",
		zap.String("event", string(evt.Type)),
		zap.String("event_id", evt.ID),
		zap.String("tenant_id", evt.TenantID),
		zap.String("request_id", evt.RequestID),
		zap.String("request_number", evt.RequestNumber),
		zap.String("status", evt.Status),
		zap.Int("level", evt.Level),
		zap.String("actor_id", evt.ActorID),
		zap.String("recipient_id", evt.RecipientID),
	)
	return nil
}

// Multi fans an event out to several notifiers. Every notifier is tried;
// the failures are joined.
type Multi []Notifier

// Publish delivers evt to every notifier.
func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

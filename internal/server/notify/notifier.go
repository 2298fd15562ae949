// Package notify announces envelope status changes to the outside world.
// Delivery is best-effort and must never block or fail the signing path.
package notify

import "context"

// Event types published by the signing workflow.
const (
	EventRecipientViewed   = "recipient.viewed"
	EventRecipientSigned   = "recipient.signed"
	EventRecipientDeclined = "recipient.declined"
	EventEnvelopeCompleted = "envelope.completed"
)

// Notifier is a fire-and-forget publisher. Implementations must not block
// the caller on delivery and must swallow delivery failures.
type Notifier interface {
	Publish(ctx context.Context, eventType string, payload map[string]any)
}

// NopNotifier discards all events. Used when no webhook URL is configured.
type NopNotifier struct{}

func (NopNotifier) Publish(ctx context.Context, eventType string, payload map[string]any) {}

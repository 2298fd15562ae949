package models

import "time"

// EnvelopeEvent is one row of the per-envelope audit trail.
type EnvelopeEvent struct {
	ID         string
	EnvelopeID string
	Type       string
	Actor      string
	Payload    map[string]any
	CreatedAt  time.Time
}

package events

import (
	"context"

	"github.com/avolkov/signdesk/internal/server/models"
)

type Repository interface {
	Add(ctx context.Context, event *models.EnvelopeEvent) error
	ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.EnvelopeEvent, error)
}

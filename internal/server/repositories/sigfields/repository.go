package sigfields

import (
	"context"

	"github.com/avolkov/signdesk/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, field *models.SignatureField) error
	ListByRecipient(ctx context.Context, recipientID string) ([]*models.SignatureField, error)
	ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.SignatureField, error)
	CountByEnvelope(ctx context.Context, envelopeID string) (int, error)
	SetValue(ctx context.Context, id, value string) error
}

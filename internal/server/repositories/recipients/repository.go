package recipients

import (
	"context"

	"github.com/avolkov/signdesk/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, recipient *models.Recipient) error
	GetByToken(ctx context.Context, token string) (*models.Recipient, error)

	// GetByTokenForUpdate locks the recipient row for the duration of the
	// surrounding transaction, serializing submissions per recipient.
	GetByTokenForUpdate(ctx context.Context, token string) (*models.Recipient, error)

	GetByEnvelopeAndEmail(ctx context.Context, envelopeID, email string) (*models.Recipient, error)
	ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.Recipient, error)

	MarkViewed(ctx context.Context, id string) error
	MarkSigned(ctx context.Context, id string) error
	MarkDeclined(ctx context.Context, id, reason string) error
}

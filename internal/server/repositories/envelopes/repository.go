package envelopes

import (
	"context"

	"github.com/avolkov/signdesk/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, envelope *models.Envelope) error
	GetByID(ctx context.Context, id string) (*models.Envelope, error)
	GetByContractID(ctx context.Context, contractID string) (*models.Envelope, error)

	// UpdateStatus performs a compare-and-set on the status column and
	// reports whether this caller won the transition.
	UpdateStatus(ctx context.Context, id string, from, to models.EnvelopeStatus) (bool, error)

	SetCompletedFileVersion(ctx context.Context, id, fileVersionID string) error
}

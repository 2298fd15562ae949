package fileversions

import (
	"context"

	"github.com/avolkov/signdesk/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, version *models.FileVersion) error
	GetByID(ctx context.Context, id string) (*models.FileVersion, error)
	NextVersion(ctx context.Context, fileID string) (int64, error)
}

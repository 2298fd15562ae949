package fileversions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/avolkov/signdesk/internal/common"
	"github.com/avolkov/signdesk/internal/dbx"
	"github.com/avolkov/signdesk/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, version *models.FileVersion) error {

	query :=
		`INSERT INTO file_versions (id, file_id, version, storage_key, content_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
		`

	err := r.db.QueryRowContext(ctx, query,
		version.ID, version.FileID, version.Version, version.StorageKey, version.ContentType).Scan(&version.ID)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.FileVersion, error) {

	query :=
		`SELECT id, file_id, version, storage_key, content_type, created_at
		FROM file_versions
		WHERE id=$1
		`

	item := &models.FileVersion{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.FileID, &item.Version, &item.StorageKey, &item.ContentType, &item.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return item, nil
}

func (r *PostgresRepository) NextVersion(ctx context.Context, fileID string) (int64, error) {

	query := `SELECT COALESCE(MAX(version), 0) + 1 FROM file_versions WHERE file_id=$1`

	var next int64
	if err := r.db.QueryRowContext(ctx, query, fileID).Scan(&next); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return next, nil
}

package envelopes

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

func (r *PostgresRepository) Create(ctx context.Context, envelope *models.Envelope) error {

	query :=
		`INSERT INTO envelopes (id, contract_id, title, status, source_file_version_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
		`

	err := r.db.QueryRowContext(ctx, query,
		envelope.ID, envelope.ContractID, envelope.Title, envelope.Status, envelope.SourceFileVersionID).Scan(&envelope.ID)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Envelope, error) {

	query :=
		`SELECT id, contract_id, title, status, source_file_version_id, completed_file_version_id, created_at, updated_at
		FROM envelopes
		WHERE id=$1
		`

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByContractID(ctx context.Context, contractID string) (*models.Envelope, error) {

	query :=
		`SELECT id, contract_id, title, status, source_file_version_id, completed_file_version_id, created_at, updated_at
		FROM envelopes
		WHERE contract_id=$1
		ORDER BY created_at DESC
		LIMIT 1
		`

	return r.scanOne(r.db.QueryRowContext(ctx, query, contractID))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Envelope, error) {
	e := &models.Envelope{}
	err := row.Scan(&e.ID, &e.ContractID, &e.Title, &e.Status,
		&e.SourceFileVersionID, &e.CompletedFileVersionID, &e.CreatedAt, &e.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return e, nil
}

// UpdateStatus flips status with the old value guarded in the WHERE clause,
// so concurrent callers racing for the same transition see exactly one win.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to models.EnvelopeStatus) (bool, error) {

	query := `UPDATE envelopes SET status=$1, updated_at=now() WHERE id=$2 AND status=$3`

	result, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}

	return rowsAffected == 1, nil
}

func (r *PostgresRepository) SetCompletedFileVersion(ctx context.Context, id, fileVersionID string) error {

	query := `UPDATE envelopes SET completed_file_version_id=$1, updated_at=now() WHERE id=$2`

	result, err := r.db.ExecContext(ctx, query, fileVersionID, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}

	if rowsAffected != 1 {
		return common.ErrNotFound
	}

	return nil
}

package sigfields

import (
	"context"
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

func (r *PostgresRepository) Create(ctx context.Context, field *models.SignatureField) error {

	query :=
		`INSERT INTO signature_fields (id, recipient_id, field_type, page, coord_x, coord_y, coord_w, coord_h)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
		`

	err := r.db.QueryRowContext(ctx, query,
		field.ID, field.RecipientID, field.Type, field.Page,
		field.CoordX, field.CoordY, field.CoordW, field.CoordH).Scan(&field.ID)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ListByRecipient(ctx context.Context, recipientID string) ([]*models.SignatureField, error) {

	query :=
		`SELECT id, recipient_id, field_type, page, coord_x, coord_y, coord_w, coord_h, value
		FROM signature_fields
		WHERE recipient_id=$1
		ORDER BY page, coord_y, coord_x
		`

	return r.list(ctx, query, recipientID)
}

func (r *PostgresRepository) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.SignatureField, error) {

	query :=
		`SELECT f.id, f.recipient_id, f.field_type, f.page, f.coord_x, f.coord_y, f.coord_w, f.coord_h, f.value
		FROM signature_fields f
		JOIN recipients r ON r.id = f.recipient_id
		WHERE r.envelope_id=$1
		ORDER BY f.page, f.coord_y, f.coord_x
		`

	return r.list(ctx, query, envelopeID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.SignatureField, error) {

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select fields: %w", err)
	}

	var result []*models.SignatureField

	defer rows.Close()
	for rows.Next() {
		item := &models.SignatureField{}
		err := rows.Scan(&item.ID, &item.RecipientID, &item.Type, &item.Page,
			&item.CoordX, &item.CoordY, &item.CoordW, &item.CoordH, &item.Value)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PostgresRepository) CountByEnvelope(ctx context.Context, envelopeID string) (int, error) {

	query :=
		`SELECT count(*)
		FROM signature_fields f
		JOIN recipients r ON r.id = f.recipient_id
		WHERE r.envelope_id=$1
		`

	var count int
	if err := r.db.QueryRowContext(ctx, query, envelopeID).Scan(&count); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return count, nil
}

func (r *PostgresRepository) SetValue(ctx context.Context, id, value string) error {

	query := `UPDATE signature_fields SET value=$1 WHERE id=$2`

	result, err := r.db.ExecContext(ctx, query, value, id)
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

package recipients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/avolkov/signdesk/internal/common"
	"github.com/avolkov/signdesk/internal/dbx"
	"github.com/avolkov/signdesk/internal/server/models"
)

const selectColumns = `id, envelope_id, name, email, token, signing_order, status, decline_reason, viewed_at, signed_at, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, recipient *models.Recipient) error {

	query :=
		`INSERT INTO recipients (id, envelope_id, name, email, token, signing_order, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
		`

	err := r.db.QueryRowContext(ctx, query,
		recipient.ID, recipient.EnvelopeID, recipient.Name, recipient.Email,
		recipient.Token, recipient.SigningOrder, recipient.Status).Scan(&recipient.ID)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*models.Recipient, error) {
	query := `SELECT ` + selectColumns + ` FROM recipients WHERE token=$1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, token))
}

func (r *PostgresRepository) GetByTokenForUpdate(ctx context.Context, token string) (*models.Recipient, error) {
	query := `SELECT ` + selectColumns + ` FROM recipients WHERE token=$1 FOR UPDATE`
	return r.scanOne(r.db.QueryRowContext(ctx, query, token))
}

func (r *PostgresRepository) GetByEnvelopeAndEmail(ctx context.Context, envelopeID, email string) (*models.Recipient, error) {
	query := `SELECT ` + selectColumns + ` FROM recipients WHERE envelope_id=$1 AND lower(email)=lower($2)`
	return r.scanOne(r.db.QueryRowContext(ctx, query, envelopeID, email))
}

func (r *PostgresRepository) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.Recipient, error) {

	query := `SELECT ` + selectColumns + ` FROM recipients WHERE envelope_id=$1 ORDER BY signing_order, created_at`

	rows, err := r.db.QueryContext(ctx, query, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to select recipients: %w", err)
	}

	var result []*models.Recipient

	defer rows.Close()
	for rows.Next() {
		item, err := scan(rows)
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

// MarkViewed advances INVITED→VIEWED. The status guard in the WHERE clause
// makes repeated calls no-ops and keeps terminal rows untouched.
func (r *PostgresRepository) MarkViewed(ctx context.Context, id string) error {
	query := `UPDATE recipients SET status=$1, viewed_at=now() WHERE id=$2 AND status=$3`
	_, err := r.db.ExecContext(ctx, query, models.RecipientViewed, id, models.RecipientInvited)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkSigned(ctx context.Context, id string) error {

	query := `UPDATE recipients SET status=$1, signed_at=now() WHERE id=$2 AND status IN ($3, $4)`

	result, err := r.db.ExecContext(ctx, query,
		models.RecipientSigned, id, models.RecipientInvited, models.RecipientViewed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}

	if rowsAffected != 1 {
		return common.ErrInvalidTransition
	}

	return nil
}

func (r *PostgresRepository) MarkDeclined(ctx context.Context, id, reason string) error {

	query := `UPDATE recipients SET status=$1, decline_reason=$2 WHERE id=$3 AND status IN ($4, $5)`

	result, err := r.db.ExecContext(ctx, query,
		models.RecipientDeclined, reason, id, models.RecipientInvited, models.RecipientViewed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}

	if rowsAffected != 1 {
		return common.ErrInvalidTransition
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*models.Recipient, error) {
	item := &models.Recipient{}
	var viewedAt, signedAt sql.NullTime

	err := row.Scan(&item.ID, &item.EnvelopeID, &item.Name, &item.Email, &item.Token,
		&item.SigningOrder, &item.Status, &item.DeclineReason, &viewedAt, &signedAt, &item.CreatedAt)
	if err != nil {
		return nil, err
	}

	if viewedAt.Valid {
		item.ViewedAt = &viewedAt.Time
	}
	if signedAt.Valid {
		item.SignedAt = &signedAt.Time
	}

	return item, nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Recipient, error) {
	item, err := scan(row)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return item, nil
}

package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avolkov/signdesk/internal/dbx"
	"github.com/avolkov/signdesk/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Add(ctx context.Context, event *models.EnvelopeEvent) error {

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload marshal error: %w", err)
	}

	query :=
		`INSERT INTO envelope_events (id, envelope_id, event_type, actor, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
		`

	err = r.db.QueryRowContext(ctx, query,
		event.ID, event.EnvelopeID, event.Type, event.Actor, encoded).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.EnvelopeEvent, error) {

	query :=
		`SELECT id, envelope_id, event_type, actor, payload, created_at
		FROM envelope_events
		WHERE envelope_id=$1
		ORDER BY created_at
		`

	rows, err := r.db.QueryContext(ctx, query, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to select events: %w", err)
	}

	var result []*models.EnvelopeEvent

	defer rows.Close()
	for rows.Next() {
		item := &models.EnvelopeEvent{}
		var payload []byte
		err := rows.Scan(&item.ID, &item.EnvelopeID, &item.Type, &item.Actor, &payload, &item.CreatedAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return nil, fmt.Errorf("payload unmarshal error: %w", err)
		}
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/avolkov/signdesk/internal/common"
	"github.com/avolkov/signdesk/internal/dbx"
	"github.com/avolkov/signdesk/internal/logging"
	"github.com/avolkov/signdesk/internal/server/models"
	"github.com/avolkov/signdesk/internal/server/notify"
	"github.com/avolkov/signdesk/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// EnvelopeAggregate is the owner's view of an envelope.
type EnvelopeAggregate struct {
	Envelope   *models.Envelope
	Recipients []*models.Recipient
	Fields     []*models.SignatureField
}

// EnvelopeService owns the envelope status machine. It is the single
// component allowed to flip Envelope.Status, and the only place the
// SENT→COMPLETED decision is made.
type EnvelopeService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	notifier    notify.Notifier
	logger      logging.Logger

	// onCompleted is invoked exactly once per envelope, by the caller
	// whose re-evaluation won the COMPLETED transition. Wired to the
	// finalizer at startup.
	onCompleted func(envelopeID string)
}

func NewEnvelopeService(db *sql.DB, rm repomanager.RepositoryManager, notifier notify.Notifier, logger logging.Logger) *EnvelopeService {
	return &EnvelopeService{
		db:          db,
		repomanager: rm,
		notifier:    notifier,
		logger:      logger.With("module", "envelope_service"),
		onCompleted: func(string) {},
	}
}

// SetCompletionHook registers the callback fired when an envelope reaches
// COMPLETED. Must be called before the service handles traffic.
func (s *EnvelopeService) SetCompletionHook(hook func(envelopeID string)) {
	if hook != nil {
		s.onCompleted = hook
	}
}

// NewRecipientToken mints the bearer capability for a public signing link:
// 32 bytes of crypto/rand, hex-encoded. Treated as a capability, not an
// identifier; it is never logged.
func NewRecipientToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func (s *EnvelopeService) Create(ctx context.Context, contractID, title, sourceFileVersionID string) (*models.Envelope, error) {

	if contractID == "" {
		return nil, fmt.Errorf("%w: contract id required", common.ErrValidationFailed)
	}

	envelope := &models.Envelope{
		ID:                  "env_" + uuid.NewString(),
		ContractID:          contractID,
		Title:               title,
		Status:              models.EnvelopeDraft,
		SourceFileVersionID: sourceFileVersionID,
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Envelopes(tx).Create(ctx, envelope); err != nil {
			return err
		}
		return s.addEvent(ctx, tx, envelope.ID, "envelope.created", map[string]any{"contract_id": contractID})
	})
	if err != nil {
		return nil, fmt.Errorf("error creating envelope: %w", err)
	}

	return envelope, nil
}

// AddRecipient attaches a party to a DRAFT envelope and mints their
// signing-link token.
func (s *EnvelopeService) AddRecipient(ctx context.Context, envelopeID, name, email string, signingOrder int) (*models.Recipient, error) {

	if signingOrder < 1 {
		return nil, fmt.Errorf("%w: signing order must be positive", common.ErrValidationFailed)
	}
	if email == "" {
		return nil, fmt.Errorf("%w: recipient email required", common.ErrValidationFailed)
	}

	recipient := &models.Recipient{
		ID:           "rcp_" + uuid.NewString(),
		EnvelopeID:   envelopeID,
		Name:         name,
		Email:        email,
		Token:        NewRecipientToken(),
		SigningOrder: signingOrder,
		Status:       models.RecipientInvited,
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		envelope, err := s.repomanager.Envelopes(tx).GetByID(ctx, envelopeID)
		if err != nil {
			return err
		}
		if err := s.requireDraft(envelope); err != nil {
			return err
		}
		return s.repomanager.Recipients(tx).Create(ctx, recipient)
	})
	if err != nil {
		return nil, err
	}

	return recipient, nil
}

// AddField attaches a typed placeholder to a recipient of a DRAFT envelope.
func (s *EnvelopeService) AddField(ctx context.Context, envelopeID, recipientID string, fieldType models.FieldType, page int, x, y, w, h float64) (*models.SignatureField, error) {

	if !fieldType.Valid() {
		return nil, fmt.Errorf("%w: unknown field type %q", common.ErrValidationFailed, fieldType)
	}
	if page < 1 {
		return nil, fmt.Errorf("%w: page is 1-based", common.ErrValidationFailed)
	}
	for _, c := range []float64{x, y, w, h} {
		if c < 0 || c > 1 {
			return nil, fmt.Errorf("%w: coordinates are normalized page fractions", common.ErrValidationFailed)
		}
	}

	field := &models.SignatureField{
		ID:          "fld_" + uuid.NewString(),
		RecipientID: recipientID,
		Type:        fieldType,
		Page:        page,
		CoordX:      x, CoordY: y, CoordW: w, CoordH: h,
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		envelope, err := s.repomanager.Envelopes(tx).GetByID(ctx, envelopeID)
		if err != nil {
			return err
		}
		if err := s.requireDraft(envelope); err != nil {
			return err
		}

		recipient, err := s.findRecipient(ctx, tx, envelopeID, recipientID)
		if err != nil {
			return err
		}
		field.RecipientID = recipient.ID

		return s.repomanager.Fields(tx).Create(ctx, field)
	})
	if err != nil {
		return nil, err
	}

	return field, nil
}

// Send freezes the envelope: DRAFT→SENT, requires at least one recipient
// and one field. Fields and recipients are immutable afterwards.
func (s *EnvelopeService) Send(ctx context.Context, envelopeID string) error {

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		envelope, err := s.repomanager.Envelopes(tx).GetByID(ctx, envelopeID)
		if err != nil {
			return err
		}
		if !envelope.Status.CanTransition(models.EnvelopeSent) {
			return common.ErrInvalidTransition
		}

		recipients, err := s.repomanager.Recipients(tx).ListByEnvelope(ctx, envelopeID)
		if err != nil {
			return err
		}
		if len(recipients) == 0 {
			return fmt.Errorf("%w: envelope has no recipients", common.ErrValidationFailed)
		}

		fieldCount, err := s.repomanager.Fields(tx).CountByEnvelope(ctx, envelopeID)
		if err != nil {
			return err
		}
		if fieldCount == 0 {
			return fmt.Errorf("%w: envelope has no fields", common.ErrValidationFailed)
		}

		won, err := s.repomanager.Envelopes(tx).UpdateStatus(ctx, envelopeID, models.EnvelopeDraft, models.EnvelopeSent)
		if err != nil {
			return err
		}
		if !won {
			return common.ErrInvalidTransition
		}

		return s.addEvent(ctx, tx, envelopeID, "envelope.sent", map[string]any{"recipients": len(recipients)})
	})
	if err != nil {
		return err
	}

	return nil
}

// Cancel is the owner's terminal action. After it commits, any in-flight
// submission re-reading envelope status inside its transaction is rejected.
func (s *EnvelopeService) Cancel(ctx context.Context, envelopeID string) error {

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		envelope, err := s.repomanager.Envelopes(tx).GetByID(ctx, envelopeID)
		if err != nil {
			return err
		}
		if envelope.Status.Terminal() {
			return common.ErrEnvelopeClosed
		}

		won, err := s.repomanager.Envelopes(tx).UpdateStatus(ctx, envelopeID, envelope.Status, models.EnvelopeCancelled)
		if err != nil {
			return err
		}
		if !won {
			return common.ErrEnvelopeClosed
		}

		return s.addEvent(ctx, tx, envelopeID, "envelope.cancelled", nil)
	})
}

func (s *EnvelopeService) Get(ctx context.Context, envelopeID string) (*EnvelopeAggregate, error) {

	envelope, err := s.repomanager.Envelopes(s.db).GetByID(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	recipients, err := s.repomanager.Recipients(s.db).ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	flds, err := s.repomanager.Fields(s.db).ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, err
	}

	return &EnvelopeAggregate{Envelope: envelope, Recipients: recipients, Fields: flds}, nil
}

func (s *EnvelopeService) GetByContract(ctx context.Context, contractID string) (*models.Envelope, error) {
	return s.repomanager.Envelopes(s.db).GetByContractID(ctx, contractID)
}

func (s *EnvelopeService) Events(ctx context.Context, envelopeID string) ([]*models.EnvelopeEvent, error) {
	return s.repomanager.Events(s.db).ListByEnvelope(ctx, envelopeID)
}

// Reevaluate recomputes the envelope status from recipient state. Cheap,
// idempotent, safe to call redundantly: concurrent callers race on a
// compare-and-set, so at most one observes the SENT→COMPLETED flip and
// triggers finalization. Returns whether this call performed the flip.
func (s *EnvelopeService) Reevaluate(ctx context.Context, envelopeID string) (bool, error) {

	envelope, err := s.repomanager.Envelopes(s.db).GetByID(ctx, envelopeID)
	if err != nil {
		return false, err
	}
	if envelope.Status != models.EnvelopeSent {
		return false, nil
	}

	recipients, err := s.repomanager.Recipients(s.db).ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return false, err
	}
	if len(recipients) == 0 {
		return false, nil
	}

	for _, r := range recipients {
		if r.Status != models.RecipientSigned {
			return false, nil
		}
	}

	won, err := s.repomanager.Envelopes(s.db).UpdateStatus(ctx, envelopeID, models.EnvelopeSent, models.EnvelopeCompleted)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	if err := s.addEvent(ctx, s.db, envelopeID, "envelope.completed", nil); err != nil {
		s.logger.Warn(ctx, "failed to record completion event", "envelope_id", envelopeID, "error", err.Error())
	}

	s.onCompleted(envelopeID)

	return true, nil
}

func (s *EnvelopeService) requireDraft(envelope *models.Envelope) error {
	if envelope.Status.Terminal() {
		return common.ErrEnvelopeClosed
	}
	if envelope.Status != models.EnvelopeDraft {
		return common.ErrInvalidTransition
	}
	return nil
}

func (s *EnvelopeService) findRecipient(ctx context.Context, tx dbx.DBTX, envelopeID, recipientID string) (*models.Recipient, error) {
	recipients, err := s.repomanager.Recipients(tx).ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	for _, r := range recipients {
		if r.ID == recipientID {
			return r, nil
		}
	}
	return nil, common.ErrNotFound
}

func (s *EnvelopeService) addEvent(ctx context.Context, db dbx.DBTX, envelopeID, eventType string, payload map[string]any) error {
	return s.repomanager.Events(db).Add(ctx, &models.EnvelopeEvent{
		ID:         "evt_" + uuid.NewString(),
		EnvelopeID: envelopeID,
		Type:       eventType,
		Actor:      "SYSTEM",
		Payload:    payload,
	})
}

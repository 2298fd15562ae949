package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/avolkov/signdesk/internal/common"
	"github.com/avolkov/signdesk/internal/dbx"
	"github.com/avolkov/signdesk/internal/logging"
	"github.com/avolkov/signdesk/internal/server/fields"
	"github.com/avolkov/signdesk/internal/server/models"
	"github.com/avolkov/signdesk/internal/server/notify"
	"github.com/avolkov/signdesk/internal/server/repositories/repomanager"
)

// SigningContext is what a signer's view is built from. When Closed is
// true the envelope is no longer signable and the remaining fields are
// withheld, so a revoked link renders the same neutral page everywhere.
type SigningContext struct {
	Closed    bool
	Envelope  *models.Envelope
	Recipient *models.Recipient
	Fields    []*models.SignatureField
	MyTurn    bool

	// PDFDownloadURL is a short-lived presigned link to the source PDF.
	PDFDownloadURL string
}

// SigningService is the only path that turns a recipient's raw submission
// into committed state. It resolves an acting identity to a Recipient via
// either a public token or a portal session, and feeds both into the same
// state machine.
type SigningService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	envelopes   *EnvelopeService
	store       FileStore
	notifier    notify.Notifier
	logger      logging.Logger
}

func NewSigningService(db *sql.DB, rm repomanager.RepositoryManager, envelopes *EnvelopeService, store FileStore, notifier notify.Notifier, logger logging.Logger) *SigningService {
	return &SigningService{
		db:          db,
		repomanager: rm,
		envelopes:   envelopes,
		store:       store,
		notifier:    notifier,
		logger:      logger.With("module", "signing_service"),
	}
}

// IsUnavailable reports whether a signing-link lookup should render the
// neutral "document not available" page. Unknown and revoked tokens are
// indistinguishable to the caller.
func IsUnavailable(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}

// GetSigningContext resolves a public signing link. A cancelled envelope
// yields a closed context, not an error, so the response does not reveal
// whether the token was ever valid.
func (s *SigningService) GetSigningContext(ctx context.Context, token string) (*SigningContext, error) {
	recipient, err := s.repomanager.Recipients(s.db).GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.buildContext(ctx, recipient)
}

// GetSigningContextBySession resolves the authenticated flow: the portal
// session's email must match a recipient of the contract's envelope.
func (s *SigningService) GetSigningContextBySession(ctx context.Context, contractID, email string) (*SigningContext, error) {

	envelope, err := s.repomanager.Envelopes(s.db).GetByContractID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	recipient, err := s.repomanager.Recipients(s.db).GetByEnvelopeAndEmail(ctx, envelope.ID, email)
	if err != nil {
		return nil, err
	}

	return s.buildContext(ctx, recipient)
}

func (s *SigningService) buildContext(ctx context.Context, recipient *models.Recipient) (*SigningContext, error) {

	envelope, err := s.repomanager.Envelopes(s.db).GetByID(ctx, recipient.EnvelopeID)
	if err != nil {
		return nil, err
	}

	if envelope.Status == models.EnvelopeCancelled {
		return &SigningContext{Closed: true}, nil
	}

	all, err := s.repomanager.Recipients(s.db).ListByEnvelope(ctx, envelope.ID)
	if err != nil {
		return nil, err
	}

	flds, err := s.repomanager.Fields(s.db).ListByRecipient(ctx, recipient.ID)
	if err != nil {
		return nil, err
	}

	sc := &SigningContext{
		Envelope:  envelope,
		Recipient: recipient,
		Fields:    flds,
		MyTurn:    models.CanAct(recipient, all),
	}

	if envelope.SourceFileVersionID != "" {
		url, err := s.store.GetDownloadURL(ctx, envelope.SourceFileVersionID)
		if err != nil {
			// The signer can still see their state; the PDF link is
			// retried on the next page load.
			s.logger.Warn(ctx, "failed to presign source pdf", "envelope_id", envelope.ID, "error", err.Error())
		} else {
			sc.PDFDownloadURL = url
		}
	}

	return sc, nil
}

// MarkViewed advances INVITED→VIEWED. Idempotent: repeat calls and calls
// on terminal recipients are no-ops.
func (s *SigningService) MarkViewed(ctx context.Context, token string) error {

	recipient, err := s.repomanager.Recipients(s.db).GetByToken(ctx, token)
	if err != nil {
		return err
	}

	envelope, err := s.repomanager.Envelopes(s.db).GetByID(ctx, recipient.EnvelopeID)
	if err != nil {
		return err
	}
	if envelope.Status == models.EnvelopeCancelled {
		return common.ErrEnvelopeClosed
	}

	if recipient.Status.Terminal() || recipient.Status == models.RecipientViewed {
		return nil
	}

	if err := s.repomanager.Recipients(s.db).MarkViewed(ctx, recipient.ID); err != nil {
		return err
	}

	s.notifier.Publish(ctx, notify.EventRecipientViewed, map[string]any{
		"envelope_id":  envelope.ID,
		"recipient_id": recipient.ID,
	})

	return nil
}

// Submit validates and applies one recipient's submission, atomically,
// exactly once.
//
// Preconditions are checked in order inside a transaction that locks the
// recipient row and reads envelope status fresh: envelope not CANCELLED
// (EnvelopeClosed), recipient not DECLINED (InvalidTransition), ordering
// satisfied (NotYourTurn), field validation (ValidationFailed). A
// re-submission for an already-SIGNED recipient commits nothing and
// reports alreadySigned.
func (s *SigningService) Submit(ctx context.Context, token string, sub *models.Submission) (*models.SubmitResult, error) {

	if sub == nil {
		sub = &models.Submission{}
	}
	if sub.FieldValues == nil {
		sub.FieldValues = map[string]string{}
	}

	result := &models.SubmitResult{}
	var envelopeID, recipientID string

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {

		// Row lock serializes concurrent submissions for this recipient.
		recipient, err := s.repomanager.Recipients(tx).GetByTokenForUpdate(ctx, token)
		if err != nil {
			return err
		}
		recipientID = recipient.ID
		envelopeID = recipient.EnvelopeID

		// Status is read inside the transaction so a submission racing a
		// cancellation loses cleanly.
		envelope, err := s.repomanager.Envelopes(tx).GetByID(ctx, recipient.EnvelopeID)
		if err != nil {
			return err
		}
		if envelope.Status == models.EnvelopeCancelled {
			return common.ErrEnvelopeClosed
		}

		if recipient.Status == models.RecipientSigned {
			result.Signed = true
			result.AlreadySigned = true
			return nil
		}

		if envelope.Status != models.EnvelopeSent {
			return common.ErrEnvelopeClosed
		}

		if recipient.Status == models.RecipientDeclined {
			return common.ErrInvalidTransition
		}

		all, err := s.repomanager.Recipients(tx).ListByEnvelope(ctx, recipient.EnvelopeID)
		if err != nil {
			return err
		}
		if !models.CanAct(recipient, all) {
			return common.ErrNotYourTurn
		}

		flds, err := s.repomanager.Fields(tx).ListByRecipient(ctx, recipient.ID)
		if err != nil {
			return err
		}
		if err := fields.Validate(flds, sub); err != nil {
			return err
		}

		fieldRepo := s.repomanager.Fields(tx)
		for _, f := range flds {
			value, present := sub.FieldValues[f.ID]
			if !present {
				if f.Type.NeedsImage() {
					// One pen stroke fills every signature block the
					// values map left blank.
					value = sub.SignatureImage
				} else if f.Type == models.FieldCheckbox {
					value = "false"
				} else {
					continue
				}
			}
			if err := fieldRepo.SetValue(ctx, f.ID, value); err != nil {
				return err
			}
		}

		if err := s.repomanager.Recipients(tx).MarkSigned(ctx, recipient.ID); err != nil {
			return err
		}

		result.Signed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadySigned {
		return result, nil
	}

	s.notifier.Publish(ctx, notify.EventRecipientSigned, map[string]any{
		"envelope_id":  envelopeID,
		"recipient_id": recipientID,
	})

	completed, err := s.envelopes.Reevaluate(ctx, envelopeID)
	if err != nil {
		// The signature is committed; a failed re-evaluation is repaired
		// by the next one.
		s.logger.Error(ctx, "reevaluate failed after submission", "envelope_id", envelopeID, "error", err.Error())
		return result, nil
	}
	result.Completed = completed

	return result, nil
}

// Decline is irreversible and does not cancel sibling recipients; the
// envelope owner decides what to do with the envelope afterwards.
func (s *SigningService) Decline(ctx context.Context, token, reason string) error {

	var envelopeID, recipientID string

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {

		recipient, err := s.repomanager.Recipients(tx).GetByTokenForUpdate(ctx, token)
		if err != nil {
			return err
		}
		recipientID = recipient.ID
		envelopeID = recipient.EnvelopeID

		envelope, err := s.repomanager.Envelopes(tx).GetByID(ctx, recipient.EnvelopeID)
		if err != nil {
			return err
		}
		if envelope.Status == models.EnvelopeCancelled {
			return common.ErrEnvelopeClosed
		}

		if recipient.Status.Terminal() {
			return common.ErrInvalidTransition
		}

		return s.repomanager.Recipients(tx).MarkDeclined(ctx, recipient.ID, reason)
	})
	if err != nil {
		return err
	}

	s.notifier.Publish(ctx, notify.EventRecipientDeclined, map[string]any{
		"envelope_id":  envelopeID,
		"recipient_id": recipientID,
		"reason":       reason,
	})

	return nil
}

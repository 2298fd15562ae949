package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/avolkov/signdesk/internal/common"
	"github.com/avolkov/signdesk/internal/server/models"
	"github.com/avolkov/signdesk/internal/server/notify"
)

func TestNewRecipientToken(t *testing.T) {
	a, b := NewRecipientToken(), NewRecipientToken()
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == b {
		t.Fatalf("tokens must be unique")
	}
}

func TestEnvelopeCreate_Success(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	store := newMemStore()
	s := NewEnvelopeService(db, &memRepoManager{store}, notify.NopNotifier{}, testLogger())

	env, err := s.Create(context.Background(), "ctr_1", "MSA", "fv_src")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !strings.HasPrefix(env.ID, "env_") {
		t.Errorf("unexpected id %q", env.ID)
	}
	if env.Status != models.EnvelopeDraft {
		t.Errorf("expected DRAFT, got %s", env.Status)
	}
	if len(store.events) != 1 || store.events[0].Type != "envelope.created" {
		t.Errorf("expected envelope.created event, got %+v", store.events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestEnvelopeCreate_MissingContract(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	s := NewEnvelopeService(db, &memRepoManager{newMemStore()}, notify.NopNotifier{}, testLogger())

	_, err := s.Create(context.Background(), "", "MSA", "fv_src")
	if !errors.Is(err, common.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}

func TestAddRecipient_DraftOnly(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	store := newMemStore()
	store.envelopes["env_1"] = &models.Envelope{ID: "env_1", Status: models.EnvelopeDraft}
	s := NewEnvelopeService(db, &memRepoManager{store}, notify.NopNotifier{}, testLogger())

	mock.ExpectBegin()
	mock.ExpectCommit()
	rc, err := s.AddRecipient(context.Background(), "env_1", "Alice", "alice@example.com", 1)
	if err != nil {
		t.Fatalf("AddRecipient error: %v", err)
	}
	if rc.Status != models.RecipientInvited {
		t.Errorf("expected INVITED, got %s", rc.Status)
	}
	if len(rc.Token) != 64 {
		t.Errorf("expected minted token, got %q", rc.Token)
	}

	store.envelopes["env_1"].Status = models.EnvelopeSent
	mock.ExpectBegin()
	mock.ExpectRollback()
	_, err = s.AddRecipient(context.Background(), "env_1", "Bob", "bob@example.com", 2)
	if !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on sent envelope, got %v", err)
	}
}

func TestAddRecipient_Validation(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()
	s := NewEnvelopeService(db, &memRepoManager{newMemStore()}, notify.NopNotifier{}, testLogger())

	if _, err := s.AddRecipient(context.Background(), "env_1", "Alice", "alice@example.com", 0); !errors.Is(err, common.ErrValidationFailed) {
		t.Errorf("zero order: expected ErrValidationFailed, got %v", err)
	}
	if _, err := s.AddRecipient(context.Background(), "env_1", "Alice", "", 1); !errors.Is(err, common.ErrValidationFailed) {
		t.Errorf("empty email: expected ErrValidationFailed, got %v", err)
	}
}

func TestAddField(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	store := newMemStore()
	store.envelopes["env_1"] = &models.Envelope{ID: "env_1", Status: models.EnvelopeDraft}
	store.recipients = append(store.recipients, &models.Recipient{ID: "rcp_1", EnvelopeID: "env_1", Status: models.RecipientInvited, SigningOrder: 1})
	s := NewEnvelopeService(db, &memRepoManager{store}, notify.NopNotifier{}, testLogger())

	if _, err := s.AddField(context.Background(), "env_1", "rcp_1", "SCRIBBLE", 1, 0.1, 0.1, 0.2, 0.05); !errors.Is(err, common.ErrValidationFailed) {
		t.Errorf("bad type: expected ErrValidationFailed, got %v", err)
	}
	if _, err := s.AddField(context.Background(), "env_1", "rcp_1", models.FieldText, 0, 0.1, 0.1, 0.2, 0.05); !errors.Is(err, common.ErrValidationFailed) {
		t.Errorf("page 0: expected ErrValidationFailed, got %v", err)
	}
	if _, err := s.AddField(context.Background(), "env_1", "rcp_1", models.FieldText, 1, 1.5, 0.1, 0.2, 0.05); !errors.Is(err, common.ErrValidationFailed) {
		t.Errorf("x>1: expected ErrValidationFailed, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectRollback()
	if _, err := s.AddField(context.Background(), "env_1", "rcp_missing", models.FieldText, 1, 0.1, 0.1, 0.2, 0.05); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("unknown recipient: expected ErrNotFound, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectCommit()
	f, err := s.AddField(context.Background(), "env_1", "rcp_1", models.FieldSignature, 1, 0.1, 0.8, 0.2, 0.05)
	if err != nil {
		t.Fatalf("AddField error: %v", err)
	}
	if !strings.HasPrefix(f.ID, "fld_") {
		t.Errorf("unexpected id %q", f.ID)
	}
	if len(store.fields) != 1 {
		t.Errorf("expected persisted field, got %d", len(store.fields))
	}
}

func TestSend(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	store := newMemStore()
	store.envelopes["env_1"] = &models.Envelope{ID: "env_1", Status: models.EnvelopeDraft}
	s := NewEnvelopeService(db, &memRepoManager{store}, notify.NopNotifier{}, testLogger())

	// no recipients yet
	mock.ExpectBegin()
	mock.ExpectRollback()
	if err := s.Send(context.Background(), "env_1"); !errors.Is(err, common.ErrValidationFailed) {
		t.Errorf("no recipients: expected ErrValidationFailed, got %v", err)
	}

	store.recipients = append(store.recipients, &models.Recipient{ID: "rcp_1", EnvelopeID: "env_1", Status: models.RecipientInvited, SigningOrder: 1})

	// recipients but no fields
	mock.ExpectBegin()
	mock.ExpectRollback()
	if err := s.Send(context.Background(), "env_1"); !errors.Is(err, common.ErrValidationFailed) {
		t.Errorf("no fields: expected ErrValidationFailed, got %v", err)
	}

	store.fields = append(store.fields, &models.SignatureField{ID: "fld_1", RecipientID: "rcp_1", Type: models.FieldSignature, Page: 1})

	mock.ExpectBegin()
	mock.ExpectCommit()
	if err := s.Send(context.Background(), "env_1"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if store.envelopes["env_1"].Status != models.EnvelopeSent {
		t.Errorf("expected SENT, got %s", store.envelopes["env_1"].Status)
	}

	// already sent
	mock.ExpectBegin()
	mock.ExpectRollback()
	if err := s.Send(context.Background(), "env_1"); !errors.Is(err, common.ErrInvalidTransition) {
		t.Errorf("double send: expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	store := newMemStore()
	store.envelopes["env_1"] = &models.Envelope{ID: "env_1", Status: models.EnvelopeSent}
	store.envelopes["env_2"] = &models.Envelope{ID: "env_2", Status: models.EnvelopeCompleted}
	s := NewEnvelopeService(db, &memRepoManager{store}, notify.NopNotifier{}, testLogger())

	mock.ExpectBegin()
	mock.ExpectCommit()
	if err := s.Cancel(context.Background(), "env_1"); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if store.envelopes["env_1"].Status != models.EnvelopeCancelled {
		t.Errorf("expected CANCELLED, got %s", store.envelopes["env_1"].Status)
	}

	mock.ExpectBegin()
	mock.ExpectRollback()
	if err := s.Cancel(context.Background(), "env_2"); !errors.Is(err, common.ErrEnvelopeClosed) {
		t.Errorf("completed envelope: expected ErrEnvelopeClosed, got %v", err)
	}

	// cancelling a cancelled envelope is also closed
	mock.ExpectBegin()
	mock.ExpectRollback()
	if err := s.Cancel(context.Background(), "env_1"); !errors.Is(err, common.ErrEnvelopeClosed) {
		t.Errorf("re-cancel: expected ErrEnvelopeClosed, got %v", err)
	}
}

func TestReevaluate(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	store := newMemStore()
	seedSentEnvelope(store)
	s := NewEnvelopeService(db, &memRepoManager{store}, notify.NopNotifier{}, testLogger())

	var completed []string
	s.SetCompletionHook(func(id string) { completed = append(completed, id) })

	// not everyone signed yet
	won, err := s.Reevaluate(context.Background(), "env_1")
	if err != nil || won {
		t.Fatalf("expected no flip, got won=%v err=%v", won, err)
	}

	for _, rc := range store.recipients {
		rc.Status = models.RecipientSigned
	}

	won, err = s.Reevaluate(context.Background(), "env_1")
	if err != nil {
		t.Fatalf("Reevaluate error: %v", err)
	}
	if !won {
		t.Fatalf("expected this call to win the transition")
	}
	if store.envelopes["env_1"].Status != models.EnvelopeCompleted {
		t.Errorf("expected COMPLETED, got %s", store.envelopes["env_1"].Status)
	}
	if len(completed) != 1 || completed[0] != "env_1" {
		t.Errorf("expected completion hook once, got %v", completed)
	}

	// redundant re-evaluation neither errors nor re-fires the hook
	won, err = s.Reevaluate(context.Background(), "env_1")
	if err != nil || won {
		t.Fatalf("second call: expected no flip, got won=%v err=%v", won, err)
	}
	if len(completed) != 1 {
		t.Errorf("hook fired again: %v", completed)
	}
}

func TestGetAggregate(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	store := newMemStore()
	seedSentEnvelope(store)
	s := NewEnvelopeService(db, &memRepoManager{store}, notify.NopNotifier{}, testLogger())

	agg, err := s.Get(context.Background(), "env_1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if agg.Envelope.ID != "env_1" || len(agg.Recipients) != 2 || len(agg.Fields) != 2 {
		t.Errorf("unexpected aggregate: %+v", agg)
	}

	if _, err := s.Get(context.Background(), "env_nope"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

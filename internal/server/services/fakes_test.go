package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/avolkov/signdesk/internal/common"
	"github.com/avolkov/signdesk/internal/dbx"
	"github.com/avolkov/signdesk/internal/logging"
	"github.com/avolkov/signdesk/internal/server/models"
	envelopesrepo "github.com/avolkov/signdesk/internal/server/repositories/envelopes"
	eventsrepo "github.com/avolkov/signdesk/internal/server/repositories/events"
	fileversionsrepo "github.com/avolkov/signdesk/internal/server/repositories/fileversions"
	recipientsrepo "github.com/avolkov/signdesk/internal/server/repositories/recipients"
	sigfieldsrepo "github.com/avolkov/signdesk/internal/server/repositories/sigfields"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

// memStore is an in-memory backing for the fake repositories, so tests
// can exercise multi-step flows (submit, then re-evaluate, then finalize)
// against consistent state.
type memStore struct {
	envelopes   map[string]*models.Envelope
	recipients  []*models.Recipient
	fields      []*models.SignatureField
	versions    map[string]*models.FileVersion
	events      []*models.EnvelopeEvent
	lastVersion map[string]int64
}

func newMemStore() *memStore {
	return &memStore{
		envelopes:   map[string]*models.Envelope{},
		versions:    map[string]*models.FileVersion{},
		lastVersion: map[string]int64{},
	}
}

type memEnvelopesRepo struct{ s *memStore }

func (r *memEnvelopesRepo) Create(ctx context.Context, e *models.Envelope) error {
	r.s.envelopes[e.ID] = e
	return nil
}

func (r *memEnvelopesRepo) GetByID(ctx context.Context, id string) (*models.Envelope, error) {
	e, ok := r.s.envelopes[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return e, nil
}

func (r *memEnvelopesRepo) GetByContractID(ctx context.Context, contractID string) (*models.Envelope, error) {
	for _, e := range r.s.envelopes {
		if e.ContractID == contractID {
			return e, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memEnvelopesRepo) UpdateStatus(ctx context.Context, id string, from, to models.EnvelopeStatus) (bool, error) {
	e, ok := r.s.envelopes[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	return true, nil
}

func (r *memEnvelopesRepo) SetCompletedFileVersion(ctx context.Context, id, fileVersionID string) error {
	e, ok := r.s.envelopes[id]
	if !ok {
		return common.ErrNotFound
	}
	e.CompletedFileVersionID = fileVersionID
	return nil
}

type memRecipientsRepo struct{ s *memStore }

func (r *memRecipientsRepo) Create(ctx context.Context, rc *models.Recipient) error {
	r.s.recipients = append(r.s.recipients, rc)
	return nil
}

func (r *memRecipientsRepo) byToken(token string) (*models.Recipient, error) {
	for _, rc := range r.s.recipients {
		if rc.Token == token {
			return rc, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memRecipientsRepo) GetByToken(ctx context.Context, token string) (*models.Recipient, error) {
	return r.byToken(token)
}

func (r *memRecipientsRepo) GetByTokenForUpdate(ctx context.Context, token string) (*models.Recipient, error) {
	return r.byToken(token)
}

func (r *memRecipientsRepo) GetByEnvelopeAndEmail(ctx context.Context, envelopeID, email string) (*models.Recipient, error) {
	for _, rc := range r.s.recipients {
		if rc.EnvelopeID == envelopeID && strings.EqualFold(rc.Email, email) {
			return rc, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memRecipientsRepo) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.Recipient, error) {
	var out []*models.Recipient
	for _, rc := range r.s.recipients {
		if rc.EnvelopeID == envelopeID {
			out = append(out, rc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SigningOrder != out[j].SigningOrder {
			return out[i].SigningOrder < out[j].SigningOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memRecipientsRepo) find(id string) *models.Recipient {
	for _, rc := range r.s.recipients {
		if rc.ID == id {
			return rc
		}
	}
	return nil
}

func (r *memRecipientsRepo) MarkViewed(ctx context.Context, id string) error {
	rc := r.find(id)
	if rc != nil && rc.Status == models.RecipientInvited {
		rc.Status = models.RecipientViewed
	}
	return nil
}

func (r *memRecipientsRepo) MarkSigned(ctx context.Context, id string) error {
	rc := r.find(id)
	if rc == nil || rc.Status.Terminal() {
		return common.ErrInvalidTransition
	}
	rc.Status = models.RecipientSigned
	return nil
}

func (r *memRecipientsRepo) MarkDeclined(ctx context.Context, id, reason string) error {
	rc := r.find(id)
	if rc == nil || rc.Status.Terminal() {
		return common.ErrInvalidTransition
	}
	rc.Status = models.RecipientDeclined
	rc.DeclineReason = reason
	return nil
}

type memFieldsRepo struct{ s *memStore }

func (r *memFieldsRepo) Create(ctx context.Context, f *models.SignatureField) error {
	r.s.fields = append(r.s.fields, f)
	return nil
}

func (r *memFieldsRepo) ListByRecipient(ctx context.Context, recipientID string) ([]*models.SignatureField, error) {
	var out []*models.SignatureField
	for _, f := range r.s.fields {
		if f.RecipientID == recipientID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *memFieldsRepo) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.SignatureField, error) {
	byRecipient := map[string]bool{}
	for _, rc := range r.s.recipients {
		if rc.EnvelopeID == envelopeID {
			byRecipient[rc.ID] = true
		}
	}
	var out []*models.SignatureField
	for _, f := range r.s.fields {
		if byRecipient[f.RecipientID] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *memFieldsRepo) CountByEnvelope(ctx context.Context, envelopeID string) (int, error) {
	flds, _ := r.ListByEnvelope(ctx, envelopeID)
	return len(flds), nil
}

func (r *memFieldsRepo) SetValue(ctx context.Context, id, value string) error {
	for _, f := range r.s.fields {
		if f.ID == id {
			f.Value = value
			return nil
		}
	}
	return common.ErrNotFound
}

type memFileVersionsRepo struct{ s *memStore }

func (r *memFileVersionsRepo) Create(ctx context.Context, v *models.FileVersion) error {
	r.s.versions[v.ID] = v
	return nil
}

func (r *memFileVersionsRepo) GetByID(ctx context.Context, id string) (*models.FileVersion, error) {
	v, ok := r.s.versions[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return v, nil
}

func (r *memFileVersionsRepo) NextVersion(ctx context.Context, fileID string) (int64, error) {
	r.s.lastVersion[fileID]++
	return r.s.lastVersion[fileID], nil
}

type memEventsRepo struct{ s *memStore }

func (r *memEventsRepo) Add(ctx context.Context, e *models.EnvelopeEvent) error {
	r.s.events = append(r.s.events, e)
	return nil
}

func (r *memEventsRepo) ListByEnvelope(ctx context.Context, envelopeID string) ([]*models.EnvelopeEvent, error) {
	var out []*models.EnvelopeEvent
	for _, e := range r.s.events {
		if e.EnvelopeID == envelopeID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memRepoManager struct{ s *memStore }

func (m *memRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memRepoManager) Envelopes(db dbx.DBTX) envelopesrepo.Repository {
	return &memEnvelopesRepo{m.s}
}
func (m *memRepoManager) Recipients(db dbx.DBTX) recipientsrepo.Repository {
	return &memRecipientsRepo{m.s}
}
func (m *memRepoManager) Fields(db dbx.DBTX) sigfieldsrepo.Repository { return &memFieldsRepo{m.s} }
func (m *memRepoManager) FileVersions(db dbx.DBTX) fileversionsrepo.Repository {
	return &memFileVersionsRepo{m.s}
}
func (m *memRepoManager) Events(db dbx.DBTX) eventsrepo.Repository { return &memEventsRepo{m.s} }

type publishedEvent struct {
	eventType string
	payload   map[string]any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (n *fakeNotifier) Publish(ctx context.Context, eventType string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{eventType, payload})
}

func (n *fakeNotifier) byType(eventType string) []publishedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []publishedEvent
	for _, e := range n.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeFileStore struct {
	s *memStore

	objects map[string][]byte

	// getObjectFailures makes the next N GetObject calls fail, for
	// exercising the finalizer's retry loop.
	getObjectFailures int
	getObjectCalls    int

	published [][]byte
}

func newFakeFileStore(s *memStore) *fakeFileStore {
	return &fakeFileStore{s: s, objects: map[string][]byte{}}
}

func (f *fakeFileStore) PresignUpload(ctx context.Context, contentType string) (string, string, error) {
	return "key", "https://upload.local/key", nil
}

func (f *fakeFileStore) CompleteVersion(ctx context.Context, objectKey, fileID, contentType string) (*models.FileVersion, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeFileStore) GetDownloadURL(ctx context.Context, fileVersionID string) (string, error) {
	return "https://files.local/" + fileVersionID, nil
}

func (f *fakeFileStore) GetObject(ctx context.Context, fileVersionID string) ([]byte, error) {
	f.getObjectCalls++
	if f.getObjectFailures > 0 {
		f.getObjectFailures--
		return nil, fmt.Errorf("storage unavailable")
	}
	data, ok := f.objects[fileVersionID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return data, nil
}

func (f *fakeFileStore) PublishVersion(ctx context.Context, fileID string, data []byte, contentType string) (*models.FileVersion, error) {
	f.published = append(f.published, data)
	version := &models.FileVersion{
		ID:          fmt.Sprintf("fv_pub_%d", len(f.published)),
		FileID:      fileID,
		Version:     int64(len(f.published)) + 1,
		StorageKey:  fmt.Sprintf("published/%d", len(f.published)),
		ContentType: contentType,
	}
	f.s.versions[version.ID] = version
	return version, nil
}

// seedSentEnvelope loads the store with a SENT envelope: two recipients in
// sequential order, one signature field each.
func seedSentEnvelope(s *memStore) {
	s.envelopes["env_1"] = &models.Envelope{
		ID:                  "env_1",
		ContractID:          "ctr_1",
		Title:               "MSA",
		Status:              models.EnvelopeSent,
		SourceFileVersionID: "fv_src",
	}
	s.versions["fv_src"] = &models.FileVersion{
		ID: "fv_src", FileID: "file_1", Version: 1,
		StorageKey: "contracts/src.pdf", ContentType: "application/pdf",
	}
	s.recipients = append(s.recipients,
		&models.Recipient{
			ID: "rcp_1", EnvelopeID: "env_1", Name: "Alice", Email: "alice@example.com",
			Token: "tok-r1", SigningOrder: 1, Status: models.RecipientInvited,
		},
		&models.Recipient{
			ID: "rcp_2", EnvelopeID: "env_1", Name: "Bob", Email: "bob@example.com",
			Token: "tok-r2", SigningOrder: 2, Status: models.RecipientInvited,
		},
	)
	s.fields = append(s.fields,
		&models.SignatureField{ID: "fld_1", RecipientID: "rcp_1", Type: models.FieldSignature, Page: 1, CoordX: 0.1, CoordY: 0.8, CoordW: 0.2, CoordH: 0.05},
		&models.SignatureField{ID: "fld_2", RecipientID: "rcp_2", Type: models.FieldSignature, Page: 2, CoordX: 0.1, CoordY: 0.8, CoordW: 0.2, CoordH: 0.05},
	)
}

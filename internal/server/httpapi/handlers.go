package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avolkov/signdesk/internal/httpx"
	"github.com/avolkov/signdesk/internal/server/models"
	"github.com/avolkov/signdesk/internal/server/services"
)

type envelopeDTO struct {
	ID                     string `json:"id"`
	ContractID             string `json:"contract_id"`
	Title                  string `json:"title"`
	Status                 string `json:"status"`
	SourceFileVersionID    string `json:"source_file_version_id,omitempty"`
	CompletedFileVersionID string `json:"completed_file_version_id,omitempty"`
}

// recipientDTO deliberately omits the signing token; the link is handed
// out once, in the add-recipient response.
type recipientDTO struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	SigningOrder  int        `json:"signing_order"`
	Status        string     `json:"status"`
	DeclineReason string     `json:"decline_reason,omitempty"`
	ViewedAt      *time.Time `json:"viewed_at,omitempty"`
	SignedAt      *time.Time `json:"signed_at,omitempty"`
}

type fieldDTO struct {
	ID          string  `json:"id"`
	RecipientID string  `json:"recipient_id"`
	Type        string  `json:"type"`
	Page        int     `json:"page"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	W           float64 `json:"w"`
	H           float64 `json:"h"`
	Filled      bool    `json:"filled"`
}

func toEnvelopeDTO(e *models.Envelope) envelopeDTO {
	return envelopeDTO{
		ID:                     e.ID,
		ContractID:             e.ContractID,
		Title:                  e.Title,
		Status:                 string(e.Status),
		SourceFileVersionID:    e.SourceFileVersionID,
		CompletedFileVersionID: e.CompletedFileVersionID,
	}
}

func toRecipientDTO(r *models.Recipient) recipientDTO {
	return recipientDTO{
		ID:            r.ID,
		Name:          r.Name,
		Email:         r.Email,
		SigningOrder:  r.SigningOrder,
		Status:        string(r.Status),
		DeclineReason: r.DeclineReason,
		ViewedAt:      r.ViewedAt,
		SignedAt:      r.SignedAt,
	}
}

func toFieldDTO(f *models.SignatureField) fieldDTO {
	return fieldDTO{
		ID:          f.ID,
		RecipientID: f.RecipientID,
		Type:        string(f.Type),
		Page:        f.Page,
		X:           f.CoordX, Y: f.CoordY, W: f.CoordW, H: f.CoordH,
		Filled: f.Value != "",
	}
}

func (s *HTTPServer) createEnvelope(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContractID          string `json:"contract_id"`
		Title               string `json:"title"`
		SourceFileVersionID string `json:"source_file_version_id"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
		return
	}

	env, err := s.envelopes.Create(r.Context(), req.ContractID, req.Title, req.SourceFileVersionID)
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, toEnvelopeDTO(env))
}

func (s *HTTPServer) getEnvelope(w http.ResponseWriter, r *http.Request) {
	agg, err := s.envelopes.Get(r.Context(), chi.URLParam(r, "envelope_id"))
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	recipients := make([]recipientDTO, 0, len(agg.Recipients))
	for _, rc := range agg.Recipients {
		recipients = append(recipients, toRecipientDTO(rc))
	}
	fields := make([]fieldDTO, 0, len(agg.Fields))
	for _, f := range agg.Fields {
		fields = append(fields, toFieldDTO(f))
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"envelope":   toEnvelopeDTO(agg.Envelope),
		"recipients": recipients,
		"fields":     fields,
	})
}

func (s *HTTPServer) listEnvelopeEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.envelopes.Events(r.Context(), chi.URLParam(r, "envelope_id"))
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"id":         e.ID,
			"type":       e.Type,
			"actor":      e.Actor,
			"payload":    e.Payload,
			"created_at": e.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *HTTPServer) addRecipient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		Email        string `json:"email"`
		SigningOrder int    `json:"signing_order"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
		return
	}

	rc, err := s.envelopes.AddRecipient(r.Context(), chi.URLParam(r, "envelope_id"), req.Name, req.Email, req.SigningOrder)
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	resp := map[string]any{
		"recipient":   toRecipientDTO(rc),
		"signing_url": "/sign/" + rc.Token,
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func (s *HTTPServer) addField(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientID string  `json:"recipient_id"`
		Type        string  `json:"type"`
		Page        int     `json:"page"`
		X           float64 `json:"x"`
		Y           float64 `json:"y"`
		W           float64 `json:"w"`
		H           float64 `json:"h"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
		return
	}

	f, err := s.envelopes.AddField(r.Context(), chi.URLParam(r, "envelope_id"), req.RecipientID, models.FieldType(req.Type), req.Page, req.X, req.Y, req.W, req.H)
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, toFieldDTO(f))
}

func (s *HTTPServer) sendEnvelope(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "envelope_id")
	if err := s.envelopes.Send(r.Context(), id); err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "status": string(models.EnvelopeSent)})
}

func (s *HTTPServer) cancelEnvelope(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "envelope_id")
	if err := s.envelopes.Cancel(r.Context(), id); err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "status": string(models.EnvelopeCancelled)})
}

func (s *HTTPServer) presignUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContentType string `json:"content_type"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
		return
	}

	objectKey, uploadURL, err := s.files.PresignUpload(r.Context(), req.ContentType)
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"object_key": objectKey, "upload_url": uploadURL})
}

func (s *HTTPServer) completeUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ObjectKey   string `json:"object_key"`
		FileID      string `json:"file_id"`
		ContentType string `json:"content_type"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
		return
	}

	version, err := s.files.CompleteVersion(r.Context(), req.ObjectKey, req.FileID, req.ContentType)
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"id":      version.ID,
		"file_id": version.FileID,
		"version": version.Version,
	})
}

// signingContextResponse is shared by the public and the session flows.
// An unavailable document always renders the same body, whether the token
// is unknown, revoked, or the envelope was cancelled.
func signingContextResponse(sc *services.SigningContext) map[string]any {
	if sc == nil || sc.Closed {
		return map[string]any{"available": false}
	}

	fields := make([]fieldDTO, 0, len(sc.Fields))
	for _, f := range sc.Fields {
		fields = append(fields, toFieldDTO(f))
	}

	return map[string]any{
		"available":        true,
		"envelope_status":  string(sc.Envelope.Status),
		"title":            sc.Envelope.Title,
		"recipient":        toRecipientDTO(sc.Recipient),
		"fields":           fields,
		"my_turn":          sc.MyTurn,
		"pdf_download_url": sc.PDFDownloadURL,
	}
}

func (s *HTTPServer) signingContext(w http.ResponseWriter, r *http.Request) {
	sc, err := s.signing.GetSigningContext(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if services.IsUnavailable(err) {
			httpx.WriteJSON(w, http.StatusOK, signingContextResponse(nil))
			return
		}
		s.writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, signingContextResponse(sc))
}

func (s *HTTPServer) signingContextBySession(w http.ResponseWriter, r *http.Request) {
	sc, err := s.signing.GetSigningContextBySession(r.Context(), chi.URLParam(r, "contract_id"), sessionEmail(r.Context()))
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, signingContextResponse(sc))
}

func (s *HTTPServer) markViewed(w http.ResponseWriter, r *http.Request) {
	if err := s.signing.MarkViewed(r.Context(), chi.URLParam(r, "token")); err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FieldValues    map[string]string `json:"field_values"`
		SignatureImage string            `json:"signature_image"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
		return
	}

	result, err := s.signing.Submit(r.Context(), chi.URLParam(r, "token"), &models.Submission{
		FieldValues:    req.FieldValues,
		SignatureImage: req.SignatureImage,
	})
	if err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"signed":         result.Signed,
		"completed":      result.Completed,
		"already_signed": result.AlreadySigned,
	})
}

func (s *HTTPServer) decline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
		return
	}

	if err := s.signing.Decline(r.Context(), chi.URLParam(r, "token"), req.Reason); err != nil {
		s.writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

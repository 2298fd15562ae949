// Package httpapi exposes the envelope and signing workflows over HTTP:
// an authenticated owner API under /api, and public token-addressed
// signing endpoints under /sign.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avolkov/signdesk/internal/logging"
	"github.com/avolkov/signdesk/internal/server/models"
	"github.com/avolkov/signdesk/internal/server/services"
)

// EnvelopeAPI is the slice of the envelope workflow the HTTP layer needs.
type EnvelopeAPI interface {
	Create(ctx context.Context, contractID, title, sourceFileVersionID string) (*models.Envelope, error)
	Get(ctx context.Context, envelopeID string) (*services.EnvelopeAggregate, error)
	Events(ctx context.Context, envelopeID string) ([]*models.EnvelopeEvent, error)
	AddRecipient(ctx context.Context, envelopeID, name, email string, signingOrder int) (*models.Recipient, error)
	AddField(ctx context.Context, envelopeID, recipientID string, fieldType models.FieldType, page int, x, y, w, h float64) (*models.SignatureField, error)
	Send(ctx context.Context, envelopeID string) error
	Cancel(ctx context.Context, envelopeID string) error
}

// SigningAPI is the recipient-facing workflow surface.
type SigningAPI interface {
	GetSigningContext(ctx context.Context, token string) (*services.SigningContext, error)
	GetSigningContextBySession(ctx context.Context, contractID, email string) (*services.SigningContext, error)
	MarkViewed(ctx context.Context, token string) error
	Submit(ctx context.Context, token string, sub *models.Submission) (*models.SubmitResult, error)
	Decline(ctx context.Context, token, reason string) error
}

type HTTPServer struct {
	address   string
	logger    logging.Logger
	envelopes EnvelopeAPI
	signing   SigningAPI
	files     services.FileStore
	jwtSecret []byte
}

func NewHTTPServer(address string, l logging.Logger, es EnvelopeAPI, ss SigningAPI, fs services.FileStore, secretKey string) *HTTPServer {
	return &HTTPServer{
		address:   address,
		logger:    l.With("module", "http_server"),
		envelopes: es,
		signing:   ss,
		files:     fs,
		jwtSecret: []byte(secretKey),
	}
}

func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api", func(api chi.Router) {
		api.Use(s.accessTokenMiddleware)

		api.Post("/envelopes", s.createEnvelope)
		api.Get("/envelopes/{envelope_id}", s.getEnvelope)
		api.Get("/envelopes/{envelope_id}/events", s.listEnvelopeEvents)
		api.Post("/envelopes/{envelope_id}/recipients", s.addRecipient)
		api.Post("/envelopes/{envelope_id}/fields", s.addField)
		api.Post("/envelopes/{envelope_id}/send", s.sendEnvelope)
		api.Post("/envelopes/{envelope_id}/cancel", s.cancelEnvelope)

		api.Get("/contracts/{contract_id}/signing-context", s.signingContextBySession)

		api.Post("/files/presign-upload", s.presignUpload)
		api.Post("/files/complete", s.completeUpload)
	})

	r.Route("/sign/{token}", func(pub chi.Router) {
		pub.Get("/", s.signingContext)
		pub.Post("/viewed", s.markViewed)
		pub.Post("/submit", s.submit)
		pub.Post("/decline", s.decline)
	})

	return r
}

// Run serves until the context is cancelled, then drains in-flight
// requests.
func (s *HTTPServer) Run(ctx context.Context) error {

	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

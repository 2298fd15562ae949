// Package server initializes and runs the application server.
// It opens the database, applies migrations, wires the envelope and
// signing services to their repositories and storage backends, and starts
// the HTTP server with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/avolkov/signdesk/internal/logging"
	"github.com/avolkov/signdesk/internal/server/config"
	"github.com/avolkov/signdesk/internal/server/httpapi"
	"github.com/avolkov/signdesk/internal/server/notify"
	"github.com/avolkov/signdesk/internal/server/render"
	"github.com/avolkov/signdesk/internal/server/repositories/repomanager"
	"github.com/avolkov/signdesk/internal/server/services"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	envelopeService *services.EnvelopeService
	signingService  *services.SigningService
	fileService     *services.FileService
	finalizer       *services.Finalizer
}

func NewApp(cfg *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret, logger)
	}

	fileService := services.NewFileService(db, rm, cfg)
	envelopeService := services.NewEnvelopeService(db, rm, notifier, logger)
	signingService := services.NewSigningService(db, rm, envelopeService, fileService, notifier, logger)
	finalizer := services.NewFinalizer(db, rm, fileService, render.ManifestFlattener{}, notifier, logger, cfg)

	return &App{
		config:          cfg,
		logger:          logger,
		db:              db,
		envelopeService: envelopeService,
		signingService:  signingService,
		fileService:     fileService,
		finalizer:       finalizer,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := httpapi.NewHTTPServer(app.config.EndpointAddrHTTP, app.logger,
		app.envelopeService, app.signingService, app.fileService, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	// Finalization runs off the request path; the winning submission only
	// schedules it.
	var wg sync.WaitGroup
	app.envelopeService.SetCompletionHook(func(envelopeID string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.finalizer.Run(context.WithoutCancel(ctx), envelopeID)
		}()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
}

package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sethvargo/go-retry"

	"github.com/avolkov/signdesk/internal/logging"
	"github.com/avolkov/signdesk/internal/server/config"
	"github.com/avolkov/signdesk/internal/server/models"
	"github.com/avolkov/signdesk/internal/server/notify"
	"github.com/avolkov/signdesk/internal/server/render"
	"github.com/avolkov/signdesk/internal/server/repositories/repomanager"
)

// Finalizer produces the flattened artifact for a completed envelope and
// attaches it as a new file version. It runs after the status transition,
// never before it, and never moves the envelope back out of COMPLETED:
// a failed run leaves the envelope completed without an artifact, and the
// run is retried.
type Finalizer struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       FileStore
	flattener   render.Flattener
	notifier    notify.Notifier
	logger      logging.Logger
	config      *config.Config
}

func NewFinalizer(db *sql.DB, rm repomanager.RepositoryManager, store FileStore, flattener render.Flattener, notifier notify.Notifier, logger logging.Logger, cfg *config.Config) *Finalizer {
	return &Finalizer{
		db:          db,
		repomanager: rm,
		store:       store,
		flattener:   flattener,
		notifier:    notifier,
		logger:      logger.With("module", "finalizer"),
		config:      cfg,
	}
}

// Run finalizes one envelope, retrying transient failures with
// exponential backoff. Safe to call more than once for the same
// envelope: a second run finds the artifact already attached and stops.
func (f *Finalizer) Run(ctx context.Context, envelopeID string) {

	backoff := retry.WithMaxRetries(f.config.FinalizerMaxRetries, retry.NewExponential(f.config.FinalizerRetryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := f.finalize(ctx, envelopeID); err != nil {
			f.logger.Warn(ctx, "finalize attempt failed", "envelope_id", envelopeID, "error", err.Error())
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		f.logger.Error(ctx, "finalizer gave up", "envelope_id", envelopeID, "error", err.Error())
	}
}

func (f *Finalizer) finalize(ctx context.Context, envelopeID string) error {

	envelope, err := f.repomanager.Envelopes(f.db).GetByID(ctx, envelopeID)
	if err != nil {
		return err
	}

	if envelope.Status != models.EnvelopeCompleted {
		f.logger.Warn(ctx, "finalizer invoked for non-completed envelope", "envelope_id", envelopeID, "status", string(envelope.Status))
		return nil
	}
	if envelope.CompletedFileVersionID != "" {
		return nil
	}
	if envelope.SourceFileVersionID == "" {
		return fmt.Errorf("envelope %s has no source file version", envelopeID)
	}

	source, err := f.repomanager.FileVersions(f.db).GetByID(ctx, envelope.SourceFileVersionID)
	if err != nil {
		return err
	}

	data, err := f.store.GetObject(ctx, envelope.SourceFileVersionID)
	if err != nil {
		return fmt.Errorf("downloading source: %w", err)
	}

	flds, err := f.repomanager.Fields(f.db).ListByEnvelope(ctx, envelopeID)
	if err != nil {
		return err
	}

	artifact, err := f.flattener.Flatten(data, render.FieldOverlays(flds))
	if err != nil {
		return fmt.Errorf("flattening: %w", err)
	}

	version, err := f.store.PublishVersion(ctx, source.FileID, artifact, source.ContentType)
	if err != nil {
		return fmt.Errorf("publishing artifact: %w", err)
	}

	if err := f.repomanager.Envelopes(f.db).SetCompletedFileVersion(ctx, envelopeID, version.ID); err != nil {
		return err
	}

	f.logger.Info(ctx, "envelope finalized", "envelope_id", envelopeID, "file_version_id", version.ID)

	f.notifier.Publish(ctx, notify.EventEnvelopeCompleted, map[string]any{
		"envelope_id":               envelopeID,
		"completed_file_version_id": version.ID,
	})

	return nil
}

// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/avolkov/signdesk/internal/dbx"
	"github.com/avolkov/signdesk/internal/server/migrations"
	"github.com/avolkov/signdesk/internal/server/repositories/envelopes"
	"github.com/avolkov/signdesk/internal/server/repositories/events"
	"github.com/avolkov/signdesk/internal/server/repositories/fileversions"
	"github.com/avolkov/signdesk/internal/server/repositories/recipients"
	"github.com/avolkov/signdesk/internal/server/repositories/sigfields"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository
// implementations and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) Envelopes(db dbx.DBTX) envelopes.Repository {
	return envelopes.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Recipients(db dbx.DBTX) recipients.Repository {
	return recipients.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Fields(db dbx.DBTX) sigfields.Repository {
	return sigfields.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) FileVersions(db dbx.DBTX) fileversions.Repository {
	return fileversions.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Events(db dbx.DBTX) events.Repository {
	return events.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

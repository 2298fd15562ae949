package repomanager

import (
	"context"
	"database/sql"

	"github.com/avolkov/signdesk/internal/dbx"
	"github.com/avolkov/signdesk/internal/server/repositories/envelopes"
	"github.com/avolkov/signdesk/internal/server/repositories/events"
	"github.com/avolkov/signdesk/internal/server/repositories/fileversions"
	"github.com/avolkov/signdesk/internal/server/repositories/recipients"
	"github.com/avolkov/signdesk/internal/server/repositories/sigfields"
)

// RepositoryManager vends repositories bound to a DBTX, so services can
// hand repositories either the pool or an open transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Envelopes(db dbx.DBTX) envelopes.Repository
	Recipients(db dbx.DBTX) recipients.Repository
	Fields(db dbx.DBTX) sigfields.Repository
	FileVersions(db dbx.DBTX) fileversions.Repository
	Events(db dbx.DBTX) events.Repository
}

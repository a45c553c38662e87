package repomanager

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/uohspeech/collector/internal/dbx"
	"github.com/uohspeech/collector/internal/migrations"
	"github.com/uohspeech/collector/internal/repositories/prompts"
	"github.com/uohspeech/collector/internal/repositories/recordings"

	_ "modernc.org/sqlite"
)

// SQLiteRepositoryManager vends SQLite-backed repositories.
type SQLiteRepositoryManager struct{}

func (m *SQLiteRepositoryManager) Driver() string { return DriverSQLite }

// ClaimTxOptions returns nil: the writer lock comes from the DSN's
// _txlock=immediate, which makes every BeginTx issue BEGIN IMMEDIATE.
func (m *SQLiteRepositoryManager) ClaimTxOptions() *sql.TxOptions {
	return nil
}

func (m *SQLiteRepositoryManager) Prompts(db dbx.DBTX) prompts.Repository {
	return prompts.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Recordings(db dbx.DBTX) recordings.Repository {
	return recordings.NewSQLiteRepository(db)
}

// RunMigrations applies the embedded SQLite migrations.
func (m *SQLiteRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db, goose.DialectSQLite3, migrations.SQLite, "sqlite")
}

// SQLiteDSN adds the parameters the lease store depends on: immediate
// transactions and a busy timeout so concurrent writers queue instead of
// failing with SQLITE_BUSY.
func SQLiteDSN(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Package repomanager vends dialect-specific repositories and runs the
// embedded goose migrations for a database.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/uohspeech/collector/internal/dbx"
	"github.com/uohspeech/collector/internal/repositories/prompts"
	"github.com/uohspeech/collector/internal/repositories/recordings"
)

// Supported database drivers.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

type RepositoryManager interface {
	// Driver is the database/sql driver name the manager expects.
	Driver() string
	RunMigrations(context.Context, *sql.DB) error
	// ClaimTxOptions are the options the lease store begins claim transactions with.
	ClaimTxOptions() *sql.TxOptions
	Prompts(db dbx.DBTX) prompts.Repository
	Recordings(db dbx.DBTX) recordings.Repository
}

// New returns the manager for driver ("pgx"/"postgres" or "sqlite").
func New(driver string) (RepositoryManager, error) {
	switch strings.ToLower(driver) {
	case DriverPostgres, "postgres", "postgresql":
		return &PostgresRepositoryManager{}, nil
	case DriverSQLite, "sqlite3":
		return &SQLiteRepositoryManager{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open connects to dsn with the manager for driver and applies migrations.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, RepositoryManager, error) {
	m, err := New(driver)
	if err != nil {
		return nil, nil, err
	}
	if m.Driver() == DriverSQLite {
		dsn = SQLiteDSN(dsn)
	}
	db, err := sqlOpen(m.Driver(), dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if m.Driver() == DriverSQLite {
		// one writer at a time; readers share the pool
		db.SetMaxOpenConns(4)
	}
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("db migrations error: %w", err)
	}
	return db, m, nil
}

var sqlOpen = sql.Open

// gooseUp is a seam for testing the migration run. Each call builds its own
// quiet provider; no goose package state is shared between databases.
var gooseUp = func(ctx context.Context, db *sql.DB, dialect goose.Dialect, fsys fs.FS) error {
	p, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	_, err = p.Up(ctx)
	return err
}

// migrate applies the migrations found in dir of the embedded files.
func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, embedded fs.FS, dir string) error {
	fsys, err := fs.Sub(embedded, dir)
	if err != nil {
		return err
	}
	return gooseUp(ctx, db, dialect, fsys)
}

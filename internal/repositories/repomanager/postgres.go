package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uohspeech/collector/internal/dbx"
	"github.com/uohspeech/collector/internal/migrations"
	"github.com/uohspeech/collector/internal/repositories/prompts"
	"github.com/uohspeech/collector/internal/repositories/recordings"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Driver() string { return DriverPostgres }

// ClaimTxOptions uses read committed: ClaimOne takes a row lock with
// FOR UPDATE SKIP LOCKED, so concurrent claimers skip each other's rows
// instead of failing with serialization errors.
func (m *PostgresRepositoryManager) ClaimTxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

// Prompts returns a prompts.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Prompts(db dbx.DBTX) prompts.Repository {
	return prompts.NewPostgresRepository(db)
}

// Recordings returns a recordings.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Recordings(db dbx.DBTX) recordings.Repository {
	return recordings.NewPostgresRepository(db)
}

// RunMigrations applies the embedded PostgreSQL migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db, goose.DialectPostgres, migrations.Postgres, "postgres")
}

package prompts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/dbx"
	"github.com/uohspeech/collector/internal/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ReclaimExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE prompts SET status = 'unused', leased_at = NULL
		WHERE status = 'in_progress' AND leased_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// ClaimOne skips rows locked by concurrent claimers, so two transactions never
// pick the same prompt.
func (r *PostgresRepository) ClaimOne(ctx context.Context, now time.Time) (*models.Prompt, error) {
	query := `UPDATE prompts SET status = 'in_progress', leased_at = $1
		WHERE id = (
			SELECT id FROM prompts WHERE status = 'unused'
			ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED
		)
		RETURNING id, language, text`

	p := &models.Prompt{Status: models.PromptInProgress}
	err := r.db.QueryRowContext(ctx, query, now).Scan(&p.ID, &p.Language, &p.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim prompt: %w", err)
	}
	leased := now
	p.LeasedAt = &leased
	return p, nil
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, id int64) error {
	query := `UPDATE prompts SET status = 'used', leased_at = NULL WHERE id = $1 AND status <> 'used'`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM prompts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check prompt: %w", err)
	}
	if !exists {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Insert(ctx context.Context, language, text string) (int64, error) {
	query := `INSERT INTO prompts (language, text, status) VALUES ($1, $2, 'unused')
		ON CONFLICT (text) DO NOTHING
		RETURNING id`
	var id int64
	err := r.db.QueryRowContext(ctx, query, language, text).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.ErrIntegrityConflict
	}
	if err != nil {
		return 0, fmt.Errorf("insert prompt: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) CountByStatus(ctx context.Context) (map[models.PromptStatus]int64, error) {
	return countByStatus(ctx, r.db)
}

func countByStatus(ctx context.Context, db dbx.DBTX) (map[models.PromptStatus]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM prompts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count prompts: %w", err)
	}
	defer rows.Close()

	result := map[models.PromptStatus]int64{
		models.PromptUnused:     0,
		models.PromptInProgress: 0,
		models.PromptUsed:       0,
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		result[models.PromptStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

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

// TimeLayout is how SQLite repositories store timestamps. Fixed-width UTC
// values compare correctly as text.
const TimeLayout = "2006-01-02 15:04:05.000000000-07:00"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// SQLiteRepository implements Repository for SQLite. Callers must open the
// database with an immediate transaction lock so that ClaimOne's read and
// write happen under one writer lock.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) ReclaimExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE prompts SET status = 'unused', leased_at = NULL
		WHERE status = 'in_progress' AND leased_at < ?`
	res, err := r.db.ExecContext(ctx, query, FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reclaim expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) ClaimOne(ctx context.Context, now time.Time) (*models.Prompt, error) {
	query := `UPDATE prompts SET status = 'in_progress', leased_at = ?
		WHERE id = (SELECT id FROM prompts WHERE status = 'unused' ORDER BY id LIMIT 1)
		RETURNING id, language, text`

	p := &models.Prompt{Status: models.PromptInProgress}
	err := r.db.QueryRowContext(ctx, query, FormatTime(now)).Scan(&p.ID, &p.Language, &p.Text)
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

func (r *SQLiteRepository) MarkUsed(ctx context.Context, id int64) error {
	query := `UPDATE prompts SET status = 'used', leased_at = NULL WHERE id = ? AND status <> 'used'`
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

	var cnt int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompts WHERE id = ?`, id).Scan(&cnt); err != nil {
		return fmt.Errorf("check prompt: %w", err)
	}
	if cnt == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, language, text string) (int64, error) {
	query := `INSERT INTO prompts (language, text, status) VALUES (?, ?, 'unused')
		ON CONFLICT(text) DO NOTHING
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

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[models.PromptStatus]int64, error) {
	return countByStatus(ctx, r.db)
}

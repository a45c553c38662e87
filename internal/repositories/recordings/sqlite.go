package recordings

import (
	"context"
	"fmt"

	"github.com/uohspeech/collector/internal/dbx"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/repositories/prompts"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, rec *models.Recording) error {
	query := `INSERT INTO recordings (uid, age, gender, location, state, prompt_text, audio_path, is_tribal, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO NOTHING`
	d := rec.Demographics
	res, err := r.db.ExecContext(ctx, query,
		rec.UID, d.Age, d.Gender, d.Location, d.Region, rec.PromptText, rec.AudioRef,
		rec.Variant == models.VariantTribal, prompts.FormatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return insertOutcome(res)
}

func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recordings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recordings: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*models.Recording, error) {
	query := `SELECT id, uid, age, gender, location, state, prompt_text, audio_path, is_tribal, created_at
		FROM recordings ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return list(ctx, r.db, query, args...)
}

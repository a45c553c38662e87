package recordings

import (
	"context"
	"fmt"

	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/dbx"
	"github.com/uohspeech/collector/internal/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.Recording) error {
	query := `INSERT INTO recordings (uid, age, gender, location, state, prompt_text, audio_path, is_tribal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (uid) DO NOTHING`
	d := rec.Demographics
	res, err := r.db.ExecContext(ctx, query,
		rec.UID, d.Age, d.Gender, d.Location, d.Region, rec.PromptText, rec.AudioRef,
		rec.Variant == models.VariantTribal, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return insertOutcome(res)
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recordings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recordings: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) List(ctx context.Context, limit int) ([]*models.Recording, error) {
	query := `SELECT id, uid, age, gender, location, state, prompt_text, audio_path, is_tribal, created_at
		FROM recordings ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return list(ctx, r.db, query, args...)
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func insertOutcome(res rowsAffected) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrIntegrityConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func list(ctx context.Context, db dbx.DBTX, query string, args ...any) ([]*models.Recording, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select recordings: %w", err)
	}
	defer rows.Close()

	var result []*models.Recording
	for rows.Next() {
		var item models.Recording
		var tribal bool
		if err := rows.Scan(
			&item.ID, &item.UID, &item.Demographics.Age, &item.Demographics.Gender,
			&item.Demographics.Location, &item.Demographics.Region,
			&item.PromptText, &item.AudioRef, &tribal, &item.CreatedAt,
		); err != nil {
			return nil, err
		}
		if tribal {
			item.Variant = models.VariantTribal
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

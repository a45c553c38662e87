// Package recordings persists committed recordings, the system of record for
// reporting.
package recordings

import (
	"context"

	"github.com/uohspeech/collector/internal/models"
)

// Repository stores Recording rows.
type Repository interface {
	// Insert appends a recording. A duplicate uid yields common.ErrIntegrityConflict.
	Insert(ctx context.Context, rec *models.Recording) error

	// Count returns the number of stored recordings.
	Count(ctx context.Context) (int64, error)

	// List returns up to limit recordings, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*models.Recording, error)
}

// Package prompts provides the prompt-pool repositories used by the lease
// store. Each backend implements Repository over a dbx.DBTX so the lease store
// can run several calls inside one transaction.
package prompts

import (
	"context"
	"time"

	"github.com/uohspeech/collector/internal/models"
)

// Repository describes the prompt-table operations.
type Repository interface {
	// ReclaimExpired returns in_progress prompts leased before cutoff to unused
	// and reports how many rows changed.
	ReclaimExpired(ctx context.Context, cutoff time.Time) (int64, error)

	// ClaimOne marks one unused prompt in_progress with lease time now and
	// returns it. common.ErrNotFound means no unused prompt exists.
	ClaimOne(ctx context.Context, now time.Time) (*models.Prompt, error)

	// MarkUsed retires a prompt. Already used prompts are left untouched.
	// common.ErrNotFound is returned for an unknown id.
	MarkUsed(ctx context.Context, id int64) error

	// Insert adds an unused prompt. Duplicate text yields common.ErrIntegrityConflict.
	Insert(ctx context.Context, language, text string) (int64, error)

	// CountByStatus returns the number of prompts per lifecycle status.
	CountByStatus(ctx context.Context) (map[models.PromptStatus]int64, error)
}

// Package lease hands out prompts from relational prompt pools with
// time-bounded exclusivity. A claim is a single transaction that reclaims
// expired leases, picks one unused prompt and marks it in progress.
package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/dbx"
	"github.com/uohspeech/collector/internal/logging"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/repositories/repomanager"
)

// DefaultExpiry is how long an in-progress lease is honoured before the
// prompt returns to the unused pool.
const DefaultExpiry = 30 * time.Minute

// Pool is one prompt database together with the manager for its dialect.
type Pool struct {
	DB      *sql.DB
	Manager repomanager.RepositoryManager
}

type Store struct {
	pools  map[models.Variant]Pool
	expiry time.Duration
	now    func() time.Time
	log    logging.Logger
}

// NewStore builds a store over the given pools. A non-positive expiry falls
// back to DefaultExpiry.
func NewStore(pools map[models.Variant]Pool, expiry time.Duration, log logging.Logger) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Store{
		pools:  pools,
		expiry: expiry,
		now:    time.Now,
		log:    log.With("component", "lease"),
	}
}

// WithClock replaces the time source and returns the store.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Expiry reports the lease window.
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// Holds reports whether the lease on p is still inside the expiry window.
// While it is, no reclaim can release the prompt to another claimant.
func (s *Store) Holds(p *models.Prompt) bool {
	if p == nil || p.LeasedAt == nil {
		return false
	}
	return s.now().Before(p.LeasedAt.Add(s.expiry))
}

func (s *Store) pool(v models.Variant) (Pool, error) {
	p, ok := s.pools[v]
	if !ok || p.DB == nil || p.Manager == nil {
		return Pool{}, fmt.Errorf("no lease pool for variant %q", v)
	}
	return p, nil
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, common.ErrTransientStore, err)
}

// ClaimNext leases one unused prompt from the variant's pool. It returns
// nil, nil when the pool has nothing claimable. Store failures roll back and
// come back wrapped in common.ErrTransientStore.
func (s *Store) ClaimNext(ctx context.Context, v models.Variant) (*models.Prompt, error) {
	p, err := s.pool(v)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	cutoff := now.Add(-s.expiry)

	var claimed *models.Prompt
	var reclaimed int64
	err = dbx.WithTx(ctx, p.DB, p.Manager.ClaimTxOptions(), func(ctx context.Context, tx dbx.DBTX) error {
		repo := p.Manager.Prompts(tx)

		n, err := repo.ReclaimExpired(ctx, cutoff)
		if err != nil {
			return err
		}
		reclaimed = n

		prompt, err := repo.ClaimOne(ctx, now)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		claimed = prompt
		return nil
	})
	if err != nil {
		s.log.Error(ctx, "claim failed", "variant", v.String(), "error", err)
		return nil, transient("claim prompt", err)
	}

	if reclaimed > 0 {
		s.log.Info(ctx, "reclaimed expired leases", "variant", v.String(), "count", reclaimed)
	}
	if claimed == nil {
		return nil, nil
	}
	claimed.Variant = v
	return claimed, nil
}

// MarkUsed retires a leased prompt. Repeating the call is a no-op.
func (s *Store) MarkUsed(ctx context.Context, v models.Variant, id int64) error {
	p, err := s.pool(v)
	if err != nil {
		return err
	}
	err = p.Manager.Prompts(p.DB).MarkUsed(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("prompt %d: %w", id, err)
	}
	if err != nil {
		return transient("mark used", err)
	}
	return nil
}

// ReclaimExpired returns every lease older than the expiry window to the
// unused pool and reports how many prompts were released.
func (s *Store) ReclaimExpired(ctx context.Context, v models.Variant) (int64, error) {
	p, err := s.pool(v)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().UTC().Add(-s.expiry)
	n, err := p.Manager.Prompts(p.DB).ReclaimExpired(ctx, cutoff)
	if err != nil {
		return 0, transient("reclaim expired", err)
	}
	if n > 0 {
		s.log.Info(ctx, "reclaimed expired leases", "variant", v.String(), "count", n)
	}
	return n, nil
}

// Add inserts an unused prompt. Text that is already in the pool is reported
// with inserted=false and no error.
func (s *Store) Add(ctx context.Context, v models.Variant, language, text string) (int64, bool, error) {
	p, err := s.pool(v)
	if err != nil {
		return 0, false, err
	}
	id, err := p.Manager.Prompts(p.DB).Insert(ctx, language, text)
	if errors.Is(err, common.ErrIntegrityConflict) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, transient("add prompt", err)
	}
	return id, true, nil
}

// Stats counts the pool's prompts per status.
func (s *Store) Stats(ctx context.Context, v models.Variant) (map[models.PromptStatus]int64, error) {
	p, err := s.pool(v)
	if err != nil {
		return nil, err
	}
	counts, err := p.Manager.Prompts(p.DB).CountByStatus(ctx)
	if err != nil {
		return nil, transient("pool stats", err)
	}
	return counts, nil
}

// Variants lists the variants that have a configured pool.
func (s *Store) Variants() []models.Variant {
	out := make([]models.Variant, 0, len(s.pools))
	for _, v := range models.Variants {
		if _, ok := s.pools[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

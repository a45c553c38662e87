// Package ledger keeps the relational record of committed recordings.
//
// One store is the system of record. Replicas receive a best-effort copy of
// each row so per-variant dashboards keep working; their failures are logged
// and never fail an append.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/logging"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/repositories/recordings"
)

// Target names a recordings repository.
type Target struct {
	Name string
	Repo recordings.Repository
}

type store struct {
	Target
	mu sync.Mutex
}

// insert serializes writes per store.
func (s *store) insert(ctx context.Context, rec *models.Recording) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.Repo.Insert(ctx, rec)
	if errors.Is(err, common.ErrIntegrityConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type Ledger struct {
	primary  *store
	replicas []*store
	log      logging.Logger
}

func New(primary Target, replicas []Target, log logging.Logger) *Ledger {
	if log == nil {
		log = logging.NewNop()
	}
	l := &Ledger{
		primary: &store{Target: primary},
		log:     log.With("component", "ledger"),
	}
	for _, r := range replicas {
		l.replicas = append(l.replicas, &store{Target: r})
	}
	return l
}

// Append records rec. A uid that is already recorded yields inserted=false
// and no error.
func (l *Ledger) Append(ctx context.Context, rec *models.Recording) (bool, error) {
	inserted, err := l.primary.insert(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("append recording %s: %w: %w", rec.UID, common.ErrTransientStore, err)
	}
	if !inserted {
		l.log.Info(ctx, "recording already recorded", "uid", rec.UID, "store", l.primary.Name)
	}

	for _, r := range l.replicas {
		if _, err := r.insert(ctx, rec); err != nil {
			l.log.Warn(ctx, "replica append failed", "uid", rec.UID, "store", r.Name, "error", err)
		}
	}
	return inserted, nil
}

// Count returns the number of recordings in the system of record.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	n, err := l.primary.Repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count recordings: %w: %w", common.ErrTransientStore, err)
	}
	return n, nil
}

// List returns the newest recordings from the system of record.
func (l *Ledger) List(ctx context.Context, limit int) ([]*models.Recording, error) {
	recs, err := l.primary.Repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w: %w", common.ErrTransientStore, err)
	}
	return recs, nil
}

// Package sessions persists contributor sessions between requests.
//
// Sessions are read, changed and written back whole; concurrent requests for
// the same session are last-write-wins.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/models"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 24 * time.Hour

type Store interface {
	// Get returns common.ErrNotFound for an unknown or expired id.
	Get(ctx context.Context, id string) (*models.Session, error)
	// Save writes sess and refreshes its TTL.
	Save(ctx context.Context, sess *models.Session) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	sess    models.Session
	expires time.Time
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, data: make(map[string]memoryEntry)}
}

// WithClock replaces the time source and returns the store.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	if !m.now().Before(e.expires) {
		delete(m.data, id)
		return nil, common.ErrNotFound
	}
	return clone(&e.sess), nil
}

func (m *MemoryStore) Save(ctx context.Context, sess *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sess.ID] = memoryEntry{sess: *clone(sess), expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.data, id)
	m.mu.Unlock()
	return nil
}

// clone copies the parts of a session that callers may mutate.
func clone(s *models.Session) *models.Session {
	out := *s
	if s.Demographics != nil {
		d := *s.Demographics
		out.Demographics = &d
	}
	if s.Queue != nil {
		out.Queue = append([]models.PendingUpload(nil), s.Queue...)
	}
	if s.Current != nil {
		p := *s.Current
		out.Current = &p
	}
	return &out
}

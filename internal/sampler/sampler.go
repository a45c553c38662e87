// Package sampler picks unused prompts straight from the object store.
//
// Prompts live under prompts/{variant}/ and are retired by moving them into
// prompts/{variant}/used/. The used check and the later retire are not
// atomic: two sessions can occasionally be handed the same prompt. No lock
// is taken for it.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path"
	"slices"
	"strings"

	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/logging"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/objectstore"
)

// DefaultAttempts bounds the random picks per SampleUnused call.
const DefaultAttempts = 20

const (
	usedDir       = "used/"
	inProgressDir = "inprogress/"
	mirrorSuffix  = "_prompt.txt"
)

// PromptPrefix is the object namespace holding a variant's prompts.
func PromptPrefix(v models.Variant) string {
	return "prompts/" + v.String() + "/"
}

// UsedPrefix is where retired prompts of a variant are moved.
func UsedPrefix(v models.Variant) string {
	return PromptPrefix(v) + usedDir
}

// MirrorKey is where the prompt text read for recording uid is snapshotted.
func MirrorKey(v models.Variant, uid string) string {
	return PromptPrefix(v) + uid + mirrorSuffix
}

type Sampler struct {
	store    objectstore.Store
	attempts int
	intn     func(n int) int
	log      logging.Logger
}

func New(store objectstore.Store, attempts int, log logging.Logger) *Sampler {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Sampler{
		store:    store,
		attempts: attempts,
		intn:     rand.IntN,
		log:      log.With("component", "sampler"),
	}
}

// WithRand replaces the random index source and returns the sampler.
func (s *Sampler) WithRand(intn func(n int) int) *Sampler {
	s.intn = intn
	return s
}

// IsPromptKey reports whether key is a sampleable prompt of variant v: a .txt
// object under PromptPrefix(v) that is not a directory marker, a retired or
// in-progress copy or a per-recording mirror.
func IsPromptKey(v models.Variant, key string) bool {
	rest, ok := strings.CutPrefix(key, PromptPrefix(v))
	if !ok || rest == "" || strings.HasSuffix(rest, "/") {
		return false
	}
	if strings.HasPrefix(rest, usedDir) || strings.HasPrefix(rest, inProgressDir) {
		return false
	}
	if slices.Contains(strings.Split(rest, "/"), "..") {
		return false
	}
	if strings.HasSuffix(rest, mirrorSuffix) {
		return false
	}
	return strings.HasSuffix(strings.ToLower(rest), ".txt")
}

// SampleUnused returns a random prompt of variant v that has no copy in the
// used namespace. ok is false when no such prompt was found within the
// attempt budget.
func (s *Sampler) SampleUnused(ctx context.Context, v models.Variant) (key, content string, ok bool, err error) {
	keys, err := s.store.List(ctx, PromptPrefix(v))
	if err != nil {
		return "", "", false, fmt.Errorf("list prompts: %w", err)
	}

	var candidates []string
	for _, k := range keys {
		if IsPromptKey(v, k) {
			candidates = append(candidates, k)
		}
	}

	usedPrefix := UsedPrefix(v)
	for attempt := 0; attempt < s.attempts && len(candidates) > 0; attempt++ {
		i := s.intn(len(candidates))
		pick := candidates[i]
		candidates[i] = candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		used, err := s.store.Exists(ctx, usedPrefix+path.Base(pick))
		if err != nil {
			return "", "", false, fmt.Errorf("check used: %w", err)
		}
		if used {
			s.log.Debug(ctx, "prompt already used", "key", pick)
			continue
		}

		data, err := s.store.Get(ctx, pick)
		if errors.Is(err, common.ErrNotFound) {
			// retired between list and read
			continue
		}
		if err != nil {
			return "", "", false, fmt.Errorf("read prompt: %w", err)
		}
		return pick, strings.TrimSpace(string(data)), true, nil
	}

	s.log.Warn(ctx, "no unused prompt found", "variant", v.String(), "attempts", s.attempts)
	return "", "", false, nil
}

// Retire moves key into usedPrefix by copy then delete. Retiring a key that
// is already gone but present under usedPrefix is a no-op.
func (s *Sampler) Retire(ctx context.Context, key, usedPrefix string) error {
	dst := usedPrefix + path.Base(key)

	err := s.store.Copy(ctx, key, dst)
	if errors.Is(err, common.ErrNotFound) {
		done, exErr := s.store.Exists(ctx, dst)
		if exErr != nil {
			return fmt.Errorf("check retired: %w", exErr)
		}
		if done {
			return nil
		}
		return fmt.Errorf("retire %s: %w", key, err)
	}
	if err != nil {
		return fmt.Errorf("retire %s: %w", key, err)
	}

	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("retire %s: %w", key, err)
	}
	s.log.Info(ctx, "prompt retired", "key", key, "dest", dst)
	return nil
}

// RetireFor retires key into the used namespace of its variant.
func (s *Sampler) RetireFor(ctx context.Context, v models.Variant, key string) error {
	return s.Retire(ctx, key, UsedPrefix(v))
}

// Mirror stores the prompt text recorded as uid next to the prompt pool.
func (s *Sampler) Mirror(ctx context.Context, uid string, v models.Variant, text string) error {
	if err := objectstore.PutText(ctx, s.store, MirrorKey(v, uid), text); err != nil {
		return fmt.Errorf("mirror prompt: %w", err)
	}
	return nil
}

// Read returns the text stored at key.
func (s *Sampler) Read(ctx context.Context, key string) (string, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// PoolCounts are the object counts behind a variant's prompt namespace.
type PoolCounts struct {
	Total  int `json:"total"`
	Used   int `json:"used"`
	Unused int `json:"unused"`
}

// Counts reports how many prompts of v exist and how many were retired.
func (s *Sampler) Counts(ctx context.Context, v models.Variant) (PoolCounts, error) {
	keys, err := s.store.List(ctx, PromptPrefix(v))
	if err != nil {
		return PoolCounts{}, fmt.Errorf("list prompts: %w", err)
	}
	var c PoolCounts
	for _, k := range keys {
		if IsPromptKey(v, k) {
			c.Unused++
		}
	}
	used, err := objectstore.Count(ctx, s.store, UsedPrefix(v))
	if err != nil {
		return PoolCounts{}, fmt.Errorf("count used: %w", err)
	}
	c.Used = used
	c.Total = c.Unused + c.Used
	return c, nil
}

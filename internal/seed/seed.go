// Package seed loads prompt text into the lease pools and the object-store
// prompt namespace.
package seed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/logging"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/objectstore"
	"github.com/uohspeech/collector/internal/sampler"
)

// Target selects where prompts are loaded.
type Target string

const (
	TargetLease       Target = "lease"
	TargetObjectStore Target = "objectstore"
	TargetBoth        Target = "both"
)

func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetLease, TargetObjectStore, TargetBoth:
		return t, nil
	case "":
		return TargetObjectStore, nil
	default:
		return "", fmt.Errorf("%w: unknown seed target %q", common.ErrValidation, s)
	}
}

func (t Target) leases() bool  { return t == TargetLease || t == TargetBoth }
func (t Target) objects() bool { return t == TargetObjectStore || t == TargetBoth }

// PromptAdder inserts a prompt into a lease pool.
type PromptAdder interface {
	Add(ctx context.Context, v models.Variant, language, text string) (int64, bool, error)
}

// Result counts what a Load did.
type Result struct {
	Lines      int
	Leased     int
	Duplicates int
	Objects    int
}

type Seeder struct {
	leases  PromptAdder
	objects objectstore.Store
	log     logging.Logger
}

// New builds a seeder. Either destination may be nil when the target does
// not use it.
func New(leases PromptAdder, objects objectstore.Store, log logging.Logger) *Seeder {
	if log == nil {
		log = logging.NewNop()
	}
	return &Seeder{leases: leases, objects: objects, log: log.With("component", "seed")}
}

// Load reads one prompt per line from r. Blank lines and lines starting with
// '#' are skipped. Text already present in the lease pool is counted as a
// duplicate and not uploaded again.
func (s *Seeder) Load(ctx context.Context, r io.Reader, v models.Variant, language string, target Target) (Result, error) {
	var res Result
	if target.leases() && s.leases == nil {
		return res, fmt.Errorf("%w: no lease pool configured", common.ErrValidation)
	}
	if target.objects() && s.objects == nil {
		return res, fmt.Errorf("%w: no object store configured", common.ErrValidation)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		res.Lines++

		name := common.NewUID()
		if target.leases() {
			id, inserted, err := s.leases.Add(ctx, v, language, text)
			if err != nil {
				return res, err
			}
			if !inserted {
				res.Duplicates++
				continue
			}
			res.Leased++
			name = common.UIDPrefix + strconv.FormatInt(id, 10)
		}

		if target.objects() {
			key := sampler.PromptPrefix(v) + name + ".txt"
			if err := objectstore.PutText(ctx, s.objects, key, text); err != nil {
				return res, fmt.Errorf("upload %s: %w", key, err)
			}
			res.Objects++
		}
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("read prompts: %w", err)
	}

	s.log.Info(ctx, "prompts loaded", "variant", v.String(), "target", string(target),
		"lines", res.Lines, "leased", res.Leased, "duplicates", res.Duplicates, "objects", res.Objects)
	return res, nil
}

// Package batcher spools recordings to local disk during a session and
// commits them to the object store and ledger when the session finalizes.
package batcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/filex"
	"github.com/uohspeech/collector/internal/logging"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/objectstore"
	"github.com/uohspeech/collector/internal/sampler"
)

// RetainPolicy decides what happens to queue items whose commit failed.
type RetainPolicy string

const (
	// RetainFailed keeps failed items for the next finalize.
	RetainFailed RetainPolicy = "retain"
	// DropFailed clears the queue after every finalize.
	DropFailed RetainPolicy = "drop"
)

// ParseRetainPolicy accepts "retain" or "drop"; empty means retain.
func ParseRetainPolicy(s string) (RetainPolicy, error) {
	switch RetainPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case RetainFailed, "":
		return RetainFailed, nil
	case DropFailed:
		return DropFailed, nil
	default:
		return "", fmt.Errorf("%w: unknown retain policy %q", common.ErrValidation, s)
	}
}

const (
	DefaultWorkers     = 4
	DefaultMaxAttempts = 3
)

type Config struct {
	// Root is the local spool directory.
	Root        string
	Workers     int
	Policy      RetainPolicy
	MaxAttempts int
}

// PromptRetirer handles object-store prompts during commit.
type PromptRetirer interface {
	Read(ctx context.Context, key string) (string, error)
	Mirror(ctx context.Context, uid string, v models.Variant, text string) error
	RetireFor(ctx context.Context, v models.Variant, key string) error
}

// LeaseMarker retires lease-pool prompts.
type LeaseMarker interface {
	MarkUsed(ctx context.Context, v models.Variant, id int64) error
}

// RecordAppender stores the durable recording row.
type RecordAppender interface {
	Append(ctx context.Context, rec *models.Recording) (bool, error)
}

type Batcher struct {
	cfg     Config
	store   objectstore.Store
	prompts PromptRetirer
	leases  LeaseMarker
	ledger  RecordAppender
	now     func() time.Time
	log     logging.Logger
}

// New builds a batcher. leases may be nil when no lease pools are configured.
func New(cfg Config, store objectstore.Store, prompts PromptRetirer, leases LeaseMarker, ledger RecordAppender, log logging.Logger) *Batcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Policy == "" {
		cfg.Policy = RetainFailed
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Batcher{
		cfg:     cfg,
		store:   store,
		prompts: prompts,
		leases:  leases,
		ledger:  ledger,
		now:     time.Now,
		log:     log.With("component", "batcher"),
	}
}

// WithClock replaces the time source and returns the batcher.
func (b *Batcher) WithClock(now func() time.Time) *Batcher {
	b.now = now
	return b
}

// CaptureInput is one submitted recording.
type CaptureInput struct {
	Audio        []byte
	Transcript   string
	PromptRef    string
	PromptText   string
	Variant      models.Variant
	Demographics *models.Demographics
}

func (in CaptureInput) validate() error {
	if len(in.Audio) == 0 {
		return fmt.Errorf("%w: audio is empty", common.ErrValidation)
	}
	if strings.TrimSpace(in.Transcript) == "" {
		return fmt.Errorf("%w: transcript is empty", common.ErrValidation)
	}
	if in.Demographics == nil {
		return fmt.Errorf("%w: contributor details are missing", common.ErrValidation)
	}
	if in.PromptRef != "" && !validPromptRef(in.Variant, in.PromptRef) {
		return fmt.Errorf("%w: prompt reference %q is outside the %s prompt pool", common.ErrValidation, in.PromptRef, in.Variant)
	}
	return in.Demographics.Validate()
}

// validPromptRef accepts lease references and sampleable prompt keys of v.
func validPromptRef(v models.Variant, ref string) bool {
	if _, ok := models.ParseLeaseRef(ref); ok {
		return true
	}
	return sampler.IsPromptKey(v, ref)
}

// AudioPath is the local spool path of a captured recording.
func (b *Batcher) AudioPath(v models.Variant, uid string) string {
	return filepath.Join(b.cfg.Root, v.String(), "audio", uid+".wav")
}

// TranscriptPath is the local spool path of a captured transcript.
func (b *Batcher) TranscriptPath(v models.Variant, uid string) string {
	return filepath.Join(b.cfg.Root, v.String(), "transcription", uid+".txt")
}

// Capture validates in, writes both files to the spool and returns the queue
// item. Nothing is sent to the object store.
func (b *Batcher) Capture(ctx context.Context, in CaptureInput) (*models.PendingUpload, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	uid := common.NewUID()
	item := &models.PendingUpload{
		UID:            uid,
		AudioPath:      b.AudioPath(in.Variant, uid),
		TranscriptPath: b.TranscriptPath(in.Variant, uid),
		PromptRef:      in.PromptRef,
		PromptText:     in.PromptText,
		Variant:        in.Variant,
		Demographics:   *in.Demographics,
		CapturedAt:     b.now().UTC(),
	}

	if err := filex.WriteFileAtomic(item.AudioPath, in.Audio, 0o640); err != nil {
		return nil, fmt.Errorf("save audio: %w", err)
	}
	if err := filex.WriteFileAtomic(item.TranscriptPath, []byte(in.Transcript), 0o640); err != nil {
		_ = filex.RemoveIfExists(item.AudioPath)
		return nil, fmt.Errorf("save transcript: %w", err)
	}

	b.log.Info(ctx, "recording captured", "uid", uid, "variant", in.Variant.String())
	return item, nil
}

// Package allocator drives a contributor session: it routes the contributor
// to a dataset variant, hands out prompts until the completion cap is
// reached, and hands captured recordings to the batcher.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/uohspeech/collector/internal/batcher"
	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/logging"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/sampler"
)

// DefaultCompletionCap is the number of recordings a session contributes.
const DefaultCompletionCap = 5

// TribalRegions are the region codes routed to the tribal variant.
var TribalRegions = []string{"TS-Tribal", "AP-Tribal"}

// Source selects where prompts come from.
type Source string

const (
	SourceObjectStore Source = "objectstore"
	SourceLease       Source = "lease"
)

// ParseSource accepts "objectstore" or "lease"; empty means objectstore.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceObjectStore, "":
		return SourceObjectStore, nil
	case SourceLease:
		return SourceLease, nil
	default:
		return "", fmt.Errorf("%w: unknown prompt source %q", common.ErrValidation, s)
	}
}

// Reason explains why NextPrompt returned no prompt.
type Reason string

const (
	ReasonCompleted   Reason = "completed"
	ReasonNoPrompts   Reason = "no_prompts"
	ReasonUnavailable Reason = "unavailable"
)

// Next is the outcome of NextPrompt. Exactly one of Prompt or Reason is set.
type Next struct {
	Done   bool
	Reason Reason
	Prompt *models.Prompt
}

type ObjectSampler interface {
	SampleUnused(ctx context.Context, v models.Variant) (key, content string, ok bool, err error)
	Counts(ctx context.Context, v models.Variant) (sampler.PoolCounts, error)
}

type LeaseStore interface {
	ClaimNext(ctx context.Context, v models.Variant) (*models.Prompt, error)
	ReclaimExpired(ctx context.Context, v models.Variant) (int64, error)
	Stats(ctx context.Context, v models.Variant) (map[models.PromptStatus]int64, error)
	Holds(p *models.Prompt) bool
	Variants() []models.Variant
}

type Alerter interface {
	Alert(ctx context.Context, subject, body string) (bool, error)
}

type Recorder interface {
	Capture(ctx context.Context, in batcher.CaptureInput) (*models.PendingUpload, error)
	Finalize(ctx context.Context, queue []models.PendingUpload) batcher.Report
}

type Config struct {
	CompletionCap int
	Source        Source
}

type Allocator struct {
	cfg      Config
	sampler  ObjectSampler
	leases   LeaseStore
	alerter  Alerter
	recorder Recorder
	log      logging.Logger
}

// New builds an allocator. leases may be nil when only the object store is
// used.
func New(cfg Config, s ObjectSampler, leases LeaseStore, alerter Alerter, recorder Recorder, log logging.Logger) *Allocator {
	if cfg.CompletionCap <= 0 {
		cfg.CompletionCap = DefaultCompletionCap
	}
	if cfg.Source == "" {
		cfg.Source = SourceObjectStore
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Allocator{
		cfg:      cfg,
		sampler:  s,
		leases:   leases,
		alerter:  alerter,
		recorder: recorder,
		log:      log.With("component", "allocator"),
	}
}

// CompletionCap reports how many recordings complete a session.
func (a *Allocator) CompletionCap() int {
	return a.cfg.CompletionCap
}

// Route maps a contributor's region to a dataset variant.
func Route(d models.Demographics) models.Variant {
	region := strings.TrimSpace(d.Region)
	for _, r := range TribalRegions {
		if region == r {
			return models.VariantTribal
		}
	}
	return models.VariantStandard
}

func requireDemographics(sess *models.Session) error {
	if sess.Demographics == nil {
		return fmt.Errorf("%w: contributor details not submitted", common.ErrValidation)
	}
	return nil
}

// Start validates d, clears any previous state and stores d on the session.
func (a *Allocator) Start(sess *models.Session, d models.Demographics) error {
	if err := d.Validate(); err != nil {
		return err
	}
	sess.Clear()
	sess.Demographics = &d
	return nil
}

// NextPrompt returns the next prompt for sess, or why there is none.
func (a *Allocator) NextPrompt(ctx context.Context, sess *models.Session) (Next, error) {
	if err := requireDemographics(sess); err != nil {
		return Next{}, err
	}
	if sess.Completed >= a.cfg.CompletionCap {
		return Next{Done: true, Reason: ReasonCompleted}, nil
	}

	v := Route(*sess.Demographics)
	if cur := sess.Current; cur != nil && cur.Variant == v {
		if a.held(cur) {
			return Next{Prompt: cur}, nil
		}
		a.log.Info(ctx, "lease on unanswered prompt expired", "variant", v.String(), "ref", cur.Ref())
		sess.Current = nil
	}
	var (
		prompt *models.Prompt
		err    error
	)
	switch a.cfg.Source {
	case SourceLease:
		prompt, err = a.fromLease(ctx, v)
	default:
		prompt, err = a.fromObjectStore(ctx, v)
	}

	if errors.Is(err, common.ErrTransientStore) {
		a.log.Warn(ctx, "prompt source unavailable", "variant", v.String(), "error", err)
		return Next{Reason: ReasonUnavailable}, nil
	}
	if err != nil {
		return Next{}, err
	}
	if prompt == nil {
		a.poolExhausted(ctx, v)
		return Next{Done: true, Reason: ReasonNoPrompts}, nil
	}
	prompt.Variant = v
	sess.Current = prompt
	return Next{Prompt: prompt}, nil
}

// held reports whether the session may still answer p. Object-store prompts
// carry no lease; leased prompts are held until their window runs out.
func (a *Allocator) held(p *models.Prompt) bool {
	if p.Key != "" {
		return true
	}
	return a.leases != nil && a.leases.Holds(p)
}

func (a *Allocator) fromObjectStore(ctx context.Context, v models.Variant) (*models.Prompt, error) {
	key, content, ok, err := a.sampler.SampleUnused(ctx, v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &models.Prompt{Key: key, Variant: v, Text: content, Status: models.PromptInProgress}, nil
}

func (a *Allocator) fromLease(ctx context.Context, v models.Variant) (*models.Prompt, error) {
	if a.leases == nil {
		return nil, errors.New("lease source selected without lease pools")
	}
	return a.leases.ClaimNext(ctx, v)
}

// AlertSubject is the operator alert subject for an empty pool.
func AlertSubject(v models.Variant) string {
	return "Urgent: No " + v.Title() + " Prompts Available"
}

func (a *Allocator) poolExhausted(ctx context.Context, v models.Variant) {
	a.log.Warn(ctx, "prompt pool exhausted", "variant", v.String(), "error", common.ErrPoolExhausted)
	if a.alerter == nil {
		return
	}
	body := fmt.Sprintf("The %s prompt pool has no unused prompts left. Contributors routed to it are being turned away; please add prompts under %s.",
		v.String(), sampler.PromptPrefix(v))
	if _, err := a.alerter.Alert(ctx, AlertSubject(v), body); err != nil {
		a.log.Error(ctx, "pool alert failed", "variant", v.String(), "error", err)
	}
}

// RecordCompletion counts one more contributed recording.
func (a *Allocator) RecordCompletion(sess *models.Session) {
	sess.Completed++
}

// Reset clears sess and releases expired leases on every pool. Reclaim
// failures are logged only.
func (a *Allocator) Reset(ctx context.Context, sess *models.Session) {
	sess.Clear()
	if a.leases == nil {
		return
	}
	for _, v := range a.leases.Variants() {
		if _, err := a.leases.ReclaimExpired(ctx, v); err != nil {
			a.log.Warn(ctx, "reclaim on reset failed", "variant", v.String(), "error", err)
		}
	}
}

// Submission is one recording submitted by the contributor.
type Submission struct {
	Audio      []byte
	Transcript string
	PromptRef  string
	PromptText string
}

// Submit captures a recording locally, queues it on sess and counts it.
// The recording answers the prompt last handed out by NextPrompt; a prompt
// reference naming any other prompt is rejected. A leased prompt whose window
// ran out is not retired, since another session may hold it by now.
func (a *Allocator) Submit(ctx context.Context, sess *models.Session, in Submission) (*models.PendingUpload, error) {
	if err := requireDemographics(sess); err != nil {
		return nil, err
	}
	if sess.Completed >= a.cfg.CompletionCap {
		return nil, fmt.Errorf("%w: session already has %d recordings", common.ErrValidation, sess.Completed)
	}

	ref, text := "", in.PromptText
	cur := sess.Current
	if cur != nil {
		ref = cur.Ref()
		if cur.Text != "" {
			text = cur.Text
		}
	}
	if in.PromptRef != "" && in.PromptRef != ref {
		return nil, fmt.Errorf("%w: prompt %q was not handed out to this session", common.ErrValidation, in.PromptRef)
	}
	if cur != nil && !a.held(cur) {
		a.log.Warn(ctx, "prompt lease expired before submit, prompt not retired", "ref", ref)
		ref = ""
	}

	item, err := a.recorder.Capture(ctx, batcher.CaptureInput{
		Audio:        in.Audio,
		Transcript:   in.Transcript,
		PromptRef:    ref,
		PromptText:   text,
		Variant:      Route(*sess.Demographics),
		Demographics: sess.Demographics,
	})
	if err != nil {
		return nil, err
	}
	sess.Queue = append(sess.Queue, *item)
	sess.Current = nil
	a.RecordCompletion(sess)
	return item, nil
}

// Finalize commits the session queue and keeps whatever the batcher returns
// as remaining.
func (a *Allocator) Finalize(ctx context.Context, sess *models.Session) batcher.Report {
	rep := a.recorder.Finalize(ctx, sess.Queue)
	sess.Queue = rep.Remaining
	return rep
}

// PoolStats are the prompt counts of one variant.
type PoolStats struct {
	Variant models.Variant                `json:"variant"`
	Objects sampler.PoolCounts            `json:"objects"`
	Leases  map[models.PromptStatus]int64 `json:"leases,omitempty"`
}

// Stats reports prompt availability per variant.
func (a *Allocator) Stats(ctx context.Context) ([]PoolStats, error) {
	var out []PoolStats
	for _, v := range models.Variants {
		ps := PoolStats{Variant: v}
		c, err := a.sampler.Counts(ctx, v)
		if err != nil {
			return nil, err
		}
		ps.Objects = c
		if a.leases != nil && slices.Contains(a.leases.Variants(), v) {
			st, err := a.leases.Stats(ctx, v)
			if err == nil {
				ps.Leases = st
			} else {
				a.log.Warn(ctx, "lease stats unavailable", "variant", v.String(), "error", err)
			}
		}
		out = append(out, ps)
	}
	return out, nil
}

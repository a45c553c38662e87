package batcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/filex"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/objectstore"
	"github.com/uohspeech/collector/internal/sampler"
)

// AudioKey is the object key of a committed recording.
func AudioKey(v models.Variant, uid string) string {
	return "audio/" + v.String() + "/" + uid + ".wav"
}

// TranscriptKey is the object key of a committed transcript.
func TranscriptKey(v models.Variant, uid string) string {
	return "transcription/" + v.String() + "/" + uid + ".txt"
}

// MetadataKey is the object key of a recording's metadata document.
func MetadataKey(uid string) string {
	return "metadata/" + uid + "_metadata.json"
}

// ItemResult is the outcome of committing one queue item.
type ItemResult struct {
	UID      string
	Steps    models.StepSet
	Failed   []models.Step
	Complete bool
	Dropped  bool
}

// Uploaded reports whether both audio and transcript reached the store.
func (r ItemResult) Uploaded() bool {
	return r.Steps.Has(models.StepAudio) && r.Steps.Has(models.StepTranscript)
}

// Report summarizes a finalize run.
type Report struct {
	Total    int
	Uploaded int
	Complete int
	Items    []ItemResult
	// Remaining is the queue to keep on the session.
	Remaining []models.PendingUpload
}

// Finalize commits every queue item. Items run in parallel up to the
// configured worker count; within an item each step is attempted even when
// an earlier one failed. Steps completed on a previous run are skipped.
func (b *Batcher) Finalize(ctx context.Context, queue []models.PendingUpload) Report {
	rep := Report{Total: len(queue), Items: make([]ItemResult, len(queue))}
	if len(queue) == 0 {
		return rep
	}

	items := make([]models.PendingUpload, len(queue))
	copy(items, queue)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for i := range items {
		g.Go(func() error {
			rep.Items[i] = b.commit(gctx, &items[i])
			return nil
		})
	}
	_ = g.Wait()

	for i := range items {
		res := &rep.Items[i]
		item := items[i]
		if res.Uploaded() {
			rep.Uploaded++
		}
		if res.Complete {
			rep.Complete++
			b.cleanup(ctx, item)
			continue
		}

		item.Attempts++
		switch {
		case b.cfg.Policy == DropFailed:
			res.Dropped = true
			b.log.Warn(ctx, "dropping failed item", "uid", item.UID, "failed", stepNames(res.Failed))
		case item.Attempts >= b.cfg.MaxAttempts:
			res.Dropped = true
			b.log.Error(ctx, "giving up on item", "uid", item.UID, "attempts", item.Attempts,
				"failed", stepNames(res.Failed), "audio_path", item.AudioPath)
		default:
			rep.Remaining = append(rep.Remaining, item)
		}
	}

	b.log.Info(ctx, "finalize completed",
		"total", rep.Total, "uploaded", rep.Uploaded, "complete", rep.Complete, "remaining", len(rep.Remaining))
	return rep
}

type commitStep struct {
	step models.Step
	run  func(ctx context.Context, item *models.PendingUpload) error
}

func (b *Batcher) steps() []commitStep {
	return []commitStep{
		{models.StepAudio, b.uploadAudio},
		{models.StepTranscript, b.uploadTranscript},
		{models.StepPrompt, b.settlePrompt},
		{models.StepMetadata, b.uploadMetadata},
		{models.StepRecord, b.appendRecord},
	}
}

// commit runs the missing steps of item and records the ones that succeed.
func (b *Batcher) commit(ctx context.Context, item *models.PendingUpload) ItemResult {
	res := ItemResult{UID: item.UID}
	for _, s := range b.steps() {
		if item.Steps.Has(s.step) {
			continue
		}
		if err := s.run(ctx, item); err != nil {
			b.log.Error(ctx, "commit step failed", "uid", item.UID, "step", s.step.String(), "error", err)
			res.Failed = append(res.Failed, s.step)
			continue
		}
		item.Steps = item.Steps.With(s.step)
	}
	res.Steps = item.Steps
	res.Complete = item.Steps.Complete()
	return res
}

func (b *Batcher) uploadFile(ctx context.Context, path, key, contentType string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return objectstore.PutBytes(ctx, b.store, key, data, contentType)
}

func (b *Batcher) uploadAudio(ctx context.Context, item *models.PendingUpload) error {
	return b.uploadFile(ctx, item.AudioPath, AudioKey(item.Variant, item.UID), objectstore.ContentTypeWAV)
}

func (b *Batcher) uploadTranscript(ctx context.Context, item *models.PendingUpload) error {
	return b.uploadFile(ctx, item.TranscriptPath, TranscriptKey(item.Variant, item.UID), objectstore.ContentTypeText)
}

// settlePrompt retires the prompt the item was recorded against.
func (b *Batcher) settlePrompt(ctx context.Context, item *models.PendingUpload) error {
	ref := item.PromptRef
	if ref == "" {
		return nil
	}

	if id, ok := models.ParseLeaseRef(ref); ok {
		if b.leases == nil {
			return errors.New("lease prompt without a lease store")
		}
		return b.leases.MarkUsed(ctx, item.Variant, id)
	}

	if !sampler.IsPromptKey(item.Variant, ref) {
		b.log.Warn(ctx, "prompt reference outside the prompt pool, not retired",
			"uid", item.UID, "variant", item.Variant.String(), "ref", ref)
		return nil
	}
	text := item.PromptText
	if text == "" {
		t, err := b.prompts.Read(ctx, ref)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		text = t
	}
	if err := b.prompts.Mirror(ctx, item.UID, item.Variant, text); err != nil {
		return err
	}
	return b.prompts.RetireFor(ctx, item.Variant, ref)
}

type metadata struct {
	models.Demographics
	UID        string         `json:"uid"`
	Variant    models.Variant `json:"variant"`
	Prompt     string         `json:"prompt"`
	RecordedAt time.Time      `json:"recorded_at"`
}

func (b *Batcher) uploadMetadata(ctx context.Context, item *models.PendingUpload) error {
	doc, err := json.Marshal(metadata{
		Demographics: item.Demographics,
		UID:          item.UID,
		Variant:      item.Variant,
		Prompt:       item.PromptText,
		RecordedAt:   item.CapturedAt,
	})
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return objectstore.PutBytes(ctx, b.store, MetadataKey(item.UID), doc, objectstore.ContentTypeJSON)
}

func (b *Batcher) appendRecord(ctx context.Context, item *models.PendingUpload) error {
	created := item.CapturedAt
	if created.IsZero() {
		created = b.now().UTC()
	}
	_, err := b.ledger.Append(ctx, &models.Recording{
		UID:          item.UID,
		Demographics: item.Demographics,
		PromptText:   item.PromptText,
		AudioRef:     AudioKey(item.Variant, item.UID),
		Variant:      item.Variant,
		CreatedAt:    created,
	})
	return err
}

// cleanup removes the spooled files of a committed item.
func (b *Batcher) cleanup(ctx context.Context, item models.PendingUpload) {
	for _, p := range []string{item.AudioPath, item.TranscriptPath} {
		if err := filex.RemoveIfExists(p); err != nil {
			b.log.Warn(ctx, "remove spooled file", "path", p, "error", err)
		}
	}
}

func stepNames(steps []models.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.String()
	}
	return out
}

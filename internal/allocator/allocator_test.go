package allocator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uohspeech/collector/internal/alert"
	"github.com/uohspeech/collector/internal/batcher"
	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/lease"
	"github.com/uohspeech/collector/internal/logging"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/objectstore"
	"github.com/uohspeech/collector/internal/repositories/repomanager"
	"github.com/uohspeech/collector/internal/sampler"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSampler struct {
	key, content string
	ok           bool
	err          error
	calls        []models.Variant
}

func (f *fakeSampler) SampleUnused(ctx context.Context, v models.Variant) (string, string, bool, error) {
	f.calls = append(f.calls, v)
	return f.key, f.content, f.ok, f.err
}

func (f *fakeSampler) Counts(ctx context.Context, v models.Variant) (sampler.PoolCounts, error) {
	return sampler.PoolCounts{Total: 3, Used: 1, Unused: 2}, nil
}

type fakeLeases struct {
	prompt    *models.Prompt
	err       error
	claimed   []models.Variant
	reclaimed []models.Variant
	variants  []models.Variant
	expired   bool
}

func (f *fakeLeases) ClaimNext(ctx context.Context, v models.Variant) (*models.Prompt, error) {
	f.claimed = append(f.claimed, v)
	return f.prompt, f.err
}

func (f *fakeLeases) ReclaimExpired(ctx context.Context, v models.Variant) (int64, error) {
	f.reclaimed = append(f.reclaimed, v)
	if v == models.VariantTribal {
		return 0, fmt.Errorf("reclaim: %w", common.ErrTransientStore)
	}
	return 1, nil
}

func (f *fakeLeases) Stats(ctx context.Context, v models.Variant) (map[models.PromptStatus]int64, error) {
	return map[models.PromptStatus]int64{models.PromptUnused: 4}, nil
}

func (f *fakeLeases) Holds(p *models.Prompt) bool { return !f.expired }

func (f *fakeLeases) Variants() []models.Variant { return f.variants }

type sentAlerts struct {
	mu       sync.Mutex
	subjects []string
}

func (s *sentAlerts) Send(ctx context.Context, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	return nil
}

type fakeRecorder struct {
	captured []batcher.CaptureInput
	report   batcher.Report
}

func (f *fakeRecorder) Capture(ctx context.Context, in batcher.CaptureInput) (*models.PendingUpload, error) {
	f.captured = append(f.captured, in)
	return &models.PendingUpload{UID: fmt.Sprintf("UOH_%08d", len(f.captured)), Variant: in.Variant, PromptRef: in.PromptRef}, nil
}

func (f *fakeRecorder) Finalize(ctx context.Context, queue []models.PendingUpload) batcher.Report {
	f.report.Total = len(queue)
	return f.report
}

func session(region string) *models.Session {
	s := models.NewSession("s1", testNow)
	s.Demographics = &models.Demographics{Age: 22, Gender: "female", Location: "Hyderabad", Region: region}
	return s
}

func TestRoute(t *testing.T) {
	cases := map[string]models.Variant{
		"TS-Tribal":      models.VariantTribal,
		"AP-Tribal":      models.VariantTribal,
		" AP-Tribal ":    models.VariantTribal,
		"Telangana":      models.VariantStandard,
		"Andhra Pradesh": models.VariantStandard,
		"ts-tribal":      models.VariantStandard,
		"":               models.VariantStandard,
	}
	for region, want := range cases {
		assert.Equal(t, want, Route(models.Demographics{Region: region}), region)
	}
}

func TestNextPrompt_FromObjectStore(t *testing.T) {
	fs := &fakeSampler{key: "prompts/tribal/UOH_1.txt", content: "hello", ok: true}
	a := New(Config{}, fs, nil, nil, &fakeRecorder{}, logging.NewNop())

	next, err := a.NextPrompt(context.Background(), session("TS-Tribal"))
	require.NoError(t, err)
	assert.False(t, next.Done)
	require.NotNil(t, next.Prompt)
	assert.Equal(t, "prompts/tribal/UOH_1.txt", next.Prompt.Ref())
	assert.Equal(t, "hello", next.Prompt.Text)
	assert.Equal(t, []models.Variant{models.VariantTribal}, fs.calls)
}

func TestNextPrompt_CompletionGating(t *testing.T) {
	fs := &fakeSampler{key: "prompts/standard/UOH_1.txt", content: "hi", ok: true}
	rec := &fakeRecorder{}
	a := New(Config{CompletionCap: 5}, fs, nil, nil, rec, logging.NewNop())
	ctx := context.Background()
	sess := session("Telangana")

	for i := 0; i < 5; i++ {
		next, err := a.NextPrompt(ctx, sess)
		require.NoError(t, err)
		require.NotNil(t, next.Prompt)
		_, err = a.Submit(ctx, sess, Submission{Audio: []byte("x"), Transcript: "t", PromptRef: next.Prompt.Ref()})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, sess.Completed)
	assert.Len(t, sess.Queue, 5)

	next, err := a.NextPrompt(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, Next{Done: true, Reason: ReasonCompleted}, next)
	assert.Len(t, fs.calls, 5, "pool not consulted once the cap is reached")

	_, err = a.Submit(ctx, sess, Submission{Audio: []byte("x"), Transcript: "t"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestNextPrompt_EmptyPoolAlertsOncePerHour(t *testing.T) {
	sent := &sentAlerts{}
	now := testNow
	notifier := alert.NewNotifier(sent, time.Hour, nil).WithClock(func() time.Time { return now })
	a := New(Config{}, &fakeSampler{}, nil, notifier, &fakeRecorder{}, logging.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		next, err := a.NextPrompt(ctx, session("AP-Tribal"))
		require.NoError(t, err)
		assert.Equal(t, Next{Done: true, Reason: ReasonNoPrompts}, next)
	}
	assert.Equal(t, []string{"Urgent: No Tribal Prompts Available"}, sent.subjects)

	_, err := a.NextPrompt(ctx, session("Telangana"))
	require.NoError(t, err)
	now = now.Add(61 * time.Minute)
	_, err = a.NextPrompt(ctx, session("AP-Tribal"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Urgent: No Tribal Prompts Available",
		"Urgent: No Standard Prompts Available",
		"Urgent: No Tribal Prompts Available",
	}, sent.subjects)
}

func TestNextPrompt_TransientErrorDoesNotAlert(t *testing.T) {
	sent := &sentAlerts{}
	fs := &fakeSampler{err: fmt.Errorf("list: %w", common.ErrTransientStore)}
	a := New(Config{}, fs, nil, alert.NewNotifier(sent, 0, nil), &fakeRecorder{}, nil)

	next, err := a.NextPrompt(context.Background(), session("Telangana"))
	require.NoError(t, err)
	assert.Equal(t, Next{Reason: ReasonUnavailable}, next)
	assert.Empty(t, sent.subjects)
}

func TestNextPrompt_LeaseSource(t *testing.T) {
	fl := &fakeLeases{prompt: &models.Prompt{ID: 9, Text: "leased", Variant: models.VariantTribal}}
	a := New(Config{Source: SourceLease}, &fakeSampler{}, fl, nil, &fakeRecorder{}, nil)

	next, err := a.NextPrompt(context.Background(), session("TS-Tribal"))
	require.NoError(t, err)
	require.NotNil(t, next.Prompt)
	assert.Equal(t, "lease:9", next.Prompt.Ref())
	assert.Equal(t, []models.Variant{models.VariantTribal}, fl.claimed)

	fl.prompt = nil
	next, err = a.NextPrompt(context.Background(), session("TS-Tribal"))
	require.NoError(t, err)
	assert.Equal(t, ReasonNoPrompts, next.Reason)

	fl.err = fmt.Errorf("claim: %w", common.ErrTransientStore)
	next, err = a.NextPrompt(context.Background(), session("TS-Tribal"))
	require.NoError(t, err)
	assert.Equal(t, ReasonUnavailable, next.Reason)
}

func TestNextPrompt_RepeatsUnansweredPrompt(t *testing.T) {
	fs := &fakeSampler{key: "prompts/standard/UOH_4.txt", content: "four", ok: true}
	rec := &fakeRecorder{}
	a := New(Config{}, fs, nil, nil, rec, nil)
	ctx := context.Background()
	sess := session("Telangana")

	first, err := a.NextPrompt(ctx, sess)
	require.NoError(t, err)
	again, err := a.NextPrompt(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, first.Prompt, again.Prompt)
	assert.Len(t, fs.calls, 1, "a reload does not draw a new prompt")

	_, err = a.Submit(ctx, sess, Submission{Audio: []byte("x"), Transcript: "four"})
	require.NoError(t, err)
	require.Len(t, rec.captured, 1)
	assert.Equal(t, "prompts/standard/UOH_4.txt", rec.captured[0].PromptRef)
	assert.Equal(t, "four", rec.captured[0].PromptText)
	assert.Nil(t, sess.Current)

	_, err = a.NextPrompt(ctx, sess)
	require.NoError(t, err)
	assert.Len(t, fs.calls, 2)
}

func TestNextPrompt_RequiresDemographics(t *testing.T) {
	a := New(Config{}, &fakeSampler{}, nil, nil, &fakeRecorder{}, nil)
	_, err := a.NextPrompt(context.Background(), models.NewSession("s", testNow))
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestStartAndReset(t *testing.T) {
	fl := &fakeLeases{variants: models.Variants}
	a := New(Config{}, &fakeSampler{}, fl, nil, &fakeRecorder{}, logging.NewNop())
	sess := session("Telangana")
	sess.Completed = 3

	err := a.Start(sess, models.Demographics{Age: 0})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, 3, sess.Completed, "invalid details leave the session untouched")

	require.NoError(t, a.Start(sess, models.Demographics{Age: 50, Gender: "male", Location: "Kurnool", Region: "AP-Tribal"}))
	assert.Zero(t, sess.Completed)
	assert.Equal(t, "AP-Tribal", sess.Demographics.Region)

	sess.Completed = 2
	sess.Queue = []models.PendingUpload{{UID: "UOH_1"}}
	a.Reset(context.Background(), sess)
	assert.Nil(t, sess.Demographics)
	assert.Zero(t, sess.Completed)
	assert.Empty(t, sess.Queue)
	assert.Equal(t, []models.Variant{models.VariantStandard, models.VariantTribal}, fl.reclaimed)
}

func TestFinalize_KeepsRemaining(t *testing.T) {
	rec := &fakeRecorder{report: batcher.Report{Uploaded: 1, Remaining: []models.PendingUpload{{UID: "UOH_2"}}}}
	a := New(Config{}, &fakeSampler{}, nil, nil, rec, nil)
	sess := session("Telangana")
	sess.Queue = []models.PendingUpload{{UID: "UOH_1"}, {UID: "UOH_2"}}

	rep := a.Finalize(context.Background(), sess)
	assert.Equal(t, 2, rep.Total)
	assert.Equal(t, []models.PendingUpload{{UID: "UOH_2"}}, sess.Queue)
}

func TestStats(t *testing.T) {
	fl := &fakeLeases{variants: []models.Variant{models.VariantTribal}}
	a := New(Config{}, &fakeSampler{}, fl, nil, &fakeRecorder{}, nil)

	stats, err := a.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, models.VariantStandard, stats[0].Variant)
	assert.Nil(t, stats[0].Leases)
	assert.Equal(t, int64(4), stats[1].Leases[models.PromptUnused])
	assert.Equal(t, 2, stats[1].Objects.Unused)
}

func TestEndToEnd_ObjectStorePath(t *testing.T) {
	ctx := context.Background()
	mem := objectstore.NewMemoryStore()
	require.NoError(t, objectstore.PutText(ctx, mem, "prompts/standard/a.txt", "alpha"))
	require.NoError(t, objectstore.PutText(ctx, mem, "prompts/standard/used/a.txt", "alpha"))
	require.NoError(t, objectstore.PutText(ctx, mem, "prompts/standard/b.txt", "bravo"))

	s := sampler.New(mem, 0, nil)
	ledger := &countingLedger{}
	b := batcher.New(batcher.Config{Root: t.TempDir()}, mem, s, nil, ledger, nil)
	a := New(Config{}, s, nil, nil, b, nil)
	sess := session("Telangana")

	next, err := a.NextPrompt(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, next.Prompt)
	assert.Equal(t, "prompts/standard/b.txt", next.Prompt.Key)

	_, err = a.Submit(ctx, sess, Submission{
		Audio: []byte("RIFF"), Transcript: "bravo", PromptRef: next.Prompt.Ref(), PromptText: next.Prompt.Text,
	})
	require.NoError(t, err)

	rep := a.Finalize(ctx, sess)
	assert.Equal(t, 1, rep.Uploaded)
	assert.Equal(t, 1, rep.Complete)
	assert.Empty(t, sess.Queue)
	assert.Equal(t, 1, ledger.n)

	next, err = a.NextPrompt(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoPrompts, next.Reason)
}

type countingLedger struct{ n int }

func (c *countingLedger) Append(ctx context.Context, rec *models.Recording) (bool, error) {
	c.n++
	return true, nil
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource("")
	require.NoError(t, err)
	assert.Equal(t, SourceObjectStore, s)
	s, err = ParseSource("Lease")
	require.NoError(t, err)
	assert.Equal(t, SourceLease, s)
	_, err = ParseSource("csv")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestSubmit_RejectsPromptNotHandedOut(t *testing.T) {
	ctx := context.Background()
	mem := objectstore.NewMemoryStore()
	require.NoError(t, objectstore.PutText(ctx, mem, "prompts/standard/a.txt", "alpha"))
	require.NoError(t, objectstore.PutText(ctx, mem, "prompts/tribal/t1.txt", "tribal"))

	s := sampler.New(mem, 0, nil)
	b := batcher.New(batcher.Config{Root: t.TempDir()}, mem, s, nil, &countingLedger{}, nil)
	a := New(Config{}, s, nil, nil, b, nil)
	sess := session("Telangana")

	next, err := a.NextPrompt(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, next.Prompt)
	item, err := a.Submit(ctx, sess, Submission{Audio: []byte("RIFF"), Transcript: "alpha", PromptRef: next.Prompt.Ref()})
	require.NoError(t, err)
	rep := a.Finalize(ctx, sess)
	require.Equal(t, 1, rep.Complete)
	audio := batcher.AudioKey(models.VariantStandard, item.UID)

	for _, ref := range []string{
		audio,
		batcher.MetadataKey(item.UID),
		"prompts/tribal/t1.txt",
		"prompts/standard/used/a.txt",
		models.LeaseRef(1),
	} {
		_, err := a.Submit(ctx, sess, Submission{Audio: []byte("RIFF"), Transcript: "x", PromptRef: ref})
		assert.ErrorIs(t, err, common.ErrValidation, ref)
	}
	assert.Equal(t, 1, sess.Completed)
	assert.Empty(t, sess.Queue)

	for _, key := range []string{audio, "prompts/tribal/t1.txt"} {
		ok, err := mem.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
	ok, err := mem.Exists(ctx, "prompts/standard/used/t1.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmit_UsesPromptHandedOut(t *testing.T) {
	fs := &fakeSampler{key: "prompts/standard/UOH_4.txt", content: "four", ok: true}
	rec := &fakeRecorder{}
	a := New(Config{}, fs, nil, nil, rec, nil)
	ctx := context.Background()
	sess := session("Telangana")

	_, err := a.NextPrompt(ctx, sess)
	require.NoError(t, err)
	_, err = a.Submit(ctx, sess, Submission{Audio: []byte("x"), Transcript: "t", PromptRef: "prompts/standard/UOH_9.txt"})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.NotNil(t, sess.Current, "a rejected submit keeps the prompt")

	_, err = a.Submit(ctx, sess, Submission{Audio: []byte("x"), Transcript: "t", PromptText: "edited"})
	require.NoError(t, err)
	require.Len(t, rec.captured, 1)
	assert.Equal(t, "prompts/standard/UOH_4.txt", rec.captured[0].PromptRef)
	assert.Equal(t, "four", rec.captured[0].PromptText)
}

func newLeasePool(t *testing.T, texts ...string) *lease.Store {
	t.Helper()
	ctx := context.Background()
	db, m, err := repomanager.Open(ctx, "sqlite", "file:"+filepath.Join(t.TempDir(), "tribal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := lease.NewStore(map[models.Variant]lease.Pool{models.VariantTribal: {DB: db, Manager: m}}, 30*time.Minute, nil)
	for _, text := range texts {
		_, _, err := st.Add(ctx, models.VariantTribal, "te", text)
		require.NoError(t, err)
	}
	return st
}

func TestNextPrompt_ExpiredLeaseIsNotReused(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	leases := newLeasePool(t, "namaskaram").WithClock(func() time.Time { return now })
	a := New(Config{Source: SourceLease}, &fakeSampler{}, leases, nil, &fakeRecorder{}, nil)
	s1, s2 := session("TS-Tribal"), session("TS-Tribal")

	first, err := a.NextPrompt(ctx, s1)
	require.NoError(t, err)
	require.NotNil(t, first.Prompt)

	now = now.Add(10 * time.Minute)
	again, err := a.NextPrompt(ctx, s1)
	require.NoError(t, err)
	assert.Equal(t, first.Prompt.Ref(), again.Prompt.Ref(), "reload inside the window keeps the lease")

	now = now.Add(21 * time.Minute)
	taken, err := a.NextPrompt(ctx, s2)
	require.NoError(t, err)
	require.NotNil(t, taken.Prompt)
	assert.Equal(t, first.Prompt.Ref(), taken.Prompt.Ref())

	late, err := a.NextPrompt(ctx, s1)
	require.NoError(t, err)
	assert.Nil(t, late.Prompt, "the prompt now belongs to the other session")
	assert.Equal(t, ReasonNoPrompts, late.Reason)
	assert.Nil(t, s1.Current)

	st, err := leases.Stats(ctx, models.VariantTribal)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st[models.PromptInProgress])
}

func TestSubmit_ExpiredLeaseIsNotRetired(t *testing.T) {
	fl := &fakeLeases{prompt: &models.Prompt{ID: 5, Text: "leased"}}
	rec := &fakeRecorder{}
	a := New(Config{Source: SourceLease}, &fakeSampler{}, fl, nil, rec, nil)
	ctx := context.Background()
	sess := session("AP-Tribal")

	_, err := a.NextPrompt(ctx, sess)
	require.NoError(t, err)
	fl.expired = true

	_, err = a.Submit(ctx, sess, Submission{Audio: []byte("x"), Transcript: "t", PromptRef: models.LeaseRef(5)})
	require.NoError(t, err)
	require.Len(t, rec.captured, 1)
	assert.Empty(t, rec.captured[0].PromptRef)
	assert.Equal(t, "leased", rec.captured[0].PromptText)
}

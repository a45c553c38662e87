package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/models"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleSession() *models.Session {
	s := models.NewSession("sess-1", testNow)
	s.Demographics = &models.Demographics{Age: 33, Gender: "male", Location: "Vizag", Region: "AP-Tribal"}
	s.Completed = 2
	s.Queue = []models.PendingUpload{{
		UID:        "UOH_0badf00d",
		AudioPath:  "/tmp/uploads/tribal/audio/UOH_0badf00d.wav",
		PromptRef:  "lease:9",
		PromptText: "hello",
		Variant:    models.VariantTribal,
		CapturedAt: testNow,
		Steps:      models.StepSet(0).With(models.StepAudio),
		Attempts:   1,
	}}
	return s
}

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	want := sampleSession()
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, want.Completed, got.Completed)
	assert.Equal(t, *want.Demographics, *got.Demographics)
	require.Len(t, got.Queue, 1)
	assert.Equal(t, want.Queue[0].UID, got.Queue[0].UID)
	assert.True(t, got.Queue[0].Steps.Has(models.StepAudio))
	assert.Equal(t, 1, got.Queue[0].Attempts)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

	require.NoError(t, s.Delete(ctx, "sess-1"))
	require.NoError(t, s.Delete(ctx, "sess-1"))
	_, err = s.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore(time.Hour))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(time.Hour)
	sess := sampleSession()
	require.NoError(t, m.Save(ctx, sess))

	sess.Completed = 5
	sess.Queue[0].UID = "changed"

	got, err := m.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Completed)
	assert.Equal(t, "UOH_0badf00d", got.Queue[0].UID)
}

func TestMemoryStore_Expires(t *testing.T) {
	now := testNow
	m := NewMemoryStore(time.Hour).WithClock(func() time.Time { return now })
	require.NoError(t, m.Save(context.Background(), sampleSession()))

	now = now.Add(59 * time.Minute)
	_, err := m.Get(context.Background(), "sess-1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = m.Get(context.Background(), "sess-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", time.Hour)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Ping(context.Background()))
	exercise(t, s)
}

func TestRedisStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", time.Hour)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Save(context.Background(), sampleSession()))
	assert.Equal(t, time.Hour, mr.TTL(keyPrefix+"sess-1"))

	mr.FastForward(61 * time.Minute)
	_, err := s.Get(context.Background(), "sess-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", time.Hour)
	t.Cleanup(func() { _ = s.Close() })
	mr.Close()

	_, err := s.Get(context.Background(), "sess-1")
	assert.ErrorIs(t, err, common.ErrTransientStore)
}

package seed

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/lease"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/objectstore"
	"github.com/uohspeech/collector/internal/repositories/repomanager"
	"github.com/uohspeech/collector/internal/sampler"
)

const input = `
# greetings
namaskaram
  dhanyavadalu

namaskaram
`

func newLeaseStore(t *testing.T) *lease.Store {
	t.Helper()
	db, m, err := repomanager.Open(context.Background(), "sqlite", "file:"+filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return lease.NewStore(map[models.Variant]lease.Pool{models.VariantTribal: {DB: db, Manager: m}}, 0, nil)
}

func TestLoad_ObjectStoreOnly(t *testing.T) {
	ctx := context.Background()
	mem := objectstore.NewMemoryStore()
	s := New(nil, mem, nil)

	res, err := s.Load(ctx, strings.NewReader(input), models.VariantStandard, "te", TargetObjectStore)
	require.NoError(t, err)
	assert.Equal(t, Result{Lines: 3, Objects: 3}, res)

	keys, err := mem.List(ctx, sampler.PromptPrefix(models.VariantStandard))
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "prompts/standard/UOH_"), k)
		assert.True(t, strings.HasSuffix(k, ".txt"), k)
	}
}

func TestLoad_BothNamesObjectsAfterLeaseIDs(t *testing.T) {
	ctx := context.Background()
	mem := objectstore.NewMemoryStore()
	leases := newLeaseStore(t)
	s := New(leases, mem, nil)

	res, err := s.Load(ctx, strings.NewReader(input), models.VariantTribal, "te", TargetBoth)
	require.NoError(t, err)
	assert.Equal(t, Result{Lines: 3, Leased: 2, Duplicates: 1, Objects: 2}, res)

	st, err := leases.Stats(ctx, models.VariantTribal)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st[models.PromptUnused])

	ok, err := mem.Exists(ctx, "prompts/tribal/UOH_1.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	smp := sampler.New(mem, 0, nil)
	text, err := smp.Read(ctx, "prompts/tribal/UOH_2.txt")
	require.NoError(t, err)
	assert.Equal(t, "dhanyavadalu", text)
}

func TestLoad_MissingDestination(t *testing.T) {
	_, err := New(nil, nil, nil).Load(context.Background(), strings.NewReader("x"), models.VariantStandard, "te", TargetLease)
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = New(nil, nil, nil).Load(context.Background(), strings.NewReader("x"), models.VariantStandard, "te", TargetObjectStore)
	assert.ErrorIs(t, err, common.ErrValidation)
}

type failingAdder struct{}

func (failingAdder) Add(ctx context.Context, v models.Variant, language, text string) (int64, bool, error) {
	return 0, false, errors.New("db down")
}

func TestLoad_StopsOnLeaseError(t *testing.T) {
	mem := objectstore.NewMemoryStore()
	res, err := New(failingAdder{}, mem, nil).Load(context.Background(), strings.NewReader(input), models.VariantStandard, "te", TargetBoth)
	assert.Error(t, err)
	assert.Equal(t, 1, res.Lines)
	assert.Zero(t, mem.Len())
}

func TestParseTarget(t *testing.T) {
	tg, err := ParseTarget("")
	require.NoError(t, err)
	assert.Equal(t, TargetObjectStore, tg)
	tg, err = ParseTarget("Both")
	require.NoError(t, err)
	assert.Equal(t, TargetBoth, tg)
	_, err = ParseTarget("csv")
	assert.ErrorIs(t, err, common.ErrValidation)
}

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uohspeech/collector/internal/flagx"
	"github.com/uohspeech/collector/internal/lease"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/repositories/repomanager"
)

func setup(t *testing.T, args ...string) string {
	t.Helper()
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = append([]string{"seed"}, args...)

	dir := t.TempDir()
	cfg := map[string]any{
		"object_backend": "memory",
		"standard_db":    map[string]any{"driver": "sqlite", "dsn": "file:" + filepath.Join(dir, "standard.db")},
		"tribal_db":      map[string]any{"driver": "sqlite", "dsn": "file:" + filepath.Join(dir, "tribal.db")},
	}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	t.Setenv(flagx.ConfigEnvVar, path)
	return dir
}

func TestRun_RequiresInput(t *testing.T) {
	setup(t)
	assert.ErrorContains(t, run(context.Background()), "-in is required")
}

func TestRun_RejectsUnknownTarget(t *testing.T) {
	setup(t, "-in", "prompts.txt", "-to", "spreadsheet")
	assert.Error(t, run(context.Background()))
}

func TestRun_ReportsLoadFailure(t *testing.T) {
	unreadable := t.TempDir()
	setup(t, "-in", unreadable, "-to", "objectstore")
	assert.ErrorContains(t, run(context.Background()), "seed stopped")
}

func TestRun_LoadsLeasePool(t *testing.T) {
	in := filepath.Join(t.TempDir(), "prompts.txt")
	require.NoError(t, os.WriteFile(in, []byte("namaskaram\ndhanyavadalu\n"), 0o600))
	dir := setup(t, "-in", in, "-variant", "tribal", "-to", "lease")

	require.NoError(t, run(context.Background()))

	ctx := context.Background()
	db, m, err := repomanager.Open(ctx, "sqlite", "file:"+filepath.Join(dir, "tribal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st, err := lease.NewStore(map[models.Variant]lease.Pool{models.VariantTribal: {DB: db, Manager: m}}, 0, nil).
		Stats(ctx, models.VariantTribal)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st[models.PromptUnused])
}

package recordings

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/models"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE recordings (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  uid         TEXT NOT NULL UNIQUE,
  age         INTEGER,
  gender      TEXT,
  location    TEXT,
  state       TEXT,
  prompt_text TEXT,
  audio_path  TEXT,
  is_tribal   INTEGER NOT NULL DEFAULT 0,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`)
	require.NoError(t, err)
	return db
}

func sampleRecording(uid string, at time.Time, v models.Variant) *models.Recording {
	return &models.Recording{
		UID:          uid,
		Demographics: models.Demographics{Age: 31, Gender: "female", Location: "Warangal", Region: "TS-Tribal"},
		PromptText:   "hello",
		AudioRef:     "audio/" + v.String() + "/" + uid + ".wav",
		Variant:      v,
		CreatedAt:    at,
	}
}

func TestSQLite_InsertCountList(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.Insert(ctx, sampleRecording("UOH_a", t0, models.VariantStandard)))
	require.NoError(t, r.Insert(ctx, sampleRecording("UOH_b", t0.Add(time.Minute), models.VariantTribal)))

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := r.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "UOH_b", all[0].UID, "newest first")
	assert.Equal(t, models.VariantTribal, all[0].Variant)
	assert.Equal(t, models.VariantStandard, all[1].Variant)
	assert.Equal(t, "Warangal", all[0].Demographics.Location)
	assert.True(t, all[0].CreatedAt.Equal(t0.Add(time.Minute)))

	one, err := r.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestSQLite_InsertDuplicateUID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	rec := sampleRecording("UOH_dup", time.Now(), models.VariantStandard)
	require.NoError(t, r.Insert(ctx, rec))
	assert.ErrorIs(t, r.Insert(ctx, rec), common.ErrIntegrityConflict)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

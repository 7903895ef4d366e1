package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, dsn string) *Database {
	t.Helper()
	db, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestEpisodeJournal(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "journal.db"))

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &RunRecord{ID: uuid.NewString(), Input: "video.mp4", Model: "person.xml", Device: "CPU", StartedAt: start}
	require.NoError(t, db.SaveRun(ctx, run))

	run.LoadTimeMs = 120
	require.NoError(t, db.SaveRun(ctx, run))

	got, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 120.0, got.LoadTimeMs)
	assert.True(t, start.Equal(got.StartedAt))

	for i := 1; i <= 3; i++ {
		require.NoError(t, db.SaveEpisode(ctx, &EpisodeRecord{
			ID:              uuid.NewString(),
			RunID:           run.ID,
			Seq:             i,
			StartedAt:       start.Add(time.Duration(i) * time.Minute),
			EndedAt:         start.Add(time.Duration(i)*time.Minute + 10*time.Second),
			DurationSeconds: 10,
			PeakCount:       i,
			AverageSeconds:  10,
		}))
	}

	n, err := db.CountEpisodes(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	eps, err := db.ListEpisodes(ctx, run.ID, 2)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, 3, eps[0].Seq)
	assert.Equal(t, 2, eps[1].Seq)
	assert.Equal(t, 3, eps[0].PeakCount)
	assert.True(t, start.Add(3*time.Minute).Equal(eps[0].StartedAt))

	all, err := db.ListEpisodes(ctx, run.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := db.ListEpisodes(ctx, "other-run", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEpisodeRequiresRun(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "fk.db"))
	err := db.SaveEpisode(context.Background(), &EpisodeRecord{ID: "e1", RunID: "missing", Seq: 1})
	assert.Error(t, err)
}

func TestMissingRun(t *testing.T) {
	db := openTestDB(t, "")
	run, err := db.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, run)
}

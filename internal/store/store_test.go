package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, &QueryRecord{
		Query:      "draw a vpc",
		Response:   "Here is your VPC.",
		Status:     StatusCompleted,
		DurationMs: 1200,
		Diagrams:   []string{"vpc.png"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id, "expected generated id")

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "draw a vpc", rec.Query)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, []string{"vpc.png"}, rec.Diagrams)

	missing, err := s.Get(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing, "unknown id should return nil")
}

func TestRecent_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := s.Save(ctx, &QueryRecord{
			Query:     "q",
			Status:    StatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	recent, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for i := 1; i < len(recent); i++ {
		assert.False(t, recent[i].CreatedAt.After(recent[i-1].CreatedAt),
			"results not newest first: %v then %v", recent[i-1].CreatedAt, recent[i].CreatedAt)
	}
}

func TestStatistics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)

	records := []QueryRecord{
		{Query: "a", Status: StatusCompleted, DurationMs: 100},
		{Query: "b", Status: StatusCompleted, DurationMs: 300},
		{Query: "c", Status: StatusFailed, Error: "boom", DurationMs: 200},
	}
	for i := range records {
		_, err := s.Save(ctx, &records[i])
		require.NoError(t, err)
	}

	stats, err = s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 200, stats.AvgDurationMs, 0.01)
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		_, err := s.Save(ctx, &QueryRecord{
			Query:     "q",
			Status:    StatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	removed, err := s.Prune(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), removed)

	recent, err := s.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, recent, 4)
}

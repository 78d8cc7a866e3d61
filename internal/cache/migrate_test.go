package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysmith/querysmith/internal/log"
	"github.com/querysmith/querysmith/internal/testutil"
)

// seedEntries inserts n entries stamped with the given embedder model.
func seedEntries(t *testing.T, queries *memQuerier, model string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		e := &Entry{
			ConnectionID:  "conn-1",
			PromptText:    "prompt",
			SQLText:       "SELECT 1",
			EmbedderModel: model,
		}
		_, _, err := queries.InsertEntry(ctx, e, []float32{1})
		require.NoError(t, err)
	}
}

func TestCache_MigrateEmbeddings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("migrates only foreign-model entries", func(t *testing.T) {
		t.Parallel()
		queries := newMemQuerier()
		seedEntries(t, queries, "old-embedder", 5)
		seedEntries(t, queries, "mock/test-embedder", 3)
		c := newTestCache(t, queries, 0.90)

		report, err := c.MigrateEmbeddings(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, 5, report.Migrated)
		assert.Equal(t, 0, report.Failed)

		for _, s := range queries.entries {
			assert.Equal(t, "mock/test-embedder", s.entry.EmbedderModel)
		}
	})

	t.Run("second sweep is a no-op", func(t *testing.T) {
		t.Parallel()
		queries := newMemQuerier()
		seedEntries(t, queries, "old-embedder", 4)
		c := newTestCache(t, queries, 0.90)

		first, err := c.MigrateEmbeddings(ctx, DefaultMigrationBatchSize)
		require.NoError(t, err)
		assert.Equal(t, 4, first.Migrated)

		second, err := c.MigrateEmbeddings(ctx, DefaultMigrationBatchSize)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Migrated)
	})

	t.Run("per-record failures are skipped not fatal", func(t *testing.T) {
		t.Parallel()
		queries := newMemQuerier()
		seedEntries(t, queries, "old-embedder", 3)
		embedder := testutil.NewMockEmbedder(8)
		c, err := New(queries, embedder, 0.90, log.NewNop())
		require.NoError(t, err)

		queries.failUpdate = assert.AnError
		report, err := c.MigrateEmbeddings(ctx, DefaultMigrationBatchSize)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Migrated)
		assert.Equal(t, 3, report.Failed)

		// Failed records stay eligible for the next run.
		queries.failUpdate = nil
		report, err = c.MigrateEmbeddings(ctx, DefaultMigrationBatchSize)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Migrated)
	})

	t.Run("cancelled context aborts sweep", func(t *testing.T) {
		t.Parallel()
		queries := newMemQuerier()
		seedEntries(t, queries, "old-embedder", 2)
		c := newTestCache(t, queries, 0.90)

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.MigrateEmbeddings(cancelled, DefaultMigrationBatchSize)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

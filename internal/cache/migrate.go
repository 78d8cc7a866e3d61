package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MigrationReport summarizes one embedding-migration sweep.
type MigrationReport struct {
	Migrated int
	Failed   int
	Elapsed  time.Duration
}

// DefaultMigrationBatchSize is the page size for migration sweeps.
const DefaultMigrationBatchSize = 100

// MigrateEmbeddings re-embeds every cache entry whose stored vector was
// produced by a model other than the one currently active.
//
// Each record is an independent read-compute-write transaction keyed by the
// entry's immutable id; only the embedding and embedder model change, all
// other fields stay verbatim. That makes the sweep idempotent and safely
// resumable after a crash mid-batch: already-migrated rows no longer match
// the selection predicate.
//
// A record whose embedding fails is counted and skipped; the batch continues.
// The sweep only aborts when the context is cancelled or the store itself
// stops answering.
func (c *Cache) MigrateEmbeddings(ctx context.Context, batchSize int) (*MigrationReport, error) {
	if batchSize <= 0 {
		batchSize = DefaultMigrationBatchSize
	}

	start := time.Now()
	report := &MigrationReport{}
	model := c.embedder.Model()

	var afterID uuid.UUID
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		entries, err := c.queries.ListEntriesForModel(ctx, model, afterID, batchSize)
		if err != nil {
			return report, err
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			afterID = entry.ID

			vec, err := c.embedder.Embed(ctx, entry.PromptText)
			if err != nil {
				report.Failed++
				c.logger.Warn("skipping entry: embedding failed",
					"entry_id", entry.ID,
					"error", err)
				continue
			}

			if err := c.queries.UpdateEntryEmbedding(ctx, entry.ID, vec, model); err != nil {
				report.Failed++
				c.logger.Warn("skipping entry: update failed",
					"entry_id", entry.ID,
					"error", err)
				continue
			}
			report.Migrated++
		}
	}

	report.Elapsed = time.Since(start)
	c.logger.Info("embedding migration completed",
		slog.Int("migrated", report.Migrated),
		slog.Int("failed", report.Failed),
		slog.Duration("elapsed", report.Elapsed))
	return report, nil
}

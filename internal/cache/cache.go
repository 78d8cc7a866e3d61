// Package cache implements the semantic cache that can bypass SQL synthesis
// entirely.
//
// A lookup embeds the incoming prompt and runs a nearest-neighbor search
// restricted to the prompt's connection; the top match is accepted only when
// its cosine similarity clears the configured threshold. A keyword fallback
// catches near-verbatim prompts when vector search returns nothing above
// threshold. On a hit the previously generated SQL is returned without
// invoking the agent.
//
// The cache is deliberately failure-tolerant: embedding or store errors wrap
// ErrRetrieval, and callers treat that as "cache unavailable" and fall
// through to synthesis. A cache outage must never fail a request.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrRetrieval indicates the cache could not be consulted (embedding provider
// or vector store failure). Callers treat this as a miss, never as fatal.
var ErrRetrieval = errors.New("cache retrieval failed")

// Entry is one cached prompt→SQL answer.
// prompt_text and sql_text are always written together in a single insert;
// an Entry is never partially persisted.
type Entry struct {
	ID            uuid.UUID
	ConnectionID  string
	PromptText    string
	SQLText       string
	Metadata      map[string]string
	EmbedderModel string
	Similarity    float64 // populated on lookup, zero on store
	CreatedAt     time.Time
}

// Embedder is the slice of the embedding provider the cache consumes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Querier defines the store operations the cache needs.
// Interfaces are defined by the consumer; the pgx implementation lives in
// queries.go and mocks live in the tests.
type Querier interface {
	// InsertEntry persists a complete entry in one statement.
	InsertEntry(ctx context.Context, e *Entry, embedding []float32) (uuid.UUID, time.Time, error)

	// NearestEntry returns the single closest entry for the connection along
	// with its cosine similarity, or (nil, 0, nil) when the table is empty.
	NearestEntry(ctx context.Context, connectionID string, embedding []float32) (*Entry, float64, error)

	// KeywordEntry returns the newest entry whose prompt text matches the
	// query case-insensitively, or nil when none does.
	KeywordEntry(ctx context.Context, connectionID, promptText string) (*Entry, error)

	// ListEntriesForModel pages through entries whose stored embedding was
	// produced by a different embedder model, ordered by immutable id.
	ListEntriesForModel(ctx context.Context, notModel string, afterID uuid.UUID, limit int) ([]*Entry, error)

	// UpdateEntryEmbedding replaces only the embedding and embedder model of
	// the entry with the given id; every other field is left verbatim.
	UpdateEntryEmbedding(ctx context.Context, id uuid.UUID, embedding []float32, model string) error
}

// Cache is the semantic cache over the vector store.
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	queries   Querier
	embedder  Embedder
	threshold float64
	logger    *slog.Logger
}

// New creates a Cache.
// threshold is the minimum cosine similarity for a hit, from Config.
func New(queries Querier, embedder Embedder, threshold float64, logger *slog.Logger) (*Cache, error) {
	if queries == nil {
		return nil, fmt.Errorf("querier is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in [0,1], got %v", threshold)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		queries:   queries,
		embedder:  embedder,
		threshold: threshold,
		logger:    logger,
	}, nil
}

// Lookup returns the cached entry for a near-identical prompt, or (nil, nil)
// on a miss. Lookup has no side effects.
//
// Failures wrap ErrRetrieval; the caller falls through to synthesis.
func (c *Cache) Lookup(ctx context.Context, connectionID, promptText string) (*Entry, error) {
	vec, err := c.embedder.Embed(ctx, promptText)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding prompt: %w", ErrRetrieval, err)
	}

	entry, similarity, err := c.queries.NearestEntry(ctx, connectionID, vec)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %w", ErrRetrieval, err)
	}

	if entry != nil && similarity >= c.threshold {
		entry.Similarity = similarity
		c.logger.Debug("semantic cache hit",
			"connection_id", connectionID,
			"entry_id", entry.ID,
			"similarity", similarity)
		return entry, nil
	}

	// Vector search found nothing above threshold; a verbatim prompt can
	// still be served via keyword match.
	entry, err = c.queries.KeywordEntry(ctx, connectionID, promptText)
	if err != nil {
		return nil, fmt.Errorf("%w: keyword fallback: %w", ErrRetrieval, err)
	}
	if entry != nil {
		entry.Similarity = 1
		c.logger.Debug("keyword cache hit",
			"connection_id", connectionID,
			"entry_id", entry.ID)
		return entry, nil
	}

	return nil, nil
}

// Store writes a new entry after a successful synthesis.
// The caller decides whether to store; the cache never writes on lookup.
func (c *Cache) Store(ctx context.Context, connectionID, promptText, sqlText string, metadata map[string]string) (*Entry, error) {
	vec, err := c.embedder.Embed(ctx, promptText)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding prompt: %w", ErrRetrieval, err)
	}

	entry := &Entry{
		ConnectionID:  connectionID,
		PromptText:    promptText,
		SQLText:       sqlText,
		Metadata:      metadata,
		EmbedderModel: c.embedder.Model(),
	}

	id, createdAt, err := c.queries.InsertEntry(ctx, entry, vec)
	if err != nil {
		return nil, fmt.Errorf("%w: inserting entry: %w", ErrRetrieval, err)
	}
	entry.ID = id
	entry.CreatedAt = createdAt

	c.logger.Debug("stored cache entry",
		"connection_id", connectionID,
		"entry_id", entry.ID)
	return entry, nil
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Queries is the pgx implementation of Querier over the cache_entries table.
type Queries struct {
	pool *pgxpool.Pool
}

// NewQueries creates a Queries bound to the given pool.
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

func (q *Queries) InsertEntry(ctx context.Context, e *Entry, embedding []float32) (uuid.UUID, time.Time, error) {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("marshaling metadata: %w", err)
	}

	var id uuid.UUID
	var createdAt time.Time
	err = q.pool.QueryRow(ctx, `
		INSERT INTO cache_entries (connection_id, prompt_text, prompt_embedding, sql_text, metadata, embedder_model)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		e.ConnectionID, e.PromptText, pgvector.NewVector(embedding), e.SQLText, metadata, e.EmbedderModel,
	).Scan(&id, &createdAt)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return id, createdAt, nil
}

func (q *Queries) NearestEntry(ctx context.Context, connectionID string, embedding []float32) (*Entry, float64, error) {
	vec := pgvector.NewVector(embedding)
	row := q.pool.QueryRow(ctx, `
		SELECT id, connection_id, prompt_text, sql_text, metadata, embedder_model, created_at,
		       1 - (prompt_embedding <=> $2) AS similarity
		FROM cache_entries
		WHERE connection_id = $1
		ORDER BY prompt_embedding <=> $2
		LIMIT 1`,
		connectionID, vec)

	entry, similarity, err := scanEntryWithSimilarity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	return entry, similarity, nil
}

func (q *Queries) KeywordEntry(ctx context.Context, connectionID, promptText string) (*Entry, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT id, connection_id, prompt_text, sql_text, metadata, embedder_model, created_at, 1.0
		FROM cache_entries
		WHERE connection_id = $1 AND lower(prompt_text) = lower($2)
		ORDER BY created_at DESC
		LIMIT 1`,
		connectionID, promptText)

	entry, _, err := scanEntryWithSimilarity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

func (q *Queries) ListEntriesForModel(ctx context.Context, notModel string, afterID uuid.UUID, limit int) ([]*Entry, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, connection_id, prompt_text, sql_text, metadata, embedder_model, created_at, 0.0
		FROM cache_entries
		WHERE embedder_model <> $1 AND id > $2
		ORDER BY id
		LIMIT $3`,
		notModel, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, _, err := scanEntryWithSimilarity(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (q *Queries) UpdateEntryEmbedding(ctx context.Context, id uuid.UUID, embedding []float32, model string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE cache_entries
		SET prompt_embedding = $2, embedder_model = $3
		WHERE id = $1`,
		id, pgvector.NewVector(embedding), model)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cache entry %s not found", id)
	}
	return nil
}

// scanEntryWithSimilarity scans one cache row in the shared column order.
func scanEntryWithSimilarity(row pgx.Row) (*Entry, float64, error) {
	var entry Entry
	var metadata []byte
	var similarity float64
	err := row.Scan(&entry.ID, &entry.ConnectionID, &entry.PromptText, &entry.SQLText,
		&metadata, &entry.EmbedderModel, &entry.CreatedAt, &similarity)
	if err != nil {
		return nil, 0, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			// A malformed metadata blob should not hide the cached SQL.
			entry.Metadata = map[string]string{}
		}
	}
	return &entry, similarity, nil
}

package asset

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

// assetColumns is the shared column list scanned by scanAsset.
const assetColumns = `id, db_connection_id, asset_type, canonical_key, version, name,
	content, content_text, lifecycle_state, author, tags, parent_asset_id,
	promoted_by, promoted_at, change_note, created_at, updated_at`

// Queries is the pgx implementation of Querier over the context_assets table.
type Queries struct {
	pool *pgxpool.Pool
}

// NewQueries creates a Queries bound to the given pool.
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

func (q *Queries) InsertAsset(ctx context.Context, a *Asset, embedding []float32) (uuid.UUID, time.Time, error) {
	content, err := json.Marshal(a.Content)
	if err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("marshaling content: %w", err)
	}
	if a.Content == nil {
		content = []byte("{}")
	}

	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}

	var id uuid.UUID
	var createdAt time.Time
	err = q.pool.QueryRow(ctx, `
		INSERT INTO context_assets (db_connection_id, asset_type, canonical_key, version, name,
			content, content_text, content_embedding, lifecycle_state, author, tags, parent_asset_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`,
		a.ConnectionID, string(a.Type), a.CanonicalKey, a.Version, a.Name,
		content, a.ContentText, pgvector.NewVector(embedding), string(a.State), a.Author, tags, a.ParentAssetID,
	).Scan(&id, &createdAt)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return id, createdAt, nil
}

func (q *Queries) GetAssetByID(ctx context.Context, id uuid.UUID) (*Asset, error) {
	row := q.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM context_assets WHERE id = $1`, id)
	a, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return a, nil
}

func (q *Queries) GetAssetVersion(ctx context.Context, connectionID string, typ Type, key string, version int) (*Asset, error) {
	row := q.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM context_assets
		 WHERE db_connection_id = $1 AND asset_type = $2 AND canonical_key = $3 AND version = $4`,
		connectionID, string(typ), key, version)
	a, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s/%s v%d", ErrNotFound, connectionID, typ, key, version)
		}
		return nil, err
	}
	return a, nil
}

func (q *Queries) ListAssetVersions(ctx context.Context, connectionID string, typ Type, key string) ([]*Asset, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT `+assetColumns+` FROM context_assets
		 WHERE db_connection_id = $1 AND asset_type = $2 AND canonical_key = $3
		 ORDER BY version`,
		connectionID, string(typ), key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssets(rows)
}

func (q *Queries) ListAssets(ctx context.Context, connectionID string, typ Type) ([]*Asset, error) {
	var rows pgx.Rows
	var err error
	if typ == "" {
		rows, err = q.pool.Query(ctx,
			`SELECT `+assetColumns+` FROM context_assets
			 WHERE db_connection_id = $1
			 ORDER BY asset_type, canonical_key, version`,
			connectionID)
	} else {
		rows, err = q.pool.Query(ctx,
			`SELECT `+assetColumns+` FROM context_assets
			 WHERE db_connection_id = $1 AND asset_type = $2
			 ORDER BY canonical_key, version`,
			connectionID, string(typ))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssets(rows)
}

func (q *Queries) GetAssetEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error) {
	var vec pgvector.Vector
	err := q.pool.QueryRow(ctx,
		`SELECT content_embedding FROM context_assets WHERE id = $1`, id).Scan(&vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return vec.Slice(), nil
}

func (q *Queries) UpdateAssetState(ctx context.Context, id uuid.UUID, expected, next State, promotedBy, note string) (bool, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE context_assets
		SET lifecycle_state = $3, promoted_by = $4, promoted_at = now(), change_note = $5, updated_at = now()
		WHERE id = $1 AND lifecycle_state = $2`,
		id, string(expected), string(next), promotedBy, note)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) UpdateDraftAsset(ctx context.Context, a *Asset, embedding []float32) (bool, error) {
	content, err := json.Marshal(a.Content)
	if err != nil {
		return false, fmt.Errorf("marshaling content: %w", err)
	}
	if a.Content == nil {
		content = []byte("{}")
	}

	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}

	tag, err := q.pool.Exec(ctx, `
		UPDATE context_assets
		SET name = $2, content = $3, content_text = $4, content_embedding = $5, tags = $6, updated_at = now()
		WHERE id = $1 AND lifecycle_state = 'draft'`,
		a.ID, a.Name, content, a.ContentText, pgvector.NewVector(embedding), tags)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) DeleteDraftAsset(ctx context.Context, id uuid.UUID) (bool, bool, error) {
	tag, err := q.pool.Exec(ctx,
		`DELETE FROM context_assets WHERE id = $1 AND lifecycle_state = 'draft'`, id)
	if err != nil {
		return false, false, err
	}
	if tag.RowsAffected() > 0 {
		return true, true, nil
	}

	var exists bool
	if err := q.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM context_assets WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, false, err
	}
	return false, exists, nil
}

func (q *Queries) SemanticSearch(ctx context.Context, connectionID string, typ Type, embedding []float32, limit int) ([]*Match, error) {
	vec := pgvector.NewVector(embedding)
	query := `SELECT ` + assetColumns + `, 1 - (content_embedding <=> $2) AS score
		FROM context_assets
		WHERE db_connection_id = $1`
	args := []any{connectionID, vec}
	if typ != "" {
		query += ` AND asset_type = $3`
		args = append(args, string(typ))
	}
	query += fmt.Sprintf(` ORDER BY content_embedding <=> $2 LIMIT %d`, limit)

	rows, err := q.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMatches(rows)
}

func (q *Queries) KeywordSearch(ctx context.Context, connectionID string, typ Type, query string, limit int) ([]*Match, error) {
	sql := `SELECT ` + assetColumns + `, 0.5 AS score
		FROM context_assets
		WHERE db_connection_id = $1
		  AND (content_text ILIKE '%' || $2 || '%' OR name ILIKE '%' || $2 || '%')`
	args := []any{connectionID, query}
	if typ != "" {
		sql += ` AND asset_type = $3`
		args = append(args, string(typ))
	}
	sql += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT %d`, limit)

	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMatches(rows)
}

// scanAsset scans one context_assets row in assetColumns order.
func scanAsset(row pgx.Row) (*Asset, error) {
	var a Asset
	var typ, state string
	var content []byte
	err := row.Scan(&a.ID, &a.ConnectionID, &typ, &a.CanonicalKey, &a.Version, &a.Name,
		&content, &a.ContentText, &state, &a.Author, &a.Tags, &a.ParentAssetID,
		&a.PromotedBy, &a.PromotedAt, &a.ChangeNote, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Type = Type(typ)
	a.State = State(state)
	if len(content) > 0 {
		if err := json.Unmarshal(content, &a.Content); err != nil {
			a.Content = map[string]any{}
		}
	}
	return &a, nil
}

func scanAssets(rows pgx.Rows) ([]*Asset, error) {
	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// scanMatches scans rows carrying assetColumns plus a trailing score column.
func scanMatches(rows pgx.Rows) ([]*Match, error) {
	var matches []*Match
	for rows.Next() {
		var a Asset
		var typ, state string
		var content []byte
		var score float64
		err := rows.Scan(&a.ID, &a.ConnectionID, &typ, &a.CanonicalKey, &a.Version, &a.Name,
			&content, &a.ContentText, &state, &a.Author, &a.Tags, &a.ParentAssetID,
			&a.PromotedBy, &a.PromotedAt, &a.ChangeNote, &a.CreatedAt, &a.UpdatedAt, &score)
		if err != nil {
			return nil, err
		}
		a.Type = Type(typ)
		a.State = State(state)
		if len(content) > 0 {
			if err := json.Unmarshal(content, &a.Content); err != nil {
				a.Content = map[string]any{}
			}
		}
		matches = append(matches, &Match{Asset: &a, Score: score})
	}
	return matches, rows.Err()
}

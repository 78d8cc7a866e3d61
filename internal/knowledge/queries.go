package knowledge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const instructionColumns = "id, connection_id, condition_text, rules_text, is_default, created_at, updated_at"

// Queries is the pgx-backed Querier implementation.
type Queries struct {
	pool *pgxpool.Pool
}

// NewQueries creates the instruction and asset query layer on a pool.
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

func (q *Queries) InsertInstruction(ctx context.Context, ins *Instruction, embedding []float32) (uuid.UUID, time.Time, error) {
	var (
		id        uuid.UUID
		createdAt time.Time
	)
	err := q.pool.QueryRow(ctx, `
		INSERT INTO instructions (connection_id, condition_text, condition_embedding, rules_text, is_default)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		ins.ConnectionID, ins.ConditionText, pgvector.NewVector(embedding), ins.RulesText, ins.IsDefault,
	).Scan(&id, &createdAt)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return id, createdAt, nil
}

func (q *Queries) GetInstruction(ctx context.Context, id uuid.UUID) (*Instruction, error) {
	row := q.pool.QueryRow(ctx,
		"SELECT "+instructionColumns+" FROM instructions WHERE id = $1", id)

	ins, err := scanInstruction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ins, nil
}

// UpdateInstruction rewrites the instruction row. A nil embedding keeps
// the stored vector.
func (q *Queries) UpdateInstruction(ctx context.Context, ins *Instruction, embedding []float32) error {
	if embedding != nil {
		ct, err := q.pool.Exec(ctx, `
			UPDATE instructions
			SET condition_text = $2, condition_embedding = $3, rules_text = $4,
			    is_default = $5, updated_at = now()
			WHERE id = $1`,
			ins.ID, ins.ConditionText, pgvector.NewVector(embedding), ins.RulesText, ins.IsDefault)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	}

	ct, err := q.pool.Exec(ctx, `
		UPDATE instructions
		SET condition_text = $2, rules_text = $3, is_default = $4, updated_at = now()
		WHERE id = $1`,
		ins.ID, ins.ConditionText, ins.RulesText, ins.IsDefault)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) DeleteInstruction(ctx context.Context, id uuid.UUID) error {
	ct, err := q.pool.Exec(ctx, "DELETE FROM instructions WHERE id = $1", id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queries) ListInstructions(ctx context.Context, connectionID string) ([]*Instruction, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT `+instructionColumns+`
		FROM instructions
		WHERE connection_id = $1
		ORDER BY is_default DESC, created_at`,
		connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstructions(rows)
}

func (q *Queries) DefaultInstructions(ctx context.Context, connectionID string) ([]*Instruction, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT `+instructionColumns+`
		FROM instructions
		WHERE connection_id = $1 AND is_default
		ORDER BY created_at`,
		connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstructions(rows)
}

func (q *Queries) SimilarInstructions(ctx context.Context, connectionID string, embedding []float32, limit int) ([]*Instruction, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT `+instructionColumns+`,
		       1 - (condition_embedding <=> $2) AS similarity
		FROM instructions
		WHERE connection_id = $1 AND NOT is_default
		ORDER BY condition_embedding <=> $2
		LIMIT $3`,
		connectionID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Instruction
	for rows.Next() {
		var ins Instruction
		if err := rows.Scan(
			&ins.ID, &ins.ConnectionID, &ins.ConditionText, &ins.RulesText,
			&ins.IsDefault, &ins.CreatedAt, &ins.UpdatedAt, &ins.Similarity,
		); err != nil {
			return nil, err
		}
		out = append(out, &ins)
	}
	return out, rows.Err()
}

func (q *Queries) SimilarPublishedAssets(ctx context.Context, connectionID, assetType string, embedding []float32, limit int) ([]*AssetHit, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, asset_type, canonical_key, name, content_text,
		       1 - (content_embedding <=> $2) AS similarity
		FROM context_assets
		WHERE db_connection_id = $1
		  AND lifecycle_state = 'published'
		  AND ($3 = '' OR asset_type = $3)
		ORDER BY content_embedding <=> $2
		LIMIT $4`,
		connectionID, pgvector.NewVector(embedding), assetType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AssetHit
	for rows.Next() {
		var hit AssetHit
		if err := rows.Scan(
			&hit.ID, &hit.Type, &hit.CanonicalKey, &hit.Name,
			&hit.ContentText, &hit.Similarity,
		); err != nil {
			return nil, err
		}
		out = append(out, &hit)
	}
	return out, rows.Err()
}

func scanInstruction(row pgx.Row) (*Instruction, error) {
	var ins Instruction
	if err := row.Scan(
		&ins.ID, &ins.ConnectionID, &ins.ConditionText, &ins.RulesText,
		&ins.IsDefault, &ins.CreatedAt, &ins.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ins, nil
}

func scanInstructions(rows pgx.Rows) ([]*Instruction, error) {
	var out []*Instruction
	for rows.Next() {
		var ins Instruction
		if err := rows.Scan(
			&ins.ID, &ins.ConnectionID, &ins.ConditionText, &ins.RulesText,
			&ins.IsDefault, &ins.CreatedAt, &ins.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &ins)
	}
	return out, rows.Err()
}

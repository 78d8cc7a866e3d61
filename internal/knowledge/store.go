package knowledge

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/querysmith/querysmith/internal/log"
)

// Store manages the instruction lifecycle. All content changes that touch
// the condition text recompute the condition embedding so retrieval never
// ranks against stale vectors.
type Store struct {
	queries  Querier
	embedder Embedder
	logger   log.Logger
}

// NewStore creates an instruction store.
func NewStore(queries Querier, embedder Embedder, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{queries: queries, embedder: embedder, logger: logger}
}

// Create inserts a new instruction and embeds its condition text.
func (s *Store) Create(ctx context.Context, ins *Instruction) error {
	embedding, err := s.embedder.Embed(ctx, ins.ConditionText)
	if err != nil {
		return fmt.Errorf("embed condition: %w", err)
	}

	id, createdAt, err := s.queries.InsertInstruction(ctx, ins, embedding)
	if err != nil {
		return fmt.Errorf("insert instruction: %w", err)
	}
	ins.ID = id
	ins.CreatedAt = createdAt
	ins.UpdatedAt = createdAt

	s.logger.Debug("instruction created",
		"id", id,
		"connection_id", ins.ConnectionID,
		"is_default", ins.IsDefault)
	return nil
}

// Update rewrites an instruction. The condition embedding is recomputed only
// when the condition text actually changed; edits to the rules text alone
// keep the stored vector.
func (s *Store) Update(ctx context.Context, ins *Instruction) error {
	current, err := s.queries.GetInstruction(ctx, ins.ID)
	if err != nil {
		return err
	}

	var embedding []float32
	if current.ConditionText != ins.ConditionText {
		embedding, err = s.embedder.Embed(ctx, ins.ConditionText)
		if err != nil {
			return fmt.Errorf("embed condition: %w", err)
		}
	}

	if err := s.queries.UpdateInstruction(ctx, ins, embedding); err != nil {
		return fmt.Errorf("update instruction: %w", err)
	}

	s.logger.Debug("instruction updated",
		"id", ins.ID,
		"reembedded", embedding != nil)
	return nil
}

// Delete removes an instruction.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.queries.DeleteInstruction(ctx, id); err != nil {
		return err
	}
	s.logger.Debug("instruction deleted", "id", id)
	return nil
}

// Get returns a single instruction by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Instruction, error) {
	return s.queries.GetInstruction(ctx, id)
}

// List returns every instruction for a connection, defaults first.
func (s *Store) List(ctx context.Context, connectionID string) ([]*Instruction, error) {
	return s.queries.ListInstructions(ctx, connectionID)
}

// Package knowledge retrieves the domain knowledge that shapes SQL synthesis:
// conditional instructions and published context assets.
//
// Instructions are per-connection rules. Default instructions apply to every
// prompt for their connection regardless of similarity; learned instructions
// are matched against the prompt embedding and only retrieved above a
// similarity threshold. Assets are only eligible for retrieval once
// published; draft and verified assets are visible to curation tooling only.
//
// Retrieval failures wrap ErrRetrieval. Synthesis treats that as "no
// retrieved knowledge" and proceeds on prompt plus schema alone.
package knowledge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRetrieval indicates knowledge could not be retrieved (embedding provider
// or vector store failure). Callers degrade to an empty bundle.
var ErrRetrieval = errors.New("knowledge retrieval failed")

// ErrNotFound indicates the requested instruction does not exist.
var ErrNotFound = errors.New("instruction not found")

// Instruction is a conditional rule for a connection.
// Exactly one embedding exists per condition; the embedding is recomputed
// whenever the condition text changes. Default instructions carry an
// embedding too but are never selected by similarity and are excluded from
// re-embedding sweeps that target learned instructions.
type Instruction struct {
	ID            uuid.UUID
	ConnectionID  string
	ConditionText string
	RulesText     string
	IsDefault     bool
	Similarity    float64 // populated on retrieval, zero otherwise
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AssetHit is a published context asset matched against a prompt.
type AssetHit struct {
	ID           uuid.UUID
	Type         string
	CanonicalKey string
	Name         string
	ContentText  string
	Similarity   float64
}

// Bundle is the retrieved knowledge handed to the synthesis agent.
// An empty bundle is valid: the agent then works from prompt and schema.
type Bundle struct {
	Instructions []*Instruction
	Assets       []*AssetHit
}

// Empty reports whether the bundle carries no knowledge at all.
func (b *Bundle) Empty() bool {
	return b == nil || (len(b.Instructions) == 0 && len(b.Assets) == 0)
}

// Embedder is the slice of the embedding provider this package consumes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Querier defines the store operations for instructions and asset retrieval.
type Querier interface {
	InsertInstruction(ctx context.Context, ins *Instruction, embedding []float32) (uuid.UUID, time.Time, error)
	GetInstruction(ctx context.Context, id uuid.UUID) (*Instruction, error)
	UpdateInstruction(ctx context.Context, ins *Instruction, embedding []float32) error
	DeleteInstruction(ctx context.Context, id uuid.UUID) error
	ListInstructions(ctx context.Context, connectionID string) ([]*Instruction, error)

	// DefaultInstructions returns every is_default instruction for the
	// connection, oldest first.
	DefaultInstructions(ctx context.Context, connectionID string) ([]*Instruction, error)

	// SimilarInstructions returns learned (non-default) instructions ranked
	// by descending similarity to the embedding.
	SimilarInstructions(ctx context.Context, connectionID string, embedding []float32, limit int) ([]*Instruction, error)

	// SimilarPublishedAssets returns published assets ranked by descending
	// similarity; assetType "" means all types.
	SimilarPublishedAssets(ctx context.Context, connectionID, assetType string, embedding []float32, limit int) ([]*AssetHit, error)
}

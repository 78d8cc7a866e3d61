package knowledge

import (
	"context"
	"fmt"

	"github.com/querysmith/querysmith/internal/log"
)

// Retriever assembles the knowledge bundle for a prompt. One prompt
// embedding is computed and reused for both instruction and asset ranking.
type Retriever struct {
	queries   Querier
	embedder  Embedder
	threshold float64
	topK      int
	logger    log.Logger
}

// NewRetriever creates a retriever. threshold gates learned-instruction and
// asset similarity; topK caps each ranked list (defaults never count against
// the cap).
func NewRetriever(queries Querier, embedder Embedder, threshold float64, topK int, logger log.Logger) *Retriever {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{
		queries:   queries,
		embedder:  embedder,
		threshold: threshold,
		topK:      topK,
		logger:    logger,
	}
}

// Retrieve returns the knowledge bundle for a prompt: every default
// instruction for the connection, then learned instructions and published
// assets ranked by similarity above the threshold, each capped at topK.
// Any failure wraps ErrRetrieval; callers proceed with an empty bundle.
func (r *Retriever) Retrieve(ctx context.Context, connectionID, promptText string) (*Bundle, error) {
	embedding, err := r.embedder.Embed(ctx, promptText)
	if err != nil {
		return nil, fmt.Errorf("%w: embed prompt: %w", ErrRetrieval, err)
	}

	instructions, err := r.instructions(ctx, connectionID, embedding)
	if err != nil {
		return nil, err
	}

	assets, err := r.assets(ctx, connectionID, embedding)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("knowledge retrieved",
		"connection_id", connectionID,
		"instructions", len(instructions),
		"assets", len(assets))
	return &Bundle{Instructions: instructions, Assets: assets}, nil
}

// instructions returns the applicable instructions: all defaults first, then
// learned instructions above the similarity threshold in descending order.
func (r *Retriever) instructions(ctx context.Context, connectionID string, embedding []float32) ([]*Instruction, error) {
	defaults, err := r.queries.DefaultInstructions(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("%w: default instructions: %w", ErrRetrieval, err)
	}

	learned, err := r.queries.SimilarInstructions(ctx, connectionID, embedding, r.topK)
	if err != nil {
		return nil, fmt.Errorf("%w: similar instructions: %w", ErrRetrieval, err)
	}

	out := make([]*Instruction, 0, len(defaults)+len(learned))
	out = append(out, defaults...)
	for _, ins := range learned {
		if ins.Similarity >= r.threshold {
			out = append(out, ins)
		}
	}
	return out, nil
}

// assets returns published assets above the similarity threshold. Assets in
// any other lifecycle state are invisible here by construction: the query
// filters on the published state.
func (r *Retriever) assets(ctx context.Context, connectionID string, embedding []float32) ([]*AssetHit, error) {
	hits, err := r.queries.SimilarPublishedAssets(ctx, connectionID, "", embedding, r.topK)
	if err != nil {
		return nil, fmt.Errorf("%w: published assets: %w", ErrRetrieval, err)
	}

	out := make([]*AssetHit, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity >= r.threshold {
			out = append(out, hit)
		}
	}
	return out, nil
}

// Package embedding wraps a Genkit ai.Embedder as the system's single
// embedding provider.
//
// The provider is swappable by configuration (model and dimension) and is the
// only component that talks to the embedding service. Every vector written to
// the store passes through here, which is what makes embedding-model
// migrations possible: the provider knows which model produced a vector.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
)

// ErrEmbedding indicates the embedding provider failed or returned an
// unusable vector. Check with errors.Is().
var ErrEmbedding = errors.New("embedding failed")

// embedTimeout bounds a single embedding call. Embedding providers are
// fallible I/O and must never block a request indefinitely.
const embedTimeout = 10 * time.Second

// Provider generates fixed-length vectors for text.
//
// Provider is safe for concurrent use by multiple goroutines.
type Provider struct {
	embedder  ai.Embedder
	model     string
	dimension int
	logger    *slog.Logger
}

// New creates a Provider for the given embedder.
// model and dimension come from Config; dimension is enforced on every
// returned vector so a misconfigured provider fails loudly instead of
// writing unsearchable rows.
func New(embedder ai.Embedder, model string, dimension int, logger *slog.Logger) (*Provider, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		embedder:  embedder,
		model:     model,
		dimension: dimension,
		logger:    logger,
	}, nil
}

// Model returns the embedder model identifier active for this provider.
// Stored alongside cache entries so migration sweeps can tell which records
// were produced by a retired model.
func (p *Provider) Model() string {
	return p.model
}

// Dimension returns the configured vector length.
func (p *Provider) Dimension() int {
	return p.dimension
}

// Embed turns text into a fixed-length vector.
// All failures wrap ErrEmbedding.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty input text", ErrEmbedding)
	}

	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	resp, err := p.embedder.Embed(embedCtx, &ai.EmbedRequest{
		Input: []*ai.Document{
			ai.DocumentFromText(text, nil),
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timeout: %w", ErrEmbedding, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: provider returned no embedding", ErrEmbedding)
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) != p.dimension {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbedding, len(vec), p.dimension)
	}

	return vec, nil
}

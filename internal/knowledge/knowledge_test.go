package knowledge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysmith/querysmith/internal/log"
	"github.com/querysmith/querysmith/internal/testutil"
)

// memQuerier is an in-memory Querier. Similarities for learned instructions
// and assets are injected per-ID so threshold behavior is exact.
type memQuerier struct {
	mu           sync.Mutex
	instructions map[uuid.UUID]*Instruction
	assets       []*AssetHit
	similarities map[uuid.UUID]float64

	failDefaults error
	failSimilar  error
	failAssets   error
}

func newMemQuerier() *memQuerier {
	return &memQuerier{
		instructions: make(map[uuid.UUID]*Instruction),
		similarities: make(map[uuid.UUID]float64),
	}
}

func (m *memQuerier) InsertInstruction(_ context.Context, ins *Instruction, _ []float32) (uuid.UUID, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ins
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.instructions[cp.ID] = &cp
	return cp.ID, cp.CreatedAt, nil
}

func (m *memQuerier) GetInstruction(_ context.Context, id uuid.UUID) (*Instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ins, ok := m.instructions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ins
	return &cp, nil
}

func (m *memQuerier) UpdateInstruction(_ context.Context, ins *Instruction, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.instructions[ins.ID]
	if !ok {
		return ErrNotFound
	}
	stored.ConditionText = ins.ConditionText
	stored.RulesText = ins.RulesText
	stored.IsDefault = ins.IsDefault
	stored.UpdatedAt = time.Now()
	return nil
}

func (m *memQuerier) DeleteInstruction(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instructions[id]; !ok {
		return ErrNotFound
	}
	delete(m.instructions, id)
	return nil
}

func (m *memQuerier) ListInstructions(_ context.Context, connectionID string) ([]*Instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Instruction
	for _, ins := range m.instructions {
		if ins.ConnectionID == connectionID {
			cp := *ins
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memQuerier) DefaultInstructions(_ context.Context, connectionID string) ([]*Instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDefaults != nil {
		return nil, m.failDefaults
	}
	var out []*Instruction
	for _, ins := range m.instructions {
		if ins.ConnectionID == connectionID && ins.IsDefault {
			cp := *ins
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memQuerier) SimilarInstructions(_ context.Context, connectionID string, _ []float32, limit int) ([]*Instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSimilar != nil {
		return nil, m.failSimilar
	}
	var out []*Instruction
	for _, ins := range m.instructions {
		if ins.ConnectionID != connectionID || ins.IsDefault {
			continue
		}
		cp := *ins
		cp.Similarity = m.similarities[ins.ID]
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memQuerier) SimilarPublishedAssets(_ context.Context, connectionID, assetType string, _ []float32, limit int) ([]*AssetHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAssets != nil {
		return nil, m.failAssets
	}
	var out []*AssetHit
	for _, hit := range m.assets {
		if assetType != "" && hit.Type != assetType {
			continue
		}
		cp := *hit
		cp.Similarity = m.similarities[hit.ID]
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestRetriever_Retrieve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("defaults always included, learned filtered by threshold", func(t *testing.T) {
		t.Parallel()
		queries := newMemQuerier()
		store := NewStore(queries, testutil.NewMockEmbedder(8), log.NewNop())

		def := &Instruction{ConnectionID: "conn-1", ConditionText: "always", RulesText: "exclude soft-deleted rows", IsDefault: true}
		require.NoError(t, store.Create(ctx, def))

		above := &Instruction{ConnectionID: "conn-1", ConditionText: "questions about revenue", RulesText: "use amounts in cents"}
		require.NoError(t, store.Create(ctx, above))
		queries.similarities[above.ID] = 0.85

		below := &Instruction{ConnectionID: "conn-1", ConditionText: "questions about inventory", RulesText: "warehouse only"}
		require.NoError(t, store.Create(ctx, below))
		queries.similarities[below.ID] = 0.40

		r := NewRetriever(queries, testutil.NewMockEmbedder(8), 0.75, 4, log.NewNop())
		bundle, err := r.Retrieve(ctx, "conn-1", "what was last month's revenue")
		require.NoError(t, err)

		require.Len(t, bundle.Instructions, 2)
		assert.True(t, bundle.Instructions[0].IsDefault) // defaults come first
		assert.Equal(t, above.ID, bundle.Instructions[1].ID)
	})

	t.Run("only published assets above threshold", func(t *testing.T) {
		t.Parallel()
		queries := newMemQuerier()
		hot := &AssetHit{ID: uuid.New(), Type: "glossary", CanonicalKey: "term:active_user", Name: "Active User", ContentText: "def"}
		cold := &AssetHit{ID: uuid.New(), Type: "glossary", CanonicalKey: "term:churn", Name: "Churn", ContentText: "def"}
		queries.assets = []*AssetHit{hot, cold}
		queries.similarities[hot.ID] = 0.9
		queries.similarities[cold.ID] = 0.2

		r := NewRetriever(queries, testutil.NewMockEmbedder(8), 0.75, 4, log.NewNop())
		bundle, err := r.Retrieve(ctx, "conn-1", "how many active users")
		require.NoError(t, err)

		require.Len(t, bundle.Assets, 1)
		assert.Equal(t, hot.ID, bundle.Assets[0].ID)
	})

	t.Run("embedding failure wraps ErrRetrieval", func(t *testing.T) {
		t.Parallel()
		embedder := testutil.NewMockEmbedder(8)
		embedder.FailWith(errors.New("provider down"))

		r := NewRetriever(newMemQuerier(), embedder, 0.75, 4, log.NewNop())
		_, err := r.Retrieve(ctx, "conn-1", "anything")
		assert.ErrorIs(t, err, ErrRetrieval)
	})

	t.Run("store failure wraps ErrRetrieval", func(t *testing.T) {
		t.Parallel()
		queries := newMemQuerier()
		queries.failAssets = errors.New("db down")

		r := NewRetriever(queries, testutil.NewMockEmbedder(8), 0.75, 4, log.NewNop())
		_, err := r.Retrieve(ctx, "conn-1", "anything")
		assert.ErrorIs(t, err, ErrRetrieval)
	})

	t.Run("empty bundle is valid", func(t *testing.T) {
		t.Parallel()
		r := NewRetriever(newMemQuerier(), testutil.NewMockEmbedder(8), 0.75, 4, log.NewNop())
		bundle, err := r.Retrieve(ctx, "conn-1", "anything")
		require.NoError(t, err)
		assert.True(t, bundle.Empty())
	})
}

func TestStore_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("condition change re-embeds", func(t *testing.T) {
		t.Parallel()
		queries := newMemQuerier()
		embedder := testutil.NewMockEmbedder(8)
		store := NewStore(queries, embedder, log.NewNop())

		ins := &Instruction{ConnectionID: "conn-1", ConditionText: "about revenue", RulesText: "cents"}
		require.NoError(t, store.Create(ctx, ins))

		before := embedder.Calls()
		ins.ConditionText = "about gross revenue"
		require.NoError(t, store.Update(ctx, ins))
		assert.Equal(t, before+1, embedder.Calls())
	})

	t.Run("rules-only change keeps embedding", func(t *testing.T) {
		t.Parallel()
		queries := newMemQuerier()
		embedder := testutil.NewMockEmbedder(8)
		store := NewStore(queries, embedder, log.NewNop())

		ins := &Instruction{ConnectionID: "conn-1", ConditionText: "about revenue", RulesText: "cents"}
		require.NoError(t, store.Create(ctx, ins))

		before := embedder.Calls()
		ins.RulesText = "amounts are stored in cents, divide by 100"
		require.NoError(t, store.Update(ctx, ins))
		assert.Equal(t, before, embedder.Calls())
	})

	t.Run("missing instruction", func(t *testing.T) {
		t.Parallel()
		store := NewStore(newMemQuerier(), testutil.NewMockEmbedder(8), log.NewNop())
		err := store.Update(ctx, &Instruction{ID: uuid.New()})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

package asset

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Embedder is the slice of the embedding provider the manager consumes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Querier defines the store operations the manager needs.
// The pgx implementation lives in queries.go; tests use an in-memory mock.
type Querier interface {
	InsertAsset(ctx context.Context, a *Asset, embedding []float32) (uuid.UUID, time.Time, error)
	GetAssetByID(ctx context.Context, id uuid.UUID) (*Asset, error)
	GetAssetVersion(ctx context.Context, connectionID string, typ Type, key string, version int) (*Asset, error)
	ListAssetVersions(ctx context.Context, connectionID string, typ Type, key string) ([]*Asset, error)
	ListAssets(ctx context.Context, connectionID string, typ Type) ([]*Asset, error)

	// GetAssetEmbedding returns the stored content embedding for a version;
	// used by Revise to copy content verbatim without re-embedding.
	GetAssetEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error)

	// UpdateAssetState performs a compare-and-set on lifecycle_state and
	// reports whether a row was updated. A false return means the state no
	// longer matched expected.
	UpdateAssetState(ctx context.Context, id uuid.UUID, expected, next State, promotedBy, note string) (bool, error)

	// UpdateDraftAsset rewrites the mutable fields of a draft row and reports
	// whether a row in draft state was updated.
	UpdateDraftAsset(ctx context.Context, a *Asset, embedding []float32) (bool, error)

	// DeleteDraftAsset deletes the row iff it is in draft state and reports
	// whether a row was deleted. The second return distinguishes "not found"
	// from "found but not draft".
	DeleteDraftAsset(ctx context.Context, id uuid.UUID) (deleted bool, exists bool, err error)

	SemanticSearch(ctx context.Context, connectionID string, typ Type, embedding []float32, limit int) ([]*Match, error)
	KeywordSearch(ctx context.Context, connectionID string, typ Type, query string, limit int) ([]*Match, error)
}

// Match is one ranked search result.
type Match struct {
	Asset     *Asset
	Score     float64
	MatchType string // "semantic", "keyword", or "hybrid"
}

// Match type values returned by Manager.Search.
const (
	MatchSemantic = "semantic"
	MatchKeyword  = "keyword"
	MatchHybrid   = "hybrid"
)

// Manager owns the asset lifecycle. It is the sole mutator of
// lifecycle_state; no other component writes to context_assets.
//
// Manager is safe for concurrent use. Concurrent promotions of the same
// asset serialize through compare-and-set: the loser observes ErrStateChanged.
type Manager struct {
	queries  Querier
	embedder Embedder
	logger   *slog.Logger
}

// NewManager creates a Manager.
func NewManager(queries Querier, embedder Embedder, logger *slog.Logger) (*Manager, error) {
	if queries == nil {
		return nil, fmt.Errorf("querier is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{queries: queries, embedder: embedder, logger: logger}, nil
}

// CreateParams holds the fields for a new version-1 asset.
type CreateParams struct {
	ConnectionID string
	Type         Type
	CanonicalKey string
	Name         string
	Content      map[string]any
	ContentText  string
	Author       string
	Tags         []string
}

// Create makes a new asset in draft state at version 1.
// New versions of an existing canonical key go through Revise instead.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Asset, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("invalid asset type %q", p.Type)
	}
	if p.CanonicalKey == "" {
		return nil, fmt.Errorf("canonical key is required")
	}
	if p.ContentText == "" {
		return nil, fmt.Errorf("content text is required")
	}

	existing, err := m.queries.ListAssetVersions(ctx, p.ConnectionID, p.Type, p.CanonicalKey)
	if err != nil {
		return nil, fmt.Errorf("checking existing versions: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: %s/%s/%s has %d version(s), use revise",
			ErrAlreadyExists, p.ConnectionID, p.Type, p.CanonicalKey, len(existing))
	}

	vec, err := m.embedder.Embed(ctx, p.ContentText)
	if err != nil {
		return nil, fmt.Errorf("embedding content: %w", err)
	}

	a := &Asset{
		ConnectionID: p.ConnectionID,
		Type:         p.Type,
		CanonicalKey: p.CanonicalKey,
		Version:      1,
		Name:         p.Name,
		Content:      p.Content,
		ContentText:  p.ContentText,
		State:        StateDraft,
		Author:       p.Author,
		Tags:         p.Tags,
	}

	id, createdAt, err := m.queries.InsertAsset(ctx, a, vec)
	if err != nil {
		return nil, fmt.Errorf("inserting asset: %w", err)
	}
	a.ID = id
	a.CreatedAt = createdAt
	a.UpdatedAt = createdAt

	m.logger.Debug("created asset",
		"id", a.ID, "type", a.Type, "canonical_key", a.CanonicalKey)
	return a, nil
}

// Promote moves an asset forward through the lifecycle.
// Legal targets are verified (from draft) and published (from verified);
// everything else is rejected by the transition table. The write is a
// compare-and-set against the state observed at read time.
func (m *Manager) Promote(ctx context.Context, id uuid.UUID, target State, promotedBy, note string) (*Asset, error) {
	act, err := targetAction(target)
	if err != nil {
		return nil, err
	}

	a, err := m.queries.GetAssetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := transition(a.State, act)
	if err != nil {
		return nil, err
	}

	updated, err := m.queries.UpdateAssetState(ctx, id, a.State, next, promotedBy, note)
	if err != nil {
		return nil, fmt.Errorf("promoting asset %s: %w", id, err)
	}
	if !updated {
		return nil, fmt.Errorf("%w: asset %s no longer in %q", ErrStateChanged, id, a.State)
	}

	m.logger.Info("promoted asset",
		"id", id, "from", a.State, "to", next, "by", promotedBy)
	return m.queries.GetAssetByID(ctx, id)
}

// Deprecate retires an asset. Legal from published, and from verified for
// unused assets per curation policy.
func (m *Manager) Deprecate(ctx context.Context, id uuid.UUID, by, reason string) (*Asset, error) {
	a, err := m.queries.GetAssetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := transition(a.State, actionDeprecate)
	if err != nil {
		return nil, err
	}

	updated, err := m.queries.UpdateAssetState(ctx, id, a.State, next, by, reason)
	if err != nil {
		return nil, fmt.Errorf("deprecating asset %s: %w", id, err)
	}
	if !updated {
		return nil, fmt.Errorf("%w: asset %s no longer in %q", ErrStateChanged, id, a.State)
	}

	m.logger.Info("deprecated asset", "id", id, "by", by, "reason", reason)
	return m.queries.GetAssetByID(ctx, id)
}

// Revise creates a new draft revision of an asset from any state.
// The new row gets an incremented version, parent_asset_id pointing at the
// source, and the source's content copied verbatim (embedding included, since
// the content has not changed). The original asset is untouched.
func (m *Manager) Revise(ctx context.Context, id uuid.UUID, author string) (*Asset, error) {
	src, err := m.queries.GetAssetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	versions, err := m.queries.ListAssetVersions(ctx, src.ConnectionID, src.Type, src.CanonicalKey)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	maxVersion := src.Version
	for _, v := range versions {
		if v.Version > maxVersion {
			maxVersion = v.Version
		}
	}

	vec, err := m.queries.GetAssetEmbedding(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading source embedding: %w", err)
	}

	parentID := src.ID
	revision := &Asset{
		ConnectionID:  src.ConnectionID,
		Type:          src.Type,
		CanonicalKey:  src.CanonicalKey,
		Version:       maxVersion + 1,
		Name:          src.Name,
		Content:       src.Content,
		ContentText:   src.ContentText,
		State:         StateDraft,
		Author:        author,
		Tags:          src.Tags,
		ParentAssetID: &parentID,
	}

	newID, createdAt, err := m.queries.InsertAsset(ctx, revision, vec)
	if err != nil {
		return nil, fmt.Errorf("inserting revision: %w", err)
	}
	revision.ID = newID
	revision.CreatedAt = createdAt
	revision.UpdatedAt = createdAt

	m.logger.Debug("created revision",
		"id", revision.ID, "parent_id", parentID, "version", revision.Version)
	return revision, nil
}

// UpdateParams holds the mutable fields of a draft asset.
// Nil pointers leave the field unchanged.
type UpdateParams struct {
	Name        *string
	Content     map[string]any
	ContentText *string
	Tags        []string
}

// Update mutates a draft asset in place.
// Any other state is rejected; the error names the rule violated.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (*Asset, error) {
	a, err := m.queries.GetAssetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.State != StateDraft {
		return nil, fmt.Errorf("%w: only DRAFT assets can be updated, asset is %q", ErrInvalidState, a.State)
	}

	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Content != nil {
		a.Content = p.Content
	}
	if p.Tags != nil {
		a.Tags = p.Tags
	}

	var vec []float32
	if p.ContentText != nil && *p.ContentText != a.ContentText {
		a.ContentText = *p.ContentText
		vec, err = m.embedder.Embed(ctx, a.ContentText)
		if err != nil {
			return nil, fmt.Errorf("embedding content: %w", err)
		}
	} else {
		vec, err = m.queries.GetAssetEmbedding(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading embedding: %w", err)
		}
	}

	updated, err := m.queries.UpdateDraftAsset(ctx, a, vec)
	if err != nil {
		return nil, fmt.Errorf("updating asset %s: %w", id, err)
	}
	if !updated {
		// The asset left draft between our read and write.
		return nil, fmt.Errorf("%w: only DRAFT assets can be updated", ErrInvalidState)
	}

	return m.queries.GetAssetByID(ctx, id)
}

// Delete removes a draft asset. Any other state is rejected.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	deleted, exists, err := m.queries.DeleteDraftAsset(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting asset %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !deleted {
		return fmt.Errorf("%w: only DRAFT assets can be deleted", ErrInvalidState)
	}

	m.logger.Debug("deleted draft asset", "id", id)
	return nil
}

// Get resolves an asset by identity and version string.
// version "latest" resolves to the highest published or verified version.
// Drafts are in-progress work and never shadow a promoted sibling; a draft
// is returned only when no version has ever been promoted, and the highest
// version overall is the fallback when everything is deprecated. Explicit
// version strings fetch exactly that version or ErrNotFound.
func (m *Manager) Get(ctx context.Context, connectionID string, typ Type, key, version string) (*Asset, error) {
	if version != VersionLatest {
		n, err := strconv.Atoi(version)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid version %q", ErrNotFound, version)
		}
		return m.queries.GetAssetVersion(ctx, connectionID, typ, key, n)
	}

	versions, err := m.queries.ListAssetVersions(ctx, connectionID, typ, key)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNotFound, connectionID, typ, key)
	}

	var latest, latestDraft, latestPromoted *Asset
	for _, v := range versions {
		if latest == nil || v.Version > latest.Version {
			latest = v
		}
		switch v.State {
		case StateDraft:
			if latestDraft == nil || v.Version > latestDraft.Version {
				latestDraft = v
			}
		case StateVerified, StatePublished:
			if latestPromoted == nil || v.Version > latestPromoted.Version {
				latestPromoted = v
			}
		}
	}
	if latestPromoted != nil {
		return latestPromoted, nil
	}
	if latestDraft != nil {
		return latestDraft, nil
	}
	return latest, nil
}

// List returns all versions of all assets for a connection, optionally
// filtered by type. Curation tooling sees every state; prompt-facing
// retrieval goes through knowledge.Retriever and sees published only.
func (m *Manager) List(ctx context.Context, connectionID string, typ Type) ([]*Asset, error) {
	return m.queries.ListAssets(ctx, connectionID, typ)
}

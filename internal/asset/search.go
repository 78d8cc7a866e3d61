package asset

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// searchLimit caps results per retrieval mode before merging.
const searchLimit = 10

// Search returns assets ranked against a free-text query.
// Semantic and keyword retrieval run independently; an asset found by both
// is reported once as a hybrid match carrying the higher score. Results span
// all lifecycle states — Search serves curation tooling, not prompts.
func (m *Manager) Search(ctx context.Context, connectionID, query string, typ Type) ([]*Match, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	var semantic []*Match
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		// Degrade to keyword-only rather than failing the search.
		m.logger.Warn("semantic search unavailable", "error", err)
	} else {
		semantic, err = m.queries.SemanticSearch(ctx, connectionID, typ, vec, searchLimit)
		if err != nil {
			return nil, fmt.Errorf("semantic search: %w", err)
		}
	}

	keyword, err := m.queries.KeywordSearch(ctx, connectionID, typ, query, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	merged := make(map[uuid.UUID]*Match, len(semantic)+len(keyword))
	for _, match := range semantic {
		match.MatchType = MatchSemantic
		merged[match.Asset.ID] = match
	}
	for _, match := range keyword {
		if existing, ok := merged[match.Asset.ID]; ok {
			existing.MatchType = MatchHybrid
			if match.Score > existing.Score {
				existing.Score = match.Score
			}
			continue
		}
		match.MatchType = MatchKeyword
		merged[match.Asset.ID] = match
	}

	results := make([]*Match, 0, len(merged))
	for _, match := range merged {
		results = append(results, match)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Asset.ID.String() < results[j].Asset.ID.String()
	})

	if len(results) > searchLimit {
		results = results[:searchLimit]
	}
	return results, nil
}

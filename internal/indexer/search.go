package indexer

import (
	"context"
	"fmt"
	"sort"

	"github.com/gitvec/gitvec/internal/store"
)

// SearchOptions controls one query.
type SearchOptions struct {
	TopK   int
	Hybrid bool // blend in text index hits when a text index is attached
}

// Search embeds the query and returns the nearest visible chunks on the
// current branch.
func (s *SmartIndexer) Search(ctx context.Context, query string, opts SearchOptions) ([]store.SearchResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	branch, _, isRepo := s.resolveBranch()
	if !isRepo {
		branch = localBranch
	}

	vecs, err := s.provider.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}

	results, err := s.store.SearchSimilar(ctx, vecs[0], branch, opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	if opts.Hybrid && s.text != nil {
		results = s.blendTextHits(query, results, opts.TopK)
	}
	return results, nil
}

// blendTextHits boosts vector hits whose file also matches the keyword
// index. Keyword-only files are appended with a floor score so they sort
// after every vector hit.
func (s *SmartIndexer) blendTextHits(query string, vector []store.SearchResult, topK int) []store.SearchResult {
	textHits, err := s.text.Search(query, topK)
	if err != nil {
		s.log.Warn().Err(err).Msg("text search failed, returning vector results only")
		return vector
	}

	matched := make(map[string]bool, len(textHits))
	for _, h := range textHits {
		matched[h.Path] = true
	}

	out := make([]store.SearchResult, 0, len(vector))
	seen := make(map[string]bool, len(vector))
	for _, r := range vector {
		if matched[r.FilePath] {
			r.Score *= 1.1
		}
		out = append(out, r)
		seen[r.FilePath] = true
	}
	for _, h := range textHits {
		if seen[h.Path] {
			continue
		}
		out = append(out, store.SearchResult{FilePath: h.Path, Score: 0.01})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

package store

import (
	"context"
	"fmt"
	"net/http"
)

// IndexMode selects the payload-index strategy for a call site. Indexing
// runs create missing indexes up front, admin checks verify without
// mutating, and query paths assume the indexing run already ran.
type IndexMode int

const (
	IndexModeCreate IndexMode = iota
	IndexModeVerify
	IndexModeQuery
)

func (m IndexMode) String() string {
	switch m {
	case IndexModeCreate:
		return "create"
	case IndexModeVerify:
		return "verify"
	case IndexModeQuery:
		return "query"
	}
	return fmt.Sprintf("IndexMode(%d)", int(m))
}

// payloadFields are the filterable point attributes both backends index.
var payloadFields = []string{"file_path", "content_hash", "gen", "visible_branches"}

type indexEnsurer interface {
	ensureIndexes(ctx context.Context, mode IndexMode) error
}

// EnsureIndexes prepares (or checks) the payload indexes the filter paths
// rely on. Backends without the concept treat every mode as a no-op.
func EnsureIndexes(ctx context.Context, s Store, mode IndexMode) error {
	if mode == IndexModeQuery {
		return nil
	}
	e, ok := s.(indexEnsurer)
	if !ok {
		return nil
	}
	return e.ensureIndexes(ctx, mode)
}

func (s *LocalStore) ensureIndexes(ctx context.Context, mode IndexMode) error {
	switch mode {
	case IndexModeCreate:
		return s.initSchema()
	case IndexModeVerify:
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, name := range []string{"idx_points_file", "idx_points_hash"} {
			var found string
			err := s.db.QueryRowContext(ctx,
				`SELECT name FROM sqlite_master WHERE type = 'index' AND name = ?`, name).Scan(&found)
			if err != nil {
				return fmt.Errorf("verify index %s: %w", name, err)
			}
		}
		return nil
	}
	return nil
}

func (s *QdrantStore) ensureIndexes(ctx context.Context, mode IndexMode) error {
	switch mode {
	case IndexModeCreate:
		for _, field := range payloadFields {
			req := map[string]any{
				"field_name":   field,
				"field_schema": "keyword",
			}
			if _, err := s.doRequest(ctx, http.MethodPut, "/collections/"+s.collection+"/index?wait=true", req); err != nil {
				return fmt.Errorf("create payload index %s: %w", field, err)
			}
		}
		return nil
	case IndexModeVerify:
		_, err := s.doRequest(ctx, http.MethodGet, "/collections/"+s.collection, nil)
		if err != nil {
			return fmt.Errorf("verify collection: %w", err)
		}
		return nil
	}
	return nil
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gitvec/gitvec/internal/config"
)

// QdrantStore implements Store against the Qdrant REST API.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

// NewQdrantStore builds a Qdrant-backed Store from config.
func NewQdrantStore(cfg config.StoreConfig) *QdrantStore {
	return &QdrantStore{
		baseURL:    strings.TrimRight(cfg.QdrantURL, "/"),
		apiKey:     cfg.QdrantAPIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, dims int) error {
	_, err := s.doRequest(ctx, http.MethodGet, "/collections/"+s.collection, nil)
	if err == nil {
		return nil
	}
	req := map[string]any{
		"vectors": map[string]any{
			"size":     dims,
			"distance": "Cosine",
		},
	}
	_, err = s.doRequest(ctx, http.MethodPut, "/collections/"+s.collection, req)
	return err
}

func (s *QdrantStore) UpsertPoints(ctx context.Context, points []Point) error {
	return s.upsert(ctx, points, "")
}

func (s *QdrantStore) upsert(ctx context.Context, points []Point, gen string) error {
	if len(points) == 0 {
		return nil
	}
	req := map[string]any{"points": pointBodies(points, gen)}
	_, err := s.doRequest(ctx, http.MethodPut, "/collections/"+s.collection+"/points?wait=true", req)
	return err
}

// ReplaceFilePoints swaps the file's point set in a single batch-update
// request: the new generation is upserted and the superseded point IDs are
// deleted in one wait=true call, so a concurrent reader never sees the old
// and new sets together. Surviving point IDs keep their durable visibility
// set; the incoming branches are merged in, not written over it.
func (s *QdrantStore) ReplaceFilePoints(ctx context.Context, filePath string, points []Point) error {
	gen := fmt.Sprintf("%d", time.Now().UnixNano())

	keep := make(map[string]bool, len(points))
	for _, p := range points {
		keep[p.ID] = true
	}
	existing := make(map[string][]string)
	var staleIDs []string
	err := s.scroll(ctx, mustFilter(matchFilter("file_path", filePath)), false, func(p Point) error {
		existing[p.ID] = p.VisibleBranches
		if !keep[p.ID] {
			staleIDs = append(staleIDs, p.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	merged := make([]Point, len(points))
	for i, p := range points {
		if prev, ok := existing[p.ID]; ok {
			p.VisibleBranches = mergeBranches(prev, p.VisibleBranches)
		}
		merged[i] = p
	}

	var ops []map[string]any
	if len(merged) > 0 {
		ops = append(ops, map[string]any{
			"upsert": map[string]any{"points": pointBodies(merged, gen)},
		})
	}
	if len(staleIDs) > 0 {
		ops = append(ops, map[string]any{
			"delete": map[string]any{"points": staleIDs},
		})
	}
	if len(ops) == 0 {
		return nil
	}
	req := map[string]any{"operations": ops}
	_, err = s.doRequest(ctx, http.MethodPost, "/collections/"+s.collection+"/points/batch?wait=true", req)
	return err
}

func (s *QdrantStore) DeleteFilePoints(ctx context.Context, filePath string) error {
	return s.deleteByFilter(ctx, mustFilter(matchFilter("file_path", filePath)))
}

func (s *QdrantStore) HidePointsForBranch(ctx context.Context, contentHashes []string, branch string) error {
	return s.mutateVisibility(ctx, contentHashes, branch, false)
}

func (s *QdrantStore) ShowPointsForBranch(ctx context.Context, contentHashes []string, branch string) error {
	return s.mutateVisibility(ctx, contentHashes, branch, true)
}

func (s *QdrantStore) mutateVisibility(ctx context.Context, contentHashes []string, branch string, show bool) error {
	if len(contentHashes) == 0 {
		return nil
	}
	filter := mustFilter(anyFilter("content_hash", contentHashes))
	var failed error
	err := s.scroll(ctx, filter, false, func(p Point) error {
		branches := p.VisibleBranches
		if show {
			if containsBranch(branches, branch) {
				return nil
			}
			branches = append(branches, branch)
		} else {
			if !containsBranch(branches, branch) {
				return nil
			}
			branches = withoutBranch(branches, branch)
		}
		req := map[string]any{
			"payload": map[string]any{"visible_branches": branches},
			"points":  []string{p.ID},
		}
		if _, err := s.doRequest(ctx, http.MethodPost,
			"/collections/"+s.collection+"/points/payload?wait=true", req); err != nil {
			failed = err
		}
		return nil
	})
	if err != nil {
		return err
	}
	return failed
}

func (s *QdrantStore) ScrollPoints(ctx context.Context, filter ScrollFilter, fn func(Point) error) error {
	var conditions []map[string]any
	if filter.FilePath != "" {
		conditions = append(conditions, matchFilter("file_path", filter.FilePath))
	}
	if filter.Branch != "" {
		conditions = append(conditions, matchFilter("visible_branches", filter.Branch))
	}
	var qf map[string]any
	if len(conditions) > 0 {
		qf = mustFilter(conditions...)
	}
	return s.scroll(ctx, qf, filter.WithVectors, fn)
}

func (s *QdrantStore) scroll(ctx context.Context, filter map[string]any, withVectors bool, fn func(Point) error) error {
	var offset any
	for {
		req := map[string]any{
			"limit":        256,
			"with_payload": true,
			"with_vector":  withVectors,
		}
		if filter != nil {
			req["filter"] = filter
		}
		if offset != nil {
			req["offset"] = offset
		}
		data, err := s.doRequest(ctx, http.MethodPost, "/collections/"+s.collection+"/points/scroll", req)
		if err != nil {
			return err
		}
		var parsed struct {
			Result struct {
				Points []struct {
					ID      any            `json:"id"`
					Payload map[string]any `json:"payload"`
					Vector  []float32      `json:"vector"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return err
		}
		for _, item := range parsed.Result.Points {
			p := pointFromPayload(fmt.Sprintf("%v", item.ID), item.Payload)
			p.Vector = item.Vector
			if err := fn(p); err != nil {
				return err
			}
		}
		if parsed.Result.NextPageOffset == nil {
			return nil
		}
		offset = parsed.Result.NextPageOffset
	}
}

func (s *QdrantStore) SearchSimilar(ctx context.Context, vector []float32, branch string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if branch != "" {
		req["filter"] = mustFilter(matchFilter("visible_branches", branch))
	}
	data, err := s.doRequest(ctx, http.MethodPost, "/collections/"+s.collection+"/points/search", req)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(parsed.Result))
	for _, item := range parsed.Result {
		p := pointFromPayload(fmt.Sprintf("%v", item.ID), item.Payload)
		results = append(results, SearchResult{
			ID:          p.ID,
			ContentHash: p.ContentHash,
			FilePath:    p.FilePath,
			ChunkIndex:  p.ChunkIndex,
			StartLine:   p.StartLine,
			EndLine:     p.EndLine,
			Score:       item.Score,
		})
	}
	return results, nil
}

func (s *QdrantStore) deleteByFilter(ctx context.Context, filter map[string]any) error {
	if len(filter) == 0 {
		return nil
	}
	req := map[string]any{"filter": filter}
	_, err := s.doRequest(ctx, http.MethodPost, "/collections/"+s.collection+"/points/delete?wait=true", req)
	return err
}

func (s *QdrantStore) Close() error { return nil }

func (s *QdrantStore) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buf = bytes.NewBuffer(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qdrant status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func pointBodies(points []Point, gen string) []map[string]any {
	bodies := make([]map[string]any, 0, len(points))
	for _, p := range points {
		bodies = append(bodies, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": pointPayload(p, gen),
		})
	}
	return bodies
}

func pointPayload(p Point, gen string) map[string]any {
	payload := map[string]any{
		"content_hash":     p.ContentHash,
		"file_path":        p.FilePath,
		"chunk_index":      p.ChunkIndex,
		"start_line":       p.StartLine,
		"end_line":         p.EndLine,
		"visible_branches": p.VisibleBranches,
		"source_ref":       p.SourceRef,
		"indexed_at":       p.IndexedAt,
	}
	if gen != "" {
		payload["gen"] = gen
	}
	return payload
}

func pointFromPayload(id string, payload map[string]any) Point {
	p := Point{
		ID:          id,
		ContentHash: payloadString(payload, "content_hash"),
		FilePath:    payloadString(payload, "file_path"),
		ChunkIndex:  int(payloadInt64(payload, "chunk_index")),
		StartLine:   int(payloadInt64(payload, "start_line")),
		EndLine:     int(payloadInt64(payload, "end_line")),
		SourceRef:   payloadString(payload, "source_ref"),
		IndexedAt:   payloadInt64(payload, "indexed_at"),
	}
	if raw, ok := payload["visible_branches"].([]any); ok {
		for _, v := range raw {
			if b, ok := v.(string); ok {
				p.VisibleBranches = append(p.VisibleBranches, b)
			}
		}
	}
	return p
}

func matchFilter(key string, value any) map[string]any {
	return map[string]any{
		"key": key,
		"match": map[string]any{
			"value": value,
		},
	}
}

func anyFilter(key string, values []string) map[string]any {
	return map[string]any{
		"key": key,
		"match": map[string]any{
			"any": values,
		},
	}
}

func mustFilter(conditions ...map[string]any) map[string]any {
	return map[string]any{
		"must": conditions,
	}
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	val, ok := payload[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func payloadInt64(payload map[string]any, key string) int64 {
	if payload == nil {
		return 0
	}
	val, ok := payload[key]
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	default:
		return 0
	}
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/gitvec/gitvec/internal/logging"
)

// LocalStore is a sqlite-backed Store for fully local operation. Writes are
// serialized behind a mutex; per-file replacement runs in one transaction so
// readers see either the old or the new point set, never a mix.
type LocalStore struct {
	db         *sql.DB
	collection string
	mu         sync.Mutex
	log        zerolog.Logger
}

// NewLocalStore opens (or creates) the store under dir.
func NewLocalStore(dir, collection string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("local store path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "points.db"))
	if err != nil {
		return nil, fmt.Errorf("open point db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	s := &LocalStore{db: db, collection: collection, log: logging.For("localstore")}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) initSchema() error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
	}
	for _, stmt := range pragmas {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init point db: %w", err)
		}
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS points (
			id TEXT PRIMARY KEY,
			collection TEXT,
			content_hash TEXT,
			file_path TEXT,
			chunk_index INTEGER,
			start_line INTEGER,
			end_line INTEGER,
			source_ref TEXT,
			indexed_at INTEGER,
			gen TEXT,
			visible_branches TEXT,
			vector TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_points_file ON points (collection, file_path);`,
		`CREATE INDEX IF NOT EXISTS idx_points_hash ON points (collection, content_hash);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init point db: %w", err)
		}
	}
	return nil
}

func (s *LocalStore) EnsureCollection(ctx context.Context, dims int) error {
	return s.initSchema()
}

func (s *LocalStore) UpsertPoints(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.upsertTx(ctx, tx, points, ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ReplaceFilePoints performs the two-phase swap in one transaction: stage the
// new point set under a fresh generation marker, then remove the superseded
// generation for the file. Surviving point IDs keep their durable visibility
// set; the incoming branches are merged in, not written over it.
func (s *LocalStore) ReplaceFilePoints(ctx context.Context, filePath string, points []Point) error {
	gen := fmt.Sprintf("%d", time.Now().UnixNano())
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	existing, err := s.fileBranchesTx(ctx, tx, filePath)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	merged := make([]Point, len(points))
	for i, p := range points {
		if prev, ok := existing[p.ID]; ok {
			p.VisibleBranches = mergeBranches(prev, p.VisibleBranches)
		}
		merged[i] = p
	}
	if err := s.upsertTx(ctx, tx, merged, gen); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM points WHERE collection = ? AND file_path = ? AND gen != ?`,
		s.collection, filePath, gen); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// fileBranchesTx reads the file's current visibility sets, keyed by point ID.
func (s *LocalStore) fileBranchesTx(ctx context.Context, tx *sql.Tx, filePath string) (map[string][]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, visible_branches FROM points WHERE collection = ? AND file_path = ?`,
		s.collection, filePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var id, branchesJSON string
		if err := rows.Scan(&id, &branchesJSON); err != nil {
			return nil, err
		}
		var branches []string
		if branchesJSON != "" {
			if err := json.Unmarshal([]byte(branchesJSON), &branches); err != nil {
				return nil, err
			}
		}
		out[id] = branches
	}
	return out, rows.Err()
}

func (s *LocalStore) upsertTx(ctx context.Context, tx *sql.Tx, points []Point, gen string) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO points
		(id, collection, content_hash, file_path, chunk_index, start_line, end_line,
		 source_ref, indexed_at, gen, visible_branches, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		branchesJSON, err := json.Marshal(p.VisibleBranches)
		if err != nil {
			return err
		}
		vectorJSON, err := encodeVector(p.Vector)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, s.collection, p.ContentHash, p.FilePath, p.ChunkIndex,
			p.StartLine, p.EndLine, p.SourceRef, p.IndexedAt, gen,
			string(branchesJSON), vectorJSON,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *LocalStore) DeleteFilePoints(ctx context.Context, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM points WHERE collection = ? AND file_path = ?`, s.collection, filePath)
	return err
}

func (s *LocalStore) HidePointsForBranch(ctx context.Context, contentHashes []string, branch string) error {
	return s.mutateVisibility(ctx, contentHashes, branch, false)
}

func (s *LocalStore) ShowPointsForBranch(ctx context.Context, contentHashes []string, branch string) error {
	return s.mutateVisibility(ctx, contentHashes, branch, true)
}

// mutateVisibility rewrites only the visible_branches column; embeddings are
// never touched.
func (s *LocalStore) mutateVisibility(ctx context.Context, contentHashes []string, branch string, show bool) error {
	if len(contentHashes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	query, args := buildInClause(
		`SELECT id, visible_branches FROM points WHERE collection = ? AND content_hash IN (%s)`,
		contentHashes)
	args = append([]any{s.collection}, args...)
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	type update struct {
		id       string
		branches []string
	}
	var updates []update
	for rows.Next() {
		var id, branchesJSON string
		if err := rows.Scan(&id, &branchesJSON); err != nil {
			_ = rows.Close()
			_ = tx.Rollback()
			return err
		}
		var branches []string
		if branchesJSON != "" {
			if err := json.Unmarshal([]byte(branchesJSON), &branches); err != nil {
				_ = rows.Close()
				_ = tx.Rollback()
				return err
			}
		}
		if show {
			if containsBranch(branches, branch) {
				continue
			}
			branches = append(branches, branch)
		} else {
			if !containsBranch(branches, branch) {
				continue
			}
			branches = withoutBranch(branches, branch)
		}
		updates = append(updates, update{id: id, branches: branches})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		_ = tx.Rollback()
		return err
	}
	_ = rows.Close()

	for _, u := range updates {
		branchesJSON, err := json.Marshal(u.branches)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE points SET visible_branches = ? WHERE id = ?`,
			string(branchesJSON), u.id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *LocalStore) ScrollPoints(ctx context.Context, filter ScrollFilter, fn func(Point) error) error {
	s.mu.Lock()
	query := `SELECT id, content_hash, file_path, chunk_index, start_line, end_line,
		source_ref, indexed_at, visible_branches, vector FROM points WHERE collection = ?`
	args := []any{s.collection}
	if filter.FilePath != "" {
		query += ` AND file_path = ?`
		args = append(args, filter.FilePath)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	var points []Point
	for rows.Next() {
		var p Point
		var branchesJSON, vectorJSON string
		if err := rows.Scan(&p.ID, &p.ContentHash, &p.FilePath, &p.ChunkIndex,
			&p.StartLine, &p.EndLine, &p.SourceRef, &p.IndexedAt,
			&branchesJSON, &vectorJSON); err != nil {
			_ = rows.Close()
			s.mu.Unlock()
			return err
		}
		if branchesJSON != "" {
			if err := json.Unmarshal([]byte(branchesJSON), &p.VisibleBranches); err != nil {
				_ = rows.Close()
				s.mu.Unlock()
				return err
			}
		}
		if filter.Branch != "" && !containsBranch(p.VisibleBranches, filter.Branch) {
			continue
		}
		if filter.WithVectors {
			vec, err := decodeVector(vectorJSON)
			if err != nil {
				s.log.Warn().Str("id", p.ID).Str("file", p.FilePath).Err(err).
					Msg("skipping point with undecodable vector")
				continue
			}
			p.Vector = vec
		}
		points = append(points, p)
	}
	err = rows.Err()
	_ = rows.Close()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	// callback runs outside the lock so it may call back into the store
	for _, p := range points {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *LocalStore) SearchSimilar(ctx context.Context, vector []float32, branch string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}
	queryVec, queryNorm := toFloat64Vector(vector)
	if len(queryVec) == 0 || queryNorm == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}

	var hits []SearchResult
	err := s.ScrollPoints(ctx, ScrollFilter{Branch: branch, WithVectors: true}, func(p Point) error {
		score := cosineSimilarity(queryVec, p.Vector, queryNorm)
		hits = append(hits, SearchResult{
			ID:          p.ID,
			ContentHash: p.ContentHash,
			FilePath:    p.FilePath,
			ChunkIndex:  p.ChunkIndex,
			StartLine:   p.StartLine,
			EndLine:     p.EndLine,
			Score:       score,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *LocalStore) Close() error {
	return s.db.Close()
}

func encodeVector(vec []float32) (string, error) {
	if vec == nil {
		return "[]", nil
	}
	out, err := json.Marshal(vec)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func decodeVector(raw string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func toFloat64Vector(vec []float32) ([]float64, float64) {
	out := make([]float64, len(vec))
	var sum float64
	for i, val := range vec {
		v := float64(val)
		out[i] = v
		sum += v * v
	}
	return out, math.Sqrt(sum)
}

func cosineSimilarity(query []float64, vec []float32, queryNorm float64) float64 {
	if len(query) == 0 || len(vec) == 0 || queryNorm == 0 {
		return 0
	}
	if len(query) != len(vec) {
		return 0
	}
	var dot float64
	var norm float64
	for i, val := range vec {
		v := float64(val)
		dot += query[i] * v
		norm += v * v
	}
	if norm == 0 {
		return 0
	}
	return dot / (queryNorm * math.Sqrt(norm))
}

func buildInClause(template string, ids []string) (string, []any) {
	holders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		holders = append(holders, "?")
		args = append(args, id)
	}
	return fmt.Sprintf(template, strings.Join(holders, ",")), args
}

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// FileState is the last-known indexing state of one file on one branch.
type FileState struct {
	Path        string
	Size        int64
	MtimeUnix   int64
	ContentHash string
	ChunkHashes []string
	IndexedAt   int64
}

// BranchInfo is branch-level metadata recorded after each successful run.
type BranchInfo struct {
	Branch        string
	HeadCommit    string
	LastIndexedAt time.Time
}

// Store persists per-branch file state between runs. It backs the smart
// indexer's diff phase and the topology reconciler's recency tie-break.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the state database under dir.
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS branches (
			branch TEXT PRIMARY KEY,
			head_commit TEXT,
			last_indexed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS files (
			branch TEXT,
			path TEXT,
			size INTEGER,
			mtime_unix INTEGER,
			content_hash TEXT,
			chunk_hashes TEXT,
			indexed_at INTEGER,
			PRIMARY KEY (branch, path)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init state db: %w", err)
		}
	}
	return nil
}

// LoadFiles returns the recorded file states for a branch, keyed by path.
// An unindexed branch yields an empty map.
func (s *Store) LoadFiles(ctx context.Context, branch string) (map[string]FileState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, size, mtime_unix, content_hash, chunk_hashes, indexed_at
		 FROM files WHERE branch = ?`, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]FileState)
	for rows.Next() {
		var fs FileState
		var hashesJSON string
		if err := rows.Scan(&fs.Path, &fs.Size, &fs.MtimeUnix, &fs.ContentHash, &hashesJSON, &fs.IndexedAt); err != nil {
			return nil, err
		}
		if hashesJSON != "" {
			if err := json.Unmarshal([]byte(hashesJSON), &fs.ChunkHashes); err != nil {
				return nil, err
			}
		}
		out[fs.Path] = fs
	}
	return out, rows.Err()
}

// SaveFile records one file's state after a successful write.
func (s *Store) SaveFile(ctx context.Context, branch string, fs FileState) error {
	hashesJSON, err := json.Marshal(fs.ChunkHashes)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO files (branch, path, size, mtime_unix, content_hash, chunk_hashes, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		branch, fs.Path, fs.Size, fs.MtimeUnix, fs.ContentHash, string(hashesJSON), fs.IndexedAt)
	return err
}

// DeleteFile removes one file's record for a branch.
func (s *Store) DeleteFile(ctx context.Context, branch, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE branch = ? AND path = ?`, branch, path)
	return err
}

// SaveBranch records the branch head and index time after a run.
func (s *Store) SaveBranch(ctx context.Context, branch, headCommit string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO branches (branch, head_commit, last_indexed_at) VALUES (?, ?, ?)`,
		branch, headCommit, at.Unix())
	return err
}

// IndexedBranches lists all branches with recorded state, most recently
// indexed first.
func (s *Store) IndexedBranches(ctx context.Context) ([]BranchInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT branch, head_commit, last_indexed_at FROM branches ORDER BY last_indexed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BranchInfo
	for rows.Next() {
		var info BranchInfo
		var ts int64
		if err := rows.Scan(&info.Branch, &info.HeadCommit, &ts); err != nil {
			return nil, err
		}
		info.LastIndexedAt = time.Unix(ts, 0)
		out = append(out, info)
	}
	return out, rows.Err()
}

// CopyBranchFiles seeds a branch's file state from another branch, used when
// a new branch inherits an indexed parent's visibility with no re-embedding.
func (s *Store) CopyBranchFiles(ctx context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO files (branch, path, size, mtime_unix, content_hash, chunk_hashes, indexed_at)
		 SELECT ?, path, size, mtime_unix, content_hash, chunk_hashes, indexed_at FROM files WHERE branch = ?`,
		to, from)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

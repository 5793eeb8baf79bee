package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gitvec/gitvec/internal/config"
)

// Point is the durable unit of the index: one embedding plus its
// branch-visibility metadata.
type Point struct {
	ID              string
	ContentHash     string
	Vector          []float32
	FilePath        string
	ChunkIndex      int
	StartLine       int
	EndLine         int
	VisibleBranches []string
	SourceRef       string // head commit at index time
	IndexedAt       int64  // unix seconds
}

// SearchResult is one similarity hit.
type SearchResult struct {
	ID          string
	ContentHash string
	FilePath    string
	ChunkIndex  int
	StartLine   int
	EndLine     int
	Score       float64
}

// ScrollFilter narrows a ScrollPoints pass. Zero fields mean "no filter".
type ScrollFilter struct {
	FilePath    string
	Branch      string // only points visible on this branch
	WithVectors bool
}

// Store is the vector store write/visibility layer. ReplaceFilePoints is the
// only per-file mutation path and must be atomic: a concurrent reader never
// observes a mixed old/new point set for the same file. A point whose ID
// survives a replace keeps its durable visibility set: the incoming branches
// are merged into the existing visible_branches, never written over them.
type Store interface {
	EnsureCollection(ctx context.Context, dims int) error
	UpsertPoints(ctx context.Context, points []Point) error
	ReplaceFilePoints(ctx context.Context, filePath string, points []Point) error
	DeleteFilePoints(ctx context.Context, filePath string) error
	HidePointsForBranch(ctx context.Context, contentHashes []string, branch string) error
	ShowPointsForBranch(ctx context.Context, contentHashes []string, branch string) error
	ScrollPoints(ctx context.Context, filter ScrollFilter, fn func(Point) error) error
	SearchSimilar(ctx context.Context, vector []float32, branch string, topK int) ([]SearchResult, error)
	Close() error
}

// pointNamespace seeds the deterministic point IDs.
var pointNamespace = uuid.MustParse("2f1c9e64-8a15-4a7e-9c33-5b1d04f6a9d1")

// PointID derives the point ID from (content hash, chunk index). Identical
// content therefore never produces two live points.
func PointID(contentHash string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", contentHash, chunkIndex))).String()
}

// New selects the store backend: a local sqlite store when LocalPath is set,
// Qdrant otherwise.
func New(cfg config.StoreConfig) (Store, error) {
	if cfg.LocalPath != "" {
		return NewLocalStore(cfg.LocalPath, cfg.Collection)
	}
	if cfg.QdrantURL != "" {
		return NewQdrantStore(cfg), nil
	}
	return nil, fmt.Errorf("store config needs either local_path or qdrant_url")
}

func containsBranch(branches []string, branch string) bool {
	for _, b := range branches {
		if b == branch {
			return true
		}
	}
	return false
}

func withoutBranch(branches []string, branch string) []string {
	out := branches[:0]
	for _, b := range branches {
		if b != branch {
			out = append(out, b)
		}
	}
	return out
}

// mergeBranches unions incoming into existing, keeping existing order.
func mergeBranches(existing, incoming []string) []string {
	out := make([]string, 0, len(existing)+len(incoming))
	out = append(out, existing...)
	for _, b := range incoming {
		if !containsBranch(out, b) {
			out = append(out, b)
		}
	}
	return out
}

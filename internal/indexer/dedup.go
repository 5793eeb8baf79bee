package indexer

import (
	"context"
	"sync"

	"github.com/gitvec/gitvec/internal/store"
)

// DeduplicationIndex maps content hash to an already-computed embedding so
// identical content is embedded exactly once across files, branches, and
// commits. Many concurrent readers, rare short exclusive writers.
type DeduplicationIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

func NewDeduplicationIndex() *DeduplicationIndex {
	return &DeduplicationIndex{vectors: make(map[string][]float32)}
}

// Lookup returns the cached embedding for hash, if any. The returned slice
// is shared and must be treated as read-only.
func (d *DeduplicationIndex) Lookup(hash string) ([]float32, bool) {
	d.mu.RLock()
	vec, ok := d.vectors[hash]
	d.mu.RUnlock()
	return vec, ok
}

// Put records an embedding for hash. First write wins, so a racing
// duplicate never replaces a vector a reader may already hold.
func (d *DeduplicationIndex) Put(hash string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	d.mu.Lock()
	if _, exists := d.vectors[hash]; !exists {
		d.vectors[hash] = vec
	}
	d.mu.Unlock()
}

// Len returns the number of cached hashes.
func (d *DeduplicationIndex) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.vectors)
}

// SeedFromStore loads existing point vectors so reruns and branch switches
// never re-embed already-computed content.
func (d *DeduplicationIndex) SeedFromStore(ctx context.Context, s store.Store) error {
	return s.ScrollPoints(ctx, store.ScrollFilter{WithVectors: true}, func(p store.Point) error {
		d.Put(p.ContentHash, p.Vector)
		return nil
	})
}

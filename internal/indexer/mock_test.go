package indexer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gitvec/gitvec/internal/store"
)

// mockProvider counts batch calls and returns deterministic vectors derived
// from the text length. failOn makes the n-th call (1-based) fail.
type mockProvider struct {
	dims      int
	batchSize int
	delay     func()

	calls     atomic.Int64
	texts     atomic.Int64
	failOn    int64
	failErr   error
	transient bool
}

func newMockProvider() *mockProvider {
	return &mockProvider{dims: 4, batchSize: 8}
}

func (m *mockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	call := m.calls.Add(1)
	m.texts.Add(int64(len(texts)))
	if m.delay != nil {
		m.delay()
	}
	if m.failOn != 0 && call == m.failOn {
		if m.failErr != nil {
			return nil, m.failErr
		}
		return nil, fmt.Errorf("provider boom")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, m.dims)
		vec[0] = float32(len(text))
		vec[1] = float32(i)
		out[i] = vec
	}
	return out, nil
}

func (m *mockProvider) Dimensions() int   { return m.dims }
func (m *mockProvider) MaxBatchSize() int { return m.batchSize }

// memStore is an in-memory store.Store recording mutations for assertions.
type memStore struct {
	mu     sync.Mutex
	points map[string]store.Point // keyed by point ID

	replaceCalls []string
	hideCalls    []hideCall
	showCalls    []hideCall
	deleteCalls  []string
}

type hideCall struct {
	hashes []string
	branch string
}

func newMemStore() *memStore {
	return &memStore{points: make(map[string]store.Point)}
}

func (s *memStore) EnsureCollection(ctx context.Context, dims int) error { return nil }

func (s *memStore) UpsertPoints(ctx context.Context, points []store.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.points[p.ID] = p
	}
	return nil
}

func (s *memStore) ReplaceFilePoints(ctx context.Context, filePath string, points []store.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Surviving IDs keep their durable visibility set, as the real stores do.
	existing := make(map[string][]string)
	for id, p := range s.points {
		if p.FilePath == filePath {
			existing[id] = p.VisibleBranches
			delete(s.points, id)
		}
	}
	for _, p := range points {
		if prev, ok := existing[p.ID]; ok {
			p.VisibleBranches = unionBranches(prev, p.VisibleBranches)
		}
		s.points[p.ID] = p
	}
	s.replaceCalls = append(s.replaceCalls, filePath)
	return nil
}

func unionBranches(existing, incoming []string) []string {
	out := append([]string(nil), existing...)
	for _, b := range incoming {
		seen := false
		for _, have := range out {
			if have == b {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, b)
		}
	}
	return out
}

func (s *memStore) DeleteFilePoints(ctx context.Context, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if p.FilePath == filePath {
			delete(s.points, id)
		}
	}
	s.deleteCalls = append(s.deleteCalls, filePath)
	return nil
}

func (s *memStore) HidePointsForBranch(ctx context.Context, contentHashes []string, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hideCalls = append(s.hideCalls, hideCall{hashes: contentHashes, branch: branch})
	hashes := make(map[string]bool, len(contentHashes))
	for _, h := range contentHashes {
		hashes[h] = true
	}
	for id, p := range s.points {
		if !hashes[p.ContentHash] {
			continue
		}
		var kept []string
		for _, b := range p.VisibleBranches {
			if b != branch {
				kept = append(kept, b)
			}
		}
		p.VisibleBranches = kept
		s.points[id] = p
	}
	return nil
}

func (s *memStore) ShowPointsForBranch(ctx context.Context, contentHashes []string, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showCalls = append(s.showCalls, hideCall{hashes: contentHashes, branch: branch})
	hashes := make(map[string]bool, len(contentHashes))
	for _, h := range contentHashes {
		hashes[h] = true
	}
	for id, p := range s.points {
		if !hashes[p.ContentHash] {
			continue
		}
		found := false
		for _, b := range p.VisibleBranches {
			if b == branch {
				found = true
			}
		}
		if !found {
			p.VisibleBranches = append(p.VisibleBranches, branch)
			s.points[id] = p
		}
	}
	return nil
}

func (s *memStore) ScrollPoints(ctx context.Context, filter store.ScrollFilter, fn func(store.Point) error) error {
	s.mu.Lock()
	var snapshot []store.Point
	for _, p := range s.points {
		if filter.FilePath != "" && p.FilePath != filter.FilePath {
			continue
		}
		if !filter.WithVectors {
			p.Vector = nil
		}
		snapshot = append(snapshot, p)
	}
	s.mu.Unlock()
	for _, p := range snapshot {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) SearchSimilar(ctx context.Context, vector []float32, branch string, topK int) ([]store.SearchResult, error) {
	return nil, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) pointsForFile(path string) []store.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Point
	for _, p := range s.points {
		if p.FilePath == path {
			out = append(out, p)
		}
	}
	return out
}

// fakeGit is a scriptable gittopo.Service.
type fakeGit struct {
	isRepo    bool
	branch    string
	head      string
	defBranch string
	distances map[string]int // keyed by "target->candidate"
	distErr   error
}

func (g *fakeGit) IsRepo() bool { return g.isRepo }

func (g *fakeGit) CurrentBranch() (string, error) { return g.branch, nil }

func (g *fakeGit) DefaultBranch() (string, error) {
	if g.defBranch == "" {
		return "main", nil
	}
	return g.defBranch, nil
}

func (g *fakeGit) HeadCommit(branch string) (string, error) { return g.head, nil }

func (g *fakeGit) MergeBase(a, b string) (string, error) { return "", nil }

func (g *fakeGit) MergeBaseDistance(branch, base string) (int, error) {
	if g.distErr != nil {
		return 0, g.distErr
	}
	d, ok := g.distances[branch+"->"+base]
	if !ok {
		return 0, fmt.Errorf("no merge base between %s and %s", branch, base)
	}
	return d, nil
}

func (g *fakeGit) BranchesContainingCommit(commit string) ([]string, error) { return nil, nil }

func (g *fakeGit) ListTrackedFiles() ([]string, error) { return nil, nil }

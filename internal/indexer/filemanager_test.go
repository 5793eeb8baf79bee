package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitvec/gitvec/internal/chunker"
	"github.com/gitvec/gitvec/internal/discovery"
)

func writeTestFile(t *testing.T, root, rel, content string) discovery.FileMeta {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return discovery.FileMeta{RelPath: rel, Size: info.Size(), ModTime: info.ModTime()}
}

func newTestFileManager(t *testing.T, root string, provider *mockProvider, ms *memStore) (*FileChunkingManager, *VectorCalculationManager) {
	t.Helper()
	calc := NewVectorCalculationManager(provider, 2, 1)
	require.NoError(t, calc.Start())
	t.Cleanup(calc.Shutdown)
	fm := NewFileChunkingManager(FileManagerOptions{
		Root:        root,
		Branch:      "main",
		HeadRef:     "abc123",
		FileWorkers: 4,
		Chunker:     chunker.New(10, 2),
		Dedup:       NewDeduplicationIndex(),
		Calc:        calc,
		Store:       ms,
	})
	return fm, calc
}

func TestFileManagerProcessesFile(t *testing.T) {
	root := t.TempDir()
	provider := newMockProvider()
	ms := newMemStore()
	fm, _ := newTestFileManager(t, root, provider, ms)

	meta := writeTestFile(t, root, "pkg/a.go", "package a\n\nfunc A() {}\n")
	future, err := fm.SubmitFile(context.Background(), meta, nil)
	require.NoError(t, err)
	res, err := future.Wait(context.Background())
	require.NoError(t, err)

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ChunksTotal)
	assert.Equal(t, 1, res.ChunksEmbedded)
	assert.Len(t, res.ChunkHashes, 1)
	assert.NotEmpty(t, res.ContentHash)

	points := ms.pointsForFile("pkg/a.go")
	require.Len(t, points, 1)
	assert.Equal(t, []string{"main"}, points[0].VisibleBranches)
	assert.Equal(t, "abc123", points[0].SourceRef)
	assert.Equal(t, res.ChunkHashes[0], points[0].ContentHash)
}

func TestFileManagerDedupSkipsEmbedding(t *testing.T) {
	root := t.TempDir()
	provider := newMockProvider()
	ms := newMemStore()
	fm, _ := newTestFileManager(t, root, provider, ms)

	meta := writeTestFile(t, root, "a.go", "package a\n")

	future, err := fm.SubmitFile(context.Background(), meta, nil)
	require.NoError(t, err)
	first, err := future.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.Equal(t, 1, first.ChunksEmbedded)

	// Same content again: the dedup index satisfies every chunk.
	future, err = fm.SubmitFile(context.Background(), meta, nil)
	require.NoError(t, err)
	second, err := future.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, second.Success)
	assert.Equal(t, 0, second.ChunksEmbedded)
	assert.Equal(t, int64(1), provider.calls.Load(), "identical content must not be re-embedded")
}

func TestFileManagerIsolatesFailures(t *testing.T) {
	root := t.TempDir()
	provider := newMockProvider()
	provider.failOn = 3
	ms := newMemStore()

	calc := NewVectorCalculationManager(provider, 1, 1)
	require.NoError(t, calc.Start())
	t.Cleanup(calc.Shutdown)
	fm := NewFileChunkingManager(FileManagerOptions{
		Root:        root,
		Branch:      "main",
		FileWorkers: 1, // serial so failOn hits a deterministic file
		Chunker:     chunker.New(10, 2),
		Dedup:       NewDeduplicationIndex(),
		Calc:        calc,
		Store:       ms,
	})

	var results []FileResult
	for i := 1; i <= 5; i++ {
		meta := writeTestFile(t, root, fmt.Sprintf("f%d.go", i), fmt.Sprintf("package f%d\n", i))
		future, err := fm.SubmitFile(context.Background(), meta, nil)
		require.NoError(t, err)
		res, err := future.Wait(context.Background())
		require.NoError(t, err)
		results = append(results, res)
	}

	succeeded, failed := 0, 0
	for _, res := range results {
		if res.Success {
			succeeded++
		} else {
			failed++
		}
	}
	assert.Equal(t, 4, succeeded)
	assert.Equal(t, 1, failed)
	assert.False(t, results[2].Success, "third file carries the provider failure")
	assert.Empty(t, ms.pointsForFile("f3.go"), "failed file must not write points")
	assert.NotEmpty(t, ms.pointsForFile("f5.go"), "later files still indexed")
}

func TestFileManagerBinaryFile(t *testing.T) {
	root := t.TempDir()
	ms := newMemStore()
	fm, _ := newTestFileManager(t, root, newMockProvider(), ms)

	meta := writeTestFile(t, root, "blob.bin", "abc\x00def")
	future, err := fm.SubmitFile(context.Background(), meta, nil)
	require.NoError(t, err)
	res, err := future.Wait(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Success)
	var ce *ContentError
	assert.True(t, errors.As(res.Err, &ce), "binary files fail with ContentError, got %v", res.Err)
	assert.True(t, errors.Is(res.Err, chunker.ErrBinaryContent))
}

func TestFileManagerMissingFile(t *testing.T) {
	root := t.TempDir()
	ms := newMemStore()
	fm, _ := newTestFileManager(t, root, newMockProvider(), ms)

	future, err := fm.SubmitFile(context.Background(), discovery.FileMeta{RelPath: "gone.go"}, nil)
	require.NoError(t, err)
	res, err := future.Wait(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Success)
	var ce *ContentError
	assert.True(t, errors.As(res.Err, &ce))
}

func TestFileManagerEmptyFile(t *testing.T) {
	root := t.TempDir()
	ms := newMemStore()
	fm, _ := newTestFileManager(t, root, newMockProvider(), ms)

	meta := writeTestFile(t, root, "empty.go", "")
	future, err := fm.SubmitFile(context.Background(), meta, nil)
	require.NoError(t, err)
	res, err := future.Wait(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ChunksTotal)
	assert.Empty(t, ms.pointsForFile("empty.go"))
}

func TestFileManagerReplaceRemovesStalePoints(t *testing.T) {
	root := t.TempDir()
	provider := newMockProvider()
	ms := newMemStore()
	fm, _ := newTestFileManager(t, root, provider, ms)

	// Index a file long enough for several chunks.
	var big string
	for i := 0; i < 30; i++ {
		big += fmt.Sprintf("line %d\n", i)
	}
	meta := writeTestFile(t, root, "a.go", big)
	future, err := fm.SubmitFile(context.Background(), meta, nil)
	require.NoError(t, err)
	res, err := future.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	before := len(ms.pointsForFile("a.go"))
	require.Greater(t, before, 1)

	// Shrink it; stale chunk points must disappear.
	meta = writeTestFile(t, root, "a.go", "one line\n")
	future, err = fm.SubmitFile(context.Background(), meta, nil)
	require.NoError(t, err)
	res, err = future.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Len(t, ms.pointsForFile("a.go"), 1)
}

func TestFileManagerConcurrentFiles(t *testing.T) {
	root := t.TempDir()
	provider := newMockProvider()
	provider.delay = func() { time.Sleep(time.Millisecond) }
	ms := newMemStore()
	fm, _ := newTestFileManager(t, root, provider, ms)

	const files = 16
	futures := make([]*FileFuture, 0, files)
	for i := 0; i < files; i++ {
		meta := writeTestFile(t, root, fmt.Sprintf("f%d.go", i), fmt.Sprintf("package f%d\n", i))
		f, err := fm.SubmitFile(context.Background(), meta, nil)
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for i, f := range futures {
		res, err := f.Wait(context.Background())
		require.NoError(t, err)
		assert.True(t, res.Success, "file %d failed: %v", i, res.Err)
	}
}

package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/gitvec/gitvec/internal/chunker"
	"github.com/gitvec/gitvec/internal/discovery"
	"github.com/gitvec/gitvec/internal/logging"
	"github.com/gitvec/gitvec/internal/store"
	"github.com/gitvec/gitvec/internal/textindex"
)

// FileResult is the outcome of processing a single file.
type FileResult struct {
	Path           string
	Success        bool
	ChunksTotal    int
	ChunksEmbedded int
	ChunkHashes    []string
	ContentHash    string
	Err            error
}

// FileFuture resolves once the file's points are durably written or the
// file has failed.
type FileFuture struct {
	ch chan FileResult
}

func (f *FileFuture) Wait(ctx context.Context) (FileResult, error) {
	select {
	case res := <-f.ch:
		return res, nil
	case <-ctx.Done():
		return FileResult{}, ctx.Err()
	}
}

// FileChunkingManager runs the per-file pipeline: read, chunk, dedup
// lookup, embed misses, write points atomically. File-level concurrency is
// bounded by a weighted semaphore sized above the embedding pool so chunking
// keeps the embedding workers saturated.
type FileChunkingManager struct {
	root    string
	branch  string
	headRef string

	chunker *chunker.Chunker
	dedup   *DeduplicationIndex
	calc    *VectorCalculationManager
	store   store.Store
	text    textindex.Indexer // optional, best effort

	sem *semaphore.Weighted
	log zerolog.Logger
}

// FileManagerOptions configures a FileChunkingManager.
type FileManagerOptions struct {
	Root        string
	Branch      string
	HeadRef     string
	FileWorkers int
	Chunker     *chunker.Chunker
	Dedup       *DeduplicationIndex
	Calc        *VectorCalculationManager
	Store       store.Store
	TextIndex   textindex.Indexer
}

func NewFileChunkingManager(opts FileManagerOptions) *FileChunkingManager {
	workers := opts.FileWorkers
	if workers <= 0 {
		workers = 4
	}
	return &FileChunkingManager{
		root:    opts.Root,
		branch:  opts.Branch,
		headRef: opts.HeadRef,
		chunker: opts.Chunker,
		dedup:   opts.Dedup,
		calc:    opts.Calc,
		store:   opts.Store,
		text:    opts.TextIndex,
		sem:     semaphore.NewWeighted(int64(workers)),
		log:     logging.For("filemanager"),
	}
}

// SubmitFile schedules one file for processing. The queued event fires
// before the call blocks on a worker slot; the returned future resolves
// when the file's points are written or the file fails.
func (m *FileChunkingManager) SubmitFile(ctx context.Context, meta discovery.FileMeta, sink *progressSink) (*FileFuture, error) {
	sink.report(0, 0, meta.RelPath, "queued")
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	future := &FileFuture{ch: make(chan FileResult, 1)}
	go func() {
		defer m.sem.Release(1)
		sink.report(0, 0, meta.RelPath, "processing")
		res := m.processFile(ctx, meta)
		if res.Success {
			sink.report(0, 0, meta.RelPath, "completed")
		} else {
			sink.report(0, 0, meta.RelPath, "failed")
		}
		future.ch <- res
	}()
	return future, nil
}

func (m *FileChunkingManager) processFile(ctx context.Context, meta discovery.FileMeta) FileResult {
	res := FileResult{Path: meta.RelPath}

	data, err := os.ReadFile(filepath.Join(m.root, meta.RelPath))
	if err != nil {
		res.Err = &ContentError{Path: meta.RelPath, Err: err}
		return res
	}
	res.ContentHash = chunker.HashContent(data)

	chunks, err := m.chunker.ChunkFile(meta.RelPath, data)
	if err != nil {
		if errors.Is(err, chunker.ErrBinaryContent) {
			res.Err = &ContentError{Path: meta.RelPath, Err: err}
		} else {
			res.Err = fmt.Errorf("chunk %s: %w", meta.RelPath, err)
		}
		return res
	}
	res.ChunksTotal = len(chunks)
	if len(chunks) == 0 {
		res.Success = true
		return res
	}

	vectors := make([][]float32, len(chunks))
	var misses []ChunkInput
	var missIdx []int
	for i, c := range chunks {
		res.ChunkHashes = append(res.ChunkHashes, c.Hash)
		if vec, ok := m.dedup.Lookup(c.Hash); ok {
			vectors[i] = vec
			continue
		}
		misses = append(misses, ChunkInput{Text: c.Text, ContentHash: c.Hash})
		missIdx = append(missIdx, i)
	}

	if len(misses) > 0 {
		embedded, err := m.embedMisses(ctx, meta.RelPath, misses)
		if err != nil {
			res.Err = err
			return res
		}
		for j, vec := range embedded {
			vectors[missIdx[j]] = vec
			m.dedup.Put(misses[j].ContentHash, vec)
		}
		res.ChunksEmbedded = len(embedded)
	}

	points := make([]store.Point, len(chunks))
	now := time.Now().Unix()
	for i, c := range chunks {
		points[i] = store.Point{
			ID:              store.PointID(c.Hash, c.Index),
			ContentHash:     c.Hash,
			Vector:          vectors[i],
			FilePath:        meta.RelPath,
			ChunkIndex:      c.Index,
			StartLine:       c.StartLine,
			EndLine:         c.EndLine,
			VisibleBranches: []string{m.branch},
			SourceRef:       m.headRef,
			IndexedAt:       now,
		}
	}
	if err := m.store.ReplaceFilePoints(ctx, meta.RelPath, points); err != nil {
		res.Err = &StoreWriteError{Path: meta.RelPath, Err: err}
		return res
	}

	if m.text != nil {
		docs := make([]textindex.ChunkDoc, len(chunks))
		for i, c := range chunks {
			docs[i] = textindex.ChunkDoc{
				Path:      meta.RelPath,
				Content:   c.Text,
				LineStart: c.StartLine,
				LineEnd:   c.EndLine,
			}
		}
		if err := m.text.ReplaceFileDocs(meta.RelPath, docs); err != nil {
			m.log.Warn().Str("file", meta.RelPath).Err(err).Msg("text index update failed")
		}
	}

	res.Success = true
	return res
}

// embedMisses submits dedup misses to the calculation manager in
// provider-sized batches and reassembles the vectors in order.
func (m *FileChunkingManager) embedMisses(ctx context.Context, path string, misses []ChunkInput) ([][]float32, error) {
	limit := m.calc.provider.MaxBatchSize()
	if limit <= 0 {
		limit = len(misses)
	}

	var futures []*BatchFuture
	for start := 0; start < len(misses); start += limit {
		end := start + limit
		if end > len(misses) {
			end = len(misses)
		}
		f, err := m.calc.Submit(misses[start:end], BatchMeta{FilePath: path})
		if err != nil {
			return nil, fmt.Errorf("submit batch for %s: %w", path, err)
		}
		futures = append(futures, f)
	}

	var out [][]float32
	for _, f := range futures {
		batch, err := f.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if batch.Cancelled {
			return nil, ErrCancelled
		}
		if batch.Err != nil {
			return nil, fmt.Errorf("embed %s: %w", path, batch.Err)
		}
		out = append(out, batch.Embeddings...)
	}
	return out, nil
}

package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gitvec/gitvec/internal/chunker"
	"github.com/gitvec/gitvec/internal/config"
	"github.com/gitvec/gitvec/internal/discovery"
	"github.com/gitvec/gitvec/internal/embedding"
	"github.com/gitvec/gitvec/internal/gittopo"
	"github.com/gitvec/gitvec/internal/logging"
	"github.com/gitvec/gitvec/internal/state"
	"github.com/gitvec/gitvec/internal/store"
	"github.com/gitvec/gitvec/internal/textindex"
)

// Phase identifies where a run currently is. Exposed for status reporting.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDiscovering Phase = "discovering"
	PhaseDiffing     Phase = "diffing"
	PhaseProcessing  Phase = "processing"
	PhaseReconciling Phase = "reconciling"
	PhaseFinalizing  Phase = "finalizing"
)

// localBranch names the pseudo-branch used outside a git repository.
const localBranch = "local"

// SmartIndexer orchestrates a full incremental run: discover files, diff
// against recorded state, embed what changed, reconcile deletions, record
// branch state. Reruns over an unchanged tree embed nothing.
type SmartIndexer struct {
	root     string
	cfg      *config.Config
	git      gittopo.Service
	finder   discovery.Finder
	provider embedding.Provider
	store    store.Store
	state    *state.Store
	text     textindex.Indexer

	mu    sync.Mutex
	phase Phase

	log zerolog.Logger
}

// SmartIndexerOptions bundles the dependencies; all are required except
// TextIndex.
type SmartIndexerOptions struct {
	Root      string
	Config    *config.Config
	Git       gittopo.Service
	Finder    discovery.Finder
	Provider  embedding.Provider
	Store     store.Store
	State     *state.Store
	TextIndex textindex.Indexer
}

func NewSmartIndexer(opts SmartIndexerOptions) *SmartIndexer {
	return &SmartIndexer{
		root:     opts.Root,
		cfg:      opts.Config,
		git:      opts.Git,
		finder:   opts.Finder,
		provider: opts.Provider,
		store:    opts.Store,
		state:    opts.State,
		text:     opts.TextIndex,
		phase:    PhaseIdle,
		log:      logging.For("indexer"),
	}
}

// Phase returns the current pipeline phase.
func (s *SmartIndexer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *SmartIndexer) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// RunIndexing performs one full indexing run. forceReindex bypasses the diff
// phase and re-embeds every discovered file. progress may be nil.
func (s *SmartIndexer) RunIndexing(ctx context.Context, forceReindex bool, progress ProgressFunc) (ProcessingStats, error) {
	acc := newStatsAccumulator()
	defer s.setPhase(PhaseIdle)

	if err := s.preflight(); err != nil {
		return acc.finish(), err
	}
	if ctx.Err() != nil {
		acc.markCancelled()
		return acc.finish(), nil
	}
	sink := newProgressSink(progress)

	branch, headRef, isRepo := s.resolveBranch()
	s.log.Info().Str("branch", branch).Bool("git", isRepo).Msg("starting indexing run")

	if err := s.store.EnsureCollection(ctx, s.provider.Dimensions()); err != nil {
		return acc.finish(), fmt.Errorf("ensure collection: %w", err)
	}
	if err := store.EnsureIndexes(ctx, s.store, store.IndexModeCreate); err != nil {
		return acc.finish(), fmt.Errorf("ensure indexes: %w", err)
	}

	// Discovery.
	s.setPhase(PhaseDiscovering)
	sink.report(0, 0, "", "discovering files")
	files, err := s.finder.FindFiles()
	if err != nil {
		return acc.finish(), fmt.Errorf("discover files: %w", err)
	}
	discovered := make(map[string]struct{}, len(files))
	for _, f := range files {
		discovered[f.RelPath] = struct{}{}
	}
	sink.report(0, 0, "", fmt.Sprintf("discovered %d files", len(files)))

	// New-branch visibility inheritance before diffing, so the diff runs
	// against inherited state instead of an empty set.
	if isRepo {
		if err := s.inheritVisibility(ctx, branch); err != nil {
			s.log.Warn().Err(err).Msg("branch visibility reconciliation failed, proceeding without inheritance")
		}
	}

	// Diff against recorded state.
	s.setPhase(PhaseDiffing)
	prior, err := s.state.LoadFiles(ctx, branch)
	if err != nil {
		return acc.finish(), fmt.Errorf("load state: %w", err)
	}
	work := s.diff(ctx, branch, files, prior, forceReindex)
	sink.report(0, 0, "", fmt.Sprintf("%d of %d files need indexing", len(work), len(files)))

	// Processing.
	s.setPhase(PhaseProcessing)
	if len(work) > 0 {
		if err := s.processFiles(ctx, branch, headRef, work, acc, sink); err != nil {
			return acc.finish(), err
		}
	}

	// Deletion reconciliation.
	s.setPhase(PhaseReconciling)
	if !acc.snapshot().Cancelled {
		rec := newDeletionReconciler(branch, isRepo, s.store, s.state, s.text)
		if removed := rec.reconcile(ctx, prior, discovered); removed > 0 {
			sink.report(0, 0, "", fmt.Sprintf("reconciled %d deleted files", removed))
		}
	}

	// Finalize.
	s.setPhase(PhaseFinalizing)
	if err := s.state.SaveBranch(ctx, branch, headRef, time.Now()); err != nil {
		s.log.Warn().Err(err).Msg("saving branch state failed")
	}

	stats := acc.finish()
	s.log.Info().
		Int("processed", stats.FilesProcessed).
		Int("chunks", stats.ChunksCreated).
		Int("failed", stats.FailedFiles).
		Bool("cancelled", stats.Cancelled).
		Dur("elapsed", stats.Duration()).
		Msg("indexing run complete")
	return stats, nil
}

func (s *SmartIndexer) preflight() error {
	if s.provider == nil || s.provider.Dimensions() <= 0 {
		return &FatalConfigError{Err: fmt.Errorf("embedding provider with positive dimensions is required")}
	}
	if s.provider.MaxBatchSize() <= 0 {
		return &FatalConfigError{Err: fmt.Errorf("embedding provider batch size must be positive")}
	}
	if s.store == nil || s.state == nil || s.finder == nil {
		return &FatalConfigError{Err: fmt.Errorf("store, state, and finder are required")}
	}
	return nil
}

func (s *SmartIndexer) resolveBranch() (branch, headRef string, isRepo bool) {
	if s.git == nil || !s.git.IsRepo() {
		return localBranch, "", false
	}
	b, err := s.git.CurrentBranch()
	if err != nil {
		s.log.Warn().Err(err).Msg("cannot resolve current branch, using local")
		return localBranch, "", false
	}
	head, err := s.git.HeadCommit("HEAD")
	if err != nil {
		s.log.Warn().Err(err).Msg("cannot resolve head commit")
	}
	return b, head, true
}

// inheritVisibility runs the topology reconciler when the current branch has
// never been indexed but others have.
func (s *SmartIndexer) inheritVisibility(ctx context.Context, branch string) error {
	candidates, err := s.state.IndexedBranches(ctx)
	if err != nil {
		return err
	}
	rec := NewBranchTopologyReconciler(s.git, s.store, s.state)
	plan, err := rec.ResolveVisibility(ctx, branch, candidates)
	if err != nil {
		return err
	}
	return rec.Apply(ctx, plan)
}

// diff selects the files whose content may have changed. Size and mtime
// matching is the fast path; a mismatch falls through to a content hash
// check so touch-only changes do not re-embed.
func (s *SmartIndexer) diff(ctx context.Context, branch string, files []discovery.FileMeta, prior map[string]state.FileState, force bool) []discovery.FileMeta {
	if force {
		return files
	}
	var work []discovery.FileMeta
	for _, f := range files {
		fs, known := prior[f.RelPath]
		if !known {
			work = append(work, f)
			continue
		}
		if fs.Size == f.Size && fs.MtimeUnix == f.ModTime.Unix() {
			continue
		}
		hash, err := s.hashFile(f.RelPath)
		if err != nil || hash != fs.ContentHash {
			work = append(work, f)
			continue
		}
		// Content unchanged, metadata stale. Refresh the record so the fast
		// path works next run.
		fs.Size = f.Size
		fs.MtimeUnix = f.ModTime.Unix()
		if err := s.state.SaveFile(ctx, branch, fs); err != nil {
			s.log.Warn().Str("file", f.RelPath).Err(err).Msg("refreshing file state failed")
		}
	}
	return work
}

func (s *SmartIndexer) hashFile(relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, relPath))
	if err != nil {
		return "", err
	}
	return chunker.HashContent(data), nil
}

// processFiles drives the two worker pools and collects results in
// completion order.
func (s *SmartIndexer) processFiles(ctx context.Context, branch, headRef string, work []discovery.FileMeta, acc *statsAccumulator, sink *progressSink) error {
	dedup := NewDeduplicationIndex()
	if err := dedup.SeedFromStore(ctx, s.store); err != nil {
		s.log.Warn().Err(err).Msg("seeding dedup index failed, embedding without cache")
	} else if n := dedup.Len(); n > 0 {
		s.log.Debug().Int("cached", n).Msg("seeded dedup index")
	}

	calc := NewVectorCalculationManager(s.provider, s.cfg.Indexer.VectorWorkers, s.cfg.Embedding.MaxRetries)
	if err := calc.Start(); err != nil {
		return err
	}
	defer calc.Shutdown()

	fm := NewFileChunkingManager(FileManagerOptions{
		Root:        s.root,
		Branch:      branch,
		HeadRef:     headRef,
		FileWorkers: s.cfg.Indexer.FileWorkers,
		Chunker:     chunker.New(s.cfg.Indexer.ChunkLines, s.cfg.Indexer.ChunkOverlap),
		Dedup:       dedup,
		Calc:        calc,
		Store:       s.store,
		TextIndex:   s.text,
	})

	results := make(chan FileResult, len(work))
	var wg sync.WaitGroup
	submitted := 0

submitLoop:
	for _, meta := range work {
		select {
		case <-ctx.Done():
			break submitLoop
		default:
		}
		future, err := fm.SubmitFile(ctx, meta, sink)
		if err != nil {
			// Context cancelled while waiting for a worker slot.
			break submitLoop
		}
		submitted++
		wg.Add(1)
		go func(f *FileFuture) {
			defer wg.Done()
			res, err := f.Wait(context.Background())
			if err != nil {
				return
			}
			results <- res
		}(future)
	}
	if ctx.Err() != nil {
		calc.Cancel()
		acc.markCancelled()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	done := 0
	for res := range results {
		done++
		acc.fileDone(res)
		if res.Success {
			meta := workMeta(work, res.Path)
			if err := s.state.SaveFile(ctx, branch, state.FileState{
				Path:        res.Path,
				Size:        meta.Size,
				MtimeUnix:   meta.ModTime.Unix(),
				ContentHash: res.ContentHash,
				ChunkHashes: res.ChunkHashes,
				IndexedAt:   time.Now().Unix(),
			}); err != nil {
				s.log.Warn().Str("file", res.Path).Err(err).Msg("saving file state failed")
			}
		} else if res.Err != nil {
			s.log.Warn().Str("file", res.Path).Err(res.Err).Msg("file failed")
		}
		cs := calc.Stats()
		sink.report(done, submitted, res.Path,
			fmt.Sprintf("%d/%d files, %d batches queued, %d embedding", done, submitted, cs.QueueDepth, cs.ActiveWorkers))
	}

	if ctx.Err() != nil {
		calc.Cancel()
		acc.markCancelled()
		return nil
	}
	return nil
}

func workMeta(work []discovery.FileMeta, path string) discovery.FileMeta {
	for _, m := range work {
		if m.RelPath == path {
			return m
		}
	}
	return discovery.FileMeta{RelPath: path}
}

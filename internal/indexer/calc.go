package indexer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gitvec/gitvec/internal/embedding"
	"github.com/gitvec/gitvec/internal/logging"
)

// ChunkInput is one text submitted for embedding.
type ChunkInput struct {
	Text        string
	ContentHash string
}

// BatchMeta carries caller context for logging and diagnostics.
type BatchMeta struct {
	FilePath string
}

// BatchResult is the outcome of one batch task. Embeddings[i] corresponds
// to the i-th submitted chunk. A failed batch carries no partial results.
type BatchResult struct {
	Embeddings [][]float32
	Err        error
	Cancelled  bool
}

// BatchFuture resolves exactly once with the batch outcome.
type BatchFuture struct {
	ch chan BatchResult
}

// Wait blocks until the batch resolves or ctx is done.
func (f *BatchFuture) Wait(ctx context.Context) (BatchResult, error) {
	select {
	case res := <-f.ch:
		return res, nil
	case <-ctx.Done():
		return BatchResult{}, ctx.Err()
	}
}

type batchTask struct {
	chunks []ChunkInput
	meta   BatchMeta
	future *BatchFuture
}

// CalcStats is an atomic snapshot of the manager's counters.
type CalcStats struct {
	Submitted     int64
	Completed     int64
	Failed        int64
	ActiveWorkers int64
	QueueDepth    int64
}

const (
	calcStateNew int32 = iota
	calcStateStarted
	calcStateShutdown
)

// VectorCalculationManager schedules embedding batches over a bounded
// worker pool. Each task triggers exactly one provider batch call;
// output order matches input order.
type VectorCalculationManager struct {
	provider   embedding.Provider
	workers    int
	maxRetries int

	tasks chan *batchTask
	wg    sync.WaitGroup

	// closeMu serializes task sends against the channel close in Shutdown.
	closeMu   sync.RWMutex
	state     atomic.Int32
	cancelled atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	active    atomic.Int64

	log zerolog.Logger
}

// NewVectorCalculationManager builds a manager with the given pool width.
func NewVectorCalculationManager(provider embedding.Provider, workers, maxRetries int) *VectorCalculationManager {
	if workers <= 0 {
		workers = 1
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &VectorCalculationManager{
		provider:   provider,
		workers:    workers,
		maxRetries: maxRetries,
		tasks:      make(chan *batchTask, workers*4),
		log:        logging.For("calc"),
	}
}

// Start launches the worker pool. Calling Start twice is an error.
func (m *VectorCalculationManager) Start() error {
	if !m.state.CompareAndSwap(calcStateNew, calcStateStarted) {
		return fmt.Errorf("start: %w", ErrShutdown)
	}
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return nil
}

// Shutdown stops accepting tasks and waits for in-flight tasks to resolve.
// Safe to call concurrently with Submit: late submitters get ErrShutdown.
func (m *VectorCalculationManager) Shutdown() {
	if !m.state.CompareAndSwap(calcStateStarted, calcStateShutdown) {
		return
	}
	m.closeMu.Lock()
	close(m.tasks)
	m.closeMu.Unlock()
	m.wg.Wait()
}

// Cancel makes not-yet-started tasks resolve immediately as cancelled.
// In-flight provider calls run to completion; their results are discarded
// by the caller.
func (m *VectorCalculationManager) Cancel() {
	m.cancelled.Store(true)
}

// Submit enqueues one batch of 1..MaxBatchSize chunk texts. Blocks when the
// queue is full, providing backpressure to file workers.
func (m *VectorCalculationManager) Submit(chunks []ChunkInput, meta BatchMeta) (*BatchFuture, error) {
	if m.state.Load() == calcStateNew {
		return nil, fmt.Errorf("submit: %w", ErrNotStarted)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("submit: batch must contain at least one chunk")
	}
	if limit := m.provider.MaxBatchSize(); len(chunks) > limit {
		return nil, fmt.Errorf("submit: batch size %d exceeds provider limit %d", len(chunks), limit)
	}

	// Re-check state under the read lock so the send cannot race the close.
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.state.Load() == calcStateShutdown {
		return nil, fmt.Errorf("submit: %w", ErrShutdown)
	}
	future := &BatchFuture{ch: make(chan BatchResult, 1)}
	m.submitted.Add(1)
	m.tasks <- &batchTask{chunks: chunks, meta: meta, future: future}
	return future, nil
}

// Stats returns a point-in-time snapshot of the counters.
func (m *VectorCalculationManager) Stats() CalcStats {
	return CalcStats{
		Submitted:     m.submitted.Load(),
		Completed:     m.completed.Load(),
		Failed:        m.failed.Load(),
		ActiveWorkers: m.active.Load(),
		QueueDepth:    int64(len(m.tasks)),
	}
}

func (m *VectorCalculationManager) worker() {
	defer m.wg.Done()
	for task := range m.tasks {
		if m.cancelled.Load() {
			task.future.ch <- BatchResult{Cancelled: true}
			m.completed.Add(1)
			continue
		}
		m.active.Add(1)
		embeddings, err := m.embedWithRetry(task.chunks, task.meta)
		m.active.Add(-1)

		if err != nil {
			m.failed.Add(1)
			m.completed.Add(1)
			task.future.ch <- BatchResult{Err: err}
			continue
		}
		m.completed.Add(1)
		task.future.ch <- BatchResult{Embeddings: embeddings}
	}
}

// embedWithRetry calls the provider once per attempt, retrying transient
// failures with bounded backoff. A non-transient error fails immediately.
func (m *VectorCalculationManager) embedWithRetry(chunks []ChunkInput, meta BatchMeta) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if attempt > 0 {
			if m.cancelled.Load() {
				return nil, ErrCancelled
			}
			time.Sleep(backoff)
			backoff *= 2
		}
		embeddings, err := m.provider.EmbedBatch(context.Background(), texts)
		if err == nil {
			if len(embeddings) != len(texts) {
				return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(embeddings), len(texts))
			}
			return embeddings, nil
		}
		lastErr = err
		if !embedding.IsTransient(err) {
			break
		}
		m.log.Warn().Str("file", meta.FilePath).Int("attempt", attempt+1).Err(err).
			Msg("transient embedding failure, retrying")
	}
	return nil, lastErr
}

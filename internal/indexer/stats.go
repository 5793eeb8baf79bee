package indexer

import (
	"sync"
	"time"
)

// ProcessingStats summarizes one indexing run. Owned by the orchestrator;
// workers never mutate it directly.
type ProcessingStats struct {
	FilesProcessed int
	ChunksCreated  int
	FailedFiles    int
	StartTime      time.Time
	EndTime        time.Time
	Cancelled      bool
}

// Duration returns the wall-clock run time.
func (s ProcessingStats) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// statsAccumulator is the synchronized mutation path for ProcessingStats,
// called only from the orchestrator's completion loop.
type statsAccumulator struct {
	mu    sync.Mutex
	stats ProcessingStats
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{stats: ProcessingStats{StartTime: time.Now()}}
}

func (a *statsAccumulator) fileDone(res FileResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if res.Success {
		a.stats.FilesProcessed++
		a.stats.ChunksCreated += res.ChunksEmbedded
	} else {
		a.stats.FailedFiles++
	}
}

func (a *statsAccumulator) markCancelled() {
	a.mu.Lock()
	a.stats.Cancelled = true
	a.mu.Unlock()
}

func (a *statsAccumulator) finish() ProcessingStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.EndTime = time.Now()
	return a.stats
}

func (a *statsAccumulator) snapshot() ProcessingStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

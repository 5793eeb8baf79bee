package indexer

import (
	"errors"
	"fmt"
)

// Pipeline state errors.
var (
	ErrNotStarted = errors.New("manager not started")
	ErrShutdown   = errors.New("manager shut down")
	ErrCancelled  = errors.New("run cancelled")
)

// ContentError marks a file that cannot be indexed (unreadable, binary).
// It is skipped with a warning, never fatal to the run.
type ContentError struct {
	Path string
	Err  error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("unindexable content %s: %v", e.Path, e.Err)
}

func (e *ContentError) Unwrap() error { return e.Err }

// StoreWriteError marks a failed atomic upsert. The file is marked failed;
// the run continues.
type StoreWriteError struct {
	Path string
	Err  error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write failed for %s: %v", e.Path, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// ReconciliationError marks a git or merge-base lookup failure during
// reconciliation. The caller falls back to default-branch visibility.
type ReconciliationError struct {
	Op  string
	Err error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation %s: %v", e.Op, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// FatalConfigError aborts the run before any work is submitted.
type FatalConfigError struct {
	Err error
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("fatal configuration error: %v", e.Err)
}

func (e *FatalConfigError) Unwrap() error { return e.Err }

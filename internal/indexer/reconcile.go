package indexer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/gitvec/gitvec/internal/logging"
	"github.com/gitvec/gitvec/internal/state"
	"github.com/gitvec/gitvec/internal/store"
	"github.com/gitvec/gitvec/internal/textindex"
)

// deletionReconciler removes or hides points for files that were present in
// the previous run's state but no longer exist on disk.
type deletionReconciler struct {
	branch string
	isRepo bool
	store  store.Store
	state  *state.Store
	text   textindex.Indexer
	log    zerolog.Logger
}

func newDeletionReconciler(branch string, isRepo bool, st store.Store, states *state.Store, text textindex.Indexer) *deletionReconciler {
	return &deletionReconciler{
		branch: branch,
		isRepo: isRepo,
		store:  st,
		state:  states,
		text:   text,
		log:    logging.For("reconciler"),
	}
}

// reconcile compares prior state against the discovered set. In a git repo
// the file may still exist on other branches, so its points are only hidden
// for this branch; outside git the points are deleted outright. Failures are
// logged and skipped, never fatal to the run.
func (r *deletionReconciler) reconcile(ctx context.Context, prior map[string]state.FileState, discovered map[string]struct{}) int {
	removed := 0
	for path, fs := range prior {
		if _, ok := discovered[path]; ok {
			continue
		}
		if err := r.removeFile(ctx, path, fs); err != nil {
			r.log.Warn().Str("file", path).Err(err).Msg("deletion reconciliation failed")
			continue
		}
		removed++
	}
	return removed
}

func (r *deletionReconciler) removeFile(ctx context.Context, path string, fs state.FileState) error {
	if r.isRepo {
		if len(fs.ChunkHashes) > 0 {
			if err := r.store.HidePointsForBranch(ctx, fs.ChunkHashes, r.branch); err != nil {
				return &ReconciliationError{Op: "hide points", Err: err}
			}
		}
	} else {
		if err := r.store.DeleteFilePoints(ctx, path); err != nil {
			return &ReconciliationError{Op: "delete points", Err: err}
		}
	}
	if r.text != nil {
		if err := r.text.DeleteFileDocs(path); err != nil {
			r.log.Warn().Str("file", path).Err(err).Msg("text index delete failed")
		}
	}
	if err := r.state.DeleteFile(ctx, r.branch, path); err != nil {
		return &ReconciliationError{Op: "delete state", Err: err}
	}
	r.log.Debug().Str("file", path).Msg("reconciled deleted file")
	return nil
}

package indexer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gitvec/gitvec/internal/gittopo"
	"github.com/gitvec/gitvec/internal/logging"
	"github.com/gitvec/gitvec/internal/state"
	"github.com/gitvec/gitvec/internal/store"
)

// VisibilityPlan describes how a not-yet-indexed branch inherits an already
// indexed ancestor's points. Applying a plan touches only visibility
// metadata, never embeddings.
type VisibilityPlan struct {
	TargetBranch string
	SourceBranch string
	// Fallback is set when topology lookups failed and the default branch
	// was chosen instead of the true nearest ancestor.
	Fallback bool
}

// BranchTopologyReconciler picks, for a branch with no indexed state, the
// indexed branch whose merge base is nearest and copies its visibility.
type BranchTopologyReconciler struct {
	git   gittopo.Service
	store store.Store
	state *state.Store
	log   zerolog.Logger
}

func NewBranchTopologyReconciler(git gittopo.Service, st store.Store, states *state.Store) *BranchTopologyReconciler {
	return &BranchTopologyReconciler{
		git:   git,
		store: st,
		state: states,
		log:   logging.For("reconciler"),
	}
}

// ResolveVisibility decides where the target branch's initial visibility
// comes from. candidates must be ordered most recently indexed first, which
// is how the state store returns them; ties on merge-base distance resolve
// to the earliest candidate in that order.
func (r *BranchTopologyReconciler) ResolveVisibility(ctx context.Context, target string, candidates []state.BranchInfo) (*VisibilityPlan, error) {
	for _, c := range candidates {
		if c.Branch == target {
			// Branch already indexed; nothing to inherit.
			return &VisibilityPlan{TargetBranch: target, SourceBranch: target}, nil
		}
	}
	if len(candidates) == 0 {
		return &VisibilityPlan{TargetBranch: target}, nil
	}

	best := ""
	bestDist := -1
	var lastErr error
	for _, c := range candidates {
		dist, err := r.git.MergeBaseDistance(target, c.Branch)
		if err != nil {
			lastErr = err
			continue
		}
		if bestDist < 0 || dist < bestDist {
			best = c.Branch
			bestDist = dist
		}
	}

	if best == "" {
		// Topology lookups all failed. Fall back to the default branch if it
		// is among the indexed candidates.
		def, derr := r.git.DefaultBranch()
		if derr != nil {
			return nil, &ReconciliationError{Op: "resolve visibility", Err: fmt.Errorf("merge base: %v; default branch: %w", lastErr, derr)}
		}
		for _, c := range candidates {
			if c.Branch == def {
				r.log.Warn().Str("target", target).Str("fallback", def).
					Msg("topology lookup failed, inheriting default branch visibility")
				return &VisibilityPlan{TargetBranch: target, SourceBranch: def, Fallback: true}, nil
			}
		}
		return nil, &ReconciliationError{Op: "resolve visibility", Err: lastErr}
	}

	return &VisibilityPlan{TargetBranch: target, SourceBranch: best}, nil
}

// Apply makes every point visible on the source branch also visible on the
// target branch and seeds the target's file state from the source. No
// embedding calls are made.
func (r *BranchTopologyReconciler) Apply(ctx context.Context, plan *VisibilityPlan) error {
	if plan == nil || plan.SourceBranch == "" || plan.SourceBranch == plan.TargetBranch {
		return nil
	}

	files, err := r.state.LoadFiles(ctx, plan.SourceBranch)
	if err != nil {
		return &ReconciliationError{Op: "load source state", Err: err}
	}

	var hashes []string
	for _, fs := range files {
		hashes = append(hashes, fs.ChunkHashes...)
	}
	if len(hashes) > 0 {
		if err := r.store.ShowPointsForBranch(ctx, hashes, plan.TargetBranch); err != nil {
			return &ReconciliationError{Op: "show points", Err: err}
		}
	}

	if err := r.state.CopyBranchFiles(ctx, plan.SourceBranch, plan.TargetBranch); err != nil {
		return &ReconciliationError{Op: "copy branch state", Err: err}
	}

	r.log.Info().Str("target", plan.TargetBranch).Str("source", plan.SourceBranch).
		Int("files", len(files)).Msg("inherited branch visibility")
	return nil
}

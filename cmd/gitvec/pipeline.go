package main

import (
	"fmt"

	"github.com/gitvec/gitvec/internal/config"
	"github.com/gitvec/gitvec/internal/discovery"
	"github.com/gitvec/gitvec/internal/embedding"
	"github.com/gitvec/gitvec/internal/gittopo"
	"github.com/gitvec/gitvec/internal/indexer"
	"github.com/gitvec/gitvec/internal/state"
	"github.com/gitvec/gitvec/internal/store"
	"github.com/gitvec/gitvec/internal/textindex"
)

// pipeline bundles the wired components plus the handles that need closing.
type pipeline struct {
	indexer *indexer.SmartIndexer
	states  *state.Store
	store   store.Store
	text    textindex.Indexer
}

func (p *pipeline) close() {
	if p.text != nil {
		_ = p.text.Close()
	}
	if p.states != nil {
		_ = p.states.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}

// buildPipeline wires provider, stores, and discovery into a SmartIndexer.
// withText controls whether the keyword index is opened; search and index
// want it, status does not.
func buildPipeline(cfg *config.Config, repoRoot string, withText bool) (*pipeline, error) {
	provider, err := embedding.NewProvider(&cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	states, err := state.Open(cfg.Indexer.StatePath)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("state store: %w", err)
	}

	var text textindex.Indexer
	if withText && cfg.Store.TextIndexPath != "" {
		text, err = textindex.Open(cfg.Store.TextIndexPath)
		if err != nil {
			_ = states.Close()
			_ = st.Close()
			return nil, fmt.Errorf("text index: %w", err)
		}
	}

	git := gittopo.New(repoRoot)
	finder, err := discovery.NewFinder(repoRoot, cfg.Discovery, git)
	if err != nil {
		if text != nil {
			_ = text.Close()
		}
		_ = states.Close()
		_ = st.Close()
		return nil, fmt.Errorf("file discovery: %w", err)
	}

	return &pipeline{
		indexer: indexer.NewSmartIndexer(indexer.SmartIndexerOptions{
			Root:      repoRoot,
			Config:    cfg,
			Git:       git,
			Finder:    finder,
			Provider:  provider,
			Store:     st,
			State:     states,
			TextIndex: text,
		}),
		states: states,
		store:  st,
		text:   text,
	}, nil
}

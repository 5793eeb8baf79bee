package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gitvec/gitvec/internal/config"
	"github.com/gitvec/gitvec/internal/gittopo"
	"github.com/gitvec/gitvec/internal/state"
)

// handleStatus implements the status subcommand.
func handleStatus(cfg *config.Config, repoRoot string, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    gitvec status

DESCRIPTION:
    Show indexed branches, their heads, and the effective pipeline
    configuration for this repository.
`)
	}
	if err := fs.Parse(args); err != nil {
		log.Fatalf("Failed to parse arguments: %v", err)
	}

	states, err := state.Open(cfg.Indexer.StatePath)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer states.Close()

	git := gittopo.New(repoRoot)
	current := "local"
	if git.IsRepo() {
		if b, err := git.CurrentBranch(); err == nil {
			current = b
		}
	}

	fmt.Printf("Repository:     %s\n", repoRoot)
	fmt.Printf("Current branch: %s\n", current)
	fmt.Printf("Provider:       %s (%s, %d dims)\n", cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	if cfg.Store.LocalPath != "" {
		fmt.Printf("Store:          local (%s)\n", cfg.Store.LocalPath)
	} else {
		fmt.Printf("Store:          qdrant (%s, collection %s)\n", cfg.Store.QdrantURL, cfg.Store.Collection)
	}
	fmt.Printf("Workers:        %d file / %d vector\n", cfg.Indexer.FileWorkers, cfg.Indexer.VectorWorkers)

	branches, err := states.IndexedBranches(context.Background())
	if err != nil {
		log.Fatalf("Failed to list indexed branches: %v", err)
	}
	if len(branches) == 0 {
		fmt.Println("\nNo branches indexed yet. Run `gitvec index`.")
		return
	}

	fmt.Println("\nIndexed branches:")
	for _, b := range branches {
		head := b.HeadCommit
		if len(head) > 12 {
			head = head[:12]
		}
		marker := " "
		if b.Branch == current {
			marker = "*"
		}
		fmt.Printf("  %s %-30s %-12s %s\n", marker, b.Branch, head,
			b.LastIndexedAt.Format(time.RFC3339))
	}
}

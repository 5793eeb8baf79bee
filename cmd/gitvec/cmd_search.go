package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gitvec/gitvec/internal/config"
	"github.com/gitvec/gitvec/internal/indexer"
)

// handleSearch implements the search subcommand.
func handleSearch(cfg *config.Config, repoRoot string, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)

	var topK int
	var hybrid bool
	fs.IntVar(&topK, "top", 10, "Maximum number of results")
	fs.BoolVar(&hybrid, "hybrid", true, "Blend keyword index hits into the ranking")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    gitvec search [options] "<query>"

DESCRIPTION:
    Embed the query and return the nearest indexed chunks visible on the
    current branch.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    gitvec search "retry backoff for embedding calls"
    gitvec search -top 20 "branch visibility reconciliation"
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Failed to parse arguments: %v", err)
	}
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: search query is required\n\n")
		fs.Usage()
		os.Exit(1)
	}
	query := strings.Join(fs.Args(), " ")

	p, err := buildPipeline(cfg, repoRoot, hybrid)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer p.close()

	results, err := p.indexer.Search(context.Background(), query, indexer.SearchOptions{
		TopK:   topK,
		Hybrid: hybrid,
	})
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, r := range results {
		loc := r.FilePath
		if r.EndLine > 0 {
			loc = fmt.Sprintf("%s:%d-%d", r.FilePath, r.StartLine, r.EndLine)
		}
		fmt.Printf("%2d. %-60s score=%.4f\n", i+1, loc, r.Score)
	}
}

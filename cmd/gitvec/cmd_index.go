package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gitvec/gitvec/internal/config"
	"github.com/gitvec/gitvec/internal/indexer"
)

// handleIndex implements the index subcommand.
func handleIndex(cfg *config.Config, repoRoot string, args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)

	var force bool
	var quiet bool
	fs.BoolVar(&force, "force", false, "Re-embed every file, ignoring recorded state")
	fs.BoolVar(&quiet, "quiet", false, "Suppress the progress bar")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    gitvec index [options]

DESCRIPTION:
    Incrementally index the repository on the current branch. Unchanged
    files are skipped; identical content is embedded only once. Deleted
    files are hidden from the current branch (or removed entirely outside
    a git repository).

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Failed to parse arguments: %v", err)
	}

	p, err := buildPipeline(cfg, repoRoot, true)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer p.close()

	// First Ctrl-C cancels cooperatively; a second one kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress indexer.ProgressFunc
	if !quiet && indexer.ConsoleProgressEnabled() {
		progress = indexer.ConsoleProgress()
	}

	stats, err := p.indexer.RunIndexing(ctx, force, progress)
	if err != nil {
		log.Fatalf("Indexing failed: %v", err)
	}

	if stats.Cancelled {
		fmt.Fprintln(os.Stderr, "Indexing cancelled")
	}
	fmt.Printf("Indexed %d files (%d chunks embedded, %d failed) in %s\n",
		stats.FilesProcessed, stats.ChunksCreated, stats.FailedFiles,
		stats.Duration().Round(10*time.Millisecond))
}

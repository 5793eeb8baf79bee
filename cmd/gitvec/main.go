package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gitvec/gitvec/cmd/gitvec/internal"
	"github.com/gitvec/gitvec/internal/config"
	"github.com/gitvec/gitvec/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		internal.PrintUsage()
		os.Exit(1)
	}

	configPath := ""
	repoPath := ""
	args := os.Args[1:]

	for _, arg := range args {
		if arg == "-h" || arg == "-help" || arg == "--help" {
			internal.PrintUsage()
			os.Exit(0)
		}
		if arg == "-v" || arg == "-version" || arg == "--version" {
			fmt.Printf("gitvec version %s\n", internal.Version)
			os.Exit(0)
		}
	}

	validSubcommands := map[string]bool{
		"index":  true,
		"search": true,
		"status": true,
	}

	subcommandIndex := -1
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") && validSubcommands[arg] {
			subcommandIndex = i
			break
		}
	}
	if subcommandIndex == -1 {
		fmt.Fprintf(os.Stderr, "Error: No subcommand specified\n\n")
		internal.PrintUsage()
		os.Exit(1)
	}

	globalFlags := args[:subcommandIndex]
	for i := 0; i < len(globalFlags); i++ {
		flag := globalFlags[i]
		switch {
		case flag == "-config" || flag == "--config":
			if i+1 < len(globalFlags) {
				configPath = globalFlags[i+1]
				i++
			}
		case flag == "-repo" || flag == "--repo":
			if i+1 < len(globalFlags) {
				repoPath = globalFlags[i+1]
				i++
			}
		case strings.HasPrefix(flag, "-"):
			fmt.Fprintf(os.Stderr, "Error: Unknown global flag: %s\n\n", flag)
			internal.PrintUsage()
			os.Exit(1)
		}
	}

	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		if config.IsConfigNotFound(err) {
			if args[subcommandIndex] == "index" {
				if notFoundErr, ok := err.(*config.ConfigNotFoundError); ok {
					created, createErr := config.WriteDefaultTemplate(notFoundErr.RequestedPath)
					if createErr != nil {
						fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
						fmt.Fprintf(os.Stderr, "Also failed to create default config at %s: %v\n\n", notFoundErr.RequestedPath, createErr)
						internal.PrintConfigExample()
						os.Exit(1)
					}
					if created {
						fmt.Fprintf(os.Stderr, "Created default config at %s\n", notFoundErr.RequestedPath)
					}
					fmt.Fprintln(os.Stderr, "Please update embedding.api_key in the config file and rerun `gitvec index`.")
					os.Exit(1)
				}
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			internal.PrintConfigExample()
			os.Exit(1)
		}
		log.Fatalf("Failed to load config: %v\n", err)
	}

	repoRoot, err := internal.ResolveRepoRoot(repoPath)
	if err != nil {
		log.Fatalf("Failed to resolve repository root: %v\n", err)
	}

	// Per-repository defaults for everything the config leaves unset. A
	// configured Qdrant URL disables the local store default.
	dataDir, err := internal.RepoDataDir(repoRoot)
	if err != nil {
		log.Fatalf("Failed to determine data directory: %v\n", err)
	}
	if cfg.Store.LocalPath == "" && cfg.Store.QdrantURL == "" {
		cfg.Store.LocalPath = filepath.Join(dataDir, "points")
	}
	if cfg.Indexer.StatePath == "" {
		cfg.Indexer.StatePath = filepath.Join(dataDir, "state")
	}
	if cfg.Store.TextIndexPath == "" {
		cfg.Store.TextIndexPath = filepath.Join(dataDir, "textindex")
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Console)

	subcommand := args[subcommandIndex]
	subcommandArgs := args[subcommandIndex+1:]

	switch subcommand {
	case "index":
		handleIndex(cfg, repoRoot, subcommandArgs)
	case "search":
		handleSearch(cfg, repoRoot, subcommandArgs)
	case "status":
		handleStatus(cfg, repoRoot, subcommandArgs)
	default:
		fmt.Printf("Unknown subcommand: %s\n\n", subcommand)
		internal.PrintUsage()
		os.Exit(1)
	}
}

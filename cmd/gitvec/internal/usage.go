package internal

import (
	"fmt"
	"os"
)

const Version = "0.3.1"

// PrintUsage prints the top-level help text to stderr.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `gitvec - Branch-Aware Semantic Code Index

Version: %s

USAGE:
    gitvec [global options] <command> [command options]

GLOBAL OPTIONS:
    -config <path>
        Path to config file (default: ~/.gitvec/config/gitvec.yaml)

    -repo <path>
        Override repository path (default: current directory)

    -v, -version
        Show version information

    -h, -help
        Show this help message

COMMANDS:
    index
        Incrementally index the repository on the current branch

    search
        Search indexed chunks with a natural language query

    status
        Show indexed branches and current pipeline configuration

EXAMPLES:
    # Index current repository
    gitvec index

    # Force a full re-embed
    gitvec index -force

    # Search on the current branch
    gitvec search "where is the retry backoff computed"
`, Version)
}

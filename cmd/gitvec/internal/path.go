package internal

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gitvec/gitvec/internal/gittopo"
)

// ResolveRepoRoot resolves the absolute path of the repository root. Inside
// a git repository that is the directory holding .git; elsewhere it is the
// absolute form of repoPath itself.
func ResolveRepoRoot(repoPath string) (string, error) {
	root := repoPath
	if root == "" {
		root = "."
	}
	absPath, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if gitRoot, err := gittopo.FindRoot(absPath); err == nil && gitRoot != "" {
		absPath = gitRoot
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}
	return absPath, nil
}

// RepoDataDir returns the per-repository data directory under
// ~/.gitvec/data, keyed by repo name plus a path hash so two checkouts of
// the same project never share state.
func RepoDataDir(repoRoot string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	repoName := sanitizeRepoName(filepath.Base(repoRoot))
	hash := sha1.Sum([]byte(repoRoot))
	suffix := hex.EncodeToString(hash[:])[:12]
	return filepath.Join(homeDir, ".gitvec", "data", fmt.Sprintf("%s-%s", repoName, suffix)), nil
}

func sanitizeRepoName(name string) string {
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "repo"
	}
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	if b.Len() == 0 {
		return "repo"
	}
	return b.String()
}
